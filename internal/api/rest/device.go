package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenGripCore/internal/auth"
	"github.com/KevinKickass/OpenGripCore/internal/commands"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CommandRequest struct {
	Type  string   `json:"type" binding:"required"`
	Value *float64 `json:"value,omitempty" binding:"omitempty,min=0,max=100"`
}

// GET /api/v1/device/status
func (s *Server) getDeviceStatus(c *gin.Context) {
	st := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"device_id": st.DeviceID,
		"link":      st.Link,
		"actuator":  st.Actuator,
		"loop":      st.Loop,
		"outputs":   st.Outputs,
	})
}

// GET /api/v1/device/telemetry
func (s *Server) getTelemetry(c *gin.Context) {
	sample, ok := s.lm.LastTelemetry()
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.ErrCodeBadRequest, "No telemetry sampled yet", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sample":  sample,
		"publish": s.lm.GetCurrentStatus().Publish,
	})
}

// POST /api/v1/device/command
// The command is queued for the control loop, which executes it in its next
// cycle. It is never executed on the request goroutine.
func (s *Server) submitCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	cmd, err := s.lm.SubmitCommand(req.Type, req.Value)
	switch {
	case errors.Is(err, commands.ErrUnknownCommand):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeBadRequest, "Unknown command type", err.Error()))
		return
	case errors.Is(err, commands.ErrLocalQueueFull):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.ErrCodeQueueFull, "Command queue full", nil))
		return
	case err != nil:
		s.logger.Error("Failed to submit command", zap.String("type", req.Type), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrCodeInternal, "Failed to submit command", err.Error()))
		return
	}

	s.logger.Info("Operator command accepted",
		zap.String("command_id", cmd.ID),
		zap.String("command", cmd.Kind.String()),
		zap.String("principal", auth.Principal(c)))

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Command accepted",
		"command": cmd,
	})
}
