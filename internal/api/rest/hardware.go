package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/hardware/profile
func (s *Server) getHardwareProfile(c *gin.Context) {
	profile := s.lm.HardwareProfile()
	if profile == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.ErrCodeInternal, "Hardware not initialized", nil))
		return
	}

	st := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"profile":     profile.HardwareProfile,
		"connection":  profile.Connection,
		"inputs":      profile.Inputs,
		"outputs":     profile.Outputs,
		"calibration": profile.Calibration,
		"state":       st.Outputs,
	})
}

// GET /api/v1/hardware/profiles
func (s *Server) listHardwareProfiles(c *gin.Context) {
	profiles := s.lm.HardwareProfiles()
	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"count":    len(profiles),
		"active":   s.lm.Config().Hardware.Profile,
	})
}
