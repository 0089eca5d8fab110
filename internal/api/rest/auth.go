package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/auth"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/gin-gonic/gin"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"` // seconds
	ExpiresAt   time.Time `json:"expires_at"`
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrCodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	token, expires, err := s.authService.LoginOperator(
		c.Request.Context(),
		req.Username,
		req.Password,
		c.ClientIP(),
		c.GetHeader("User-Agent"),
	)
	if err != nil {
		if errors.Is(err, auth.ErrLocked) {
			c.JSON(http.StatusLocked, types.NewErrorResponse(types.ErrCodeLocked, "Too many failed logins", err.Error()))
			return
		}
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.ErrCodeUnauthorized, "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Seconds()),
		ExpiresAt:   expires,
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentPrincipal(c *gin.Context) {
	permissions, _ := c.Get("permissions")
	c.JSON(http.StatusOK, gin.H{
		"principal":   auth.Principal(c),
		"permissions": permissions,
	})
}
