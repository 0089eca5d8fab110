package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	ctxPermissions = "permissions"
	ctxPrincipal   = "principal"
)

// AuthMiddleware validates the bearer token. WebSocket clients that cannot
// set headers may pass it as ?token=.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.ErrCodeUnauthorized, "missing or malformed authorization header", nil))
			return
		}

		principal, permissions, err := a.ValidateToken(c.Request.Context(), token, c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.ErrCodeUnauthorized, "invalid or expired token", nil))
			return
		}

		c.Set(ctxPermissions, permissions)
		c.Set(ctxPrincipal, principal)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse(types.ErrCodeForbidden, "insufficient permissions",
					map[string]interface{}{"required": string(required)}))
			return
		}
		c.Next()
	}
}

func HasPermission(c *gin.Context, required Permission) bool {
	perms, ok := c.Get(ctxPermissions)
	if !ok {
		return false
	}
	for _, p := range perms.([]Permission) {
		if p == required {
			return true
		}
	}
	return false
}

// Principal is the username or "machine" of the authenticated caller.
func Principal(c *gin.Context) string {
	return c.GetString(ctxPrincipal)
}
