package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenLineSim/internal/types"
)

// AuthMiddleware validates bearer tokens and stashes the caller's identity
// and permissions in the request context. When no accounts are configured,
// every request passes with full permissions (development mode).
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Set("permissions", []Permission{PermOperator, PermAdmin})
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.CodeUnauthorized, "missing authorization header", nil))
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.CodeUnauthorized, "invalid authorization header format", nil))
			c.Abort()
			return
		}

		claims, permissions, err := a.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.CodeUnauthorized, "invalid or expired token", nil))
			c.Abort()
			return
		}

		c.Set("permissions", permissions)
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get("permissions")
		if !exists {
			c.JSON(http.StatusForbidden, types.NewErrorResponse(
				types.CodeForbidden, "no permissions found", nil))
			c.Abort()
			return
		}

		permissions, ok := perms.([]Permission)
		if !ok {
			c.JSON(http.StatusForbidden, types.NewErrorResponse(
				types.CodeForbidden, "no permissions found", nil))
			c.Abort()
			return
		}

		for _, p := range permissions {
			if p == required {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, types.NewErrorResponse(
			types.CodeForbidden, "insufficient permissions",
			map[string]string{"required": string(required)}))
		c.Abort()
	}
}
