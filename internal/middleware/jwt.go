package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/metinemredonmez/podcast-app-sub001/internal/auth"
	"github.com/metinemredonmez/podcast-app-sub001/pkg/response"
)

const (
	// ContextUserID is the key for the user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for the user role in gin context.
	ContextUserRole = "user_role"
)

// JWT validates the access token and puts the claims in the request context.
// Tokens arrive as a Bearer header, or as a "token" query parameter for
// WebSocket upgrades where browsers cannot set headers.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			response.Unauthorized(c, "missing authorization")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
