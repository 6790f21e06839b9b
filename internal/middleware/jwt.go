package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-live/publisher/internal/auth"
	"github.com/aura-live/publisher/pkg/response"
)

const (
	// ContextSubject is the key for the operator subject in gin context.
	ContextSubject = "operator_subject"
	// ContextRole is the key for the operator role in gin context.
	ContextRole = "operator_role"
)

// JWT returns a middleware that validates the bearer token and sets operator claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		authenticate(c, jwtService, strings.TrimSpace(parts[1]))
	}
}

// JWTQuery validates the token query parameter. Browsers cannot set headers
// on a WebSocket handshake.
func JWTQuery(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			response.Unauthorized(c, "token required")
			c.Abort()
			return
		}
		authenticate(c, jwtService, token)
	}
}

func authenticate(c *gin.Context, jwtService *auth.JWTService, token string) {
	claims, err := jwtService.Validate(token)
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		c.Abort()
		return
	}
	c.Set(ContextSubject, claims.Subject)
	c.Set(ContextRole, claims.Role)
	c.Next()
}
