package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tillpoint/possync/internal/utils"
)

// AuthMiddleware validates the backend-issued terminal token on every
// request from the POS UI.
type AuthMiddleware struct {
	secret string
}

// NewAuthMiddleware constructs an AuthMiddleware with the shared terminal secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: secret}
}

func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.Error(c, 401, "UNAUTHORIZED", "Missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.Error(c, 401, "UNAUTHORIZED", "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := utils.ValidateTerminalToken(parts[1], m.secret)
		if err != nil {
			utils.Error(c, 401, "INVALID_TOKEN", "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set("terminal_id", claims.TerminalID)
		c.Set("store_id", claims.StoreID)
		c.Next()
	}
}
