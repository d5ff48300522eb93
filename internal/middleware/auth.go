package middleware

import (
	"net/http"
	"strings"

	"pesagate/config"
	"pesagate/internal/auth"

	"github.com/gin-gonic/gin"
)

// AuthRequired validates the operator JWT and sets role and claims in context.
// It passes every request through when operator auth is not configured.
func AuthRequired(cfg *config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AdminEnabled() {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid authorization format"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid or expired token"})
			return
		}
		c.Set("role", claims.Role)
		c.Set("claims", claims)
		c.Next()
	}
}
