package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const errUnauthorized = "Unauthorized"

// AdminAuth guards admin routes with the shared API key carried in the
// X-API-Key header. The comparison is constant-time.
func AdminAuth(apiKey string) gin.HandlerFunc {
	key := []byte(apiKey)
	return func(c *gin.Context) {
		provided := []byte(c.GetHeader("X-API-Key"))
		if subtle.ConstantTimeCompare(provided, key) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		c.Next()
	}
}
