package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const HealthPath = "/healthz"

// ReadinessMiddleware answers the health probe and returns 503 for everything
// else until ready reports true. The server listens before the database is up.
func ReadinessMiddleware(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == HealthPath {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}
		c.Next()
	}
}
