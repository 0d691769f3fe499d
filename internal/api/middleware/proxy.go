package middleware

import (
	"github.com/gin-gonic/gin"
)

// ProxyIntercept hands requests that arrive in proxy form (an absolute URL on
// the request line) to h and skips normal routing for them. Requests for the
// server's own paths pass through.
func ProxyIntercept(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.Request.URL.IsAbs() {
			c.Next()
			return
		}
		h(c)
		c.Abort()
	}
}
