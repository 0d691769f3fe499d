package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/metrics"
)

// Deadline derives a context bounded by d. A non-positive d only adds
// cancellation.
func Deadline(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// RequestTimeout bounds every request of a route group by d. Handlers see the
// deadline on the request context and are expected to give up on it; one that
// returns past the deadline without answering gets a 504 naming the limit.
// Overruns are logged and counted per route either way.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ctx, cancel := Deadline(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		route := c.FullPath()
		written := c.Writer.Written()
		metrics.RecordRequestTimeout(route, written)
		logger.WithComponent("api").Warnf("%s %s ran past its %v deadline", c.Request.Method, route, d)
		if written {
			return
		}
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
			"error":   "request timeout",
			"timeout": d.String(),
		})
	}
}
