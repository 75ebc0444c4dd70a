package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/devcolor-ask/internal/observability"
)

// Metrics counts and times requests by route group. Event streams are long
// lived, so their latency is the stream's lifetime rather than a response time.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPInflightInc()
		defer m.HTTPInflightDec()

		c.Next()

		route := c.FullPath()
		group := RouteGroup(route)
		if route == "" {
			route = GroupUnknown
		}
		status := strconv.Itoa(c.Writer.Status())
		m.ObserveHTTP(group, c.Request.Method, route, status, time.Since(start))
	}
}
