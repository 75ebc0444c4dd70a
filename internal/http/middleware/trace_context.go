package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/devcolor-ask/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"

	maxIncomingID = 128
)

// Route groups label requests by what part of the page they serve.
const (
	GroupPage    = "page"
	GroupSession = "session"
	GroupStream  = "stream"
	GroupHealth  = "health"
	GroupMetrics = "metrics"
	GroupUnknown = "unknown"
)

// RouteGroup maps a gin route pattern to its group.
func RouteGroup(route string) string {
	switch {
	case route == "/":
		return GroupPage
	case route == "/sessions/:id/events":
		return GroupStream
	case strings.HasPrefix(route, "/sessions/"):
		return GroupSession
	case route == "/healthz":
		return GroupHealth
	case route == "/metrics":
		return GroupMetrics
	default:
		return GroupUnknown
	}
}

// AttachTraceContext stamps each request with trace and request ids and, on
// session routes, the addressed session id. The session id also lands on the
// active span so traces can be searched by session.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		reqID := incomingID(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		traceID := incomingID(c.GetHeader(headerTraceID))
		if traceID == "" {
			if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			}
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		td := &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
			SessionID: c.Param("id"),
			Route:     c.FullPath(),
		}
		if td.SessionID != "" {
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("ask.session_id", td.SessionID))
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(ctx, td))
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// incomingID accepts a client supplied id only if it is short and printable.
func incomingID(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxIncomingID {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}
