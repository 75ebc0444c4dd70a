package ctxutil

import "context"

type traceDataKey struct{}

// TraceData is the per-request correlation record. SessionID is set when the
// request addresses a Q&A session, so every log line for that request and any
// inference it starts can be joined to the session.
type TraceData struct {
	TraceID   string
	RequestID string
	SessionID string
	Route     string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// SessionID returns the session the request addresses, or "".
func SessionID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil {
		return td.SessionID
	}
	return ""
}

// LogFields returns trace_id / request_id / session_id pairs for the logger.
func LogFields(ctx context.Context) []interface{} {
	td := GetTraceData(ctx)
	if td == nil {
		return nil
	}
	var out []interface{}
	if td.TraceID != "" {
		out = append(out, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		out = append(out, "request_id", td.RequestID)
	}
	if td.SessionID != "" {
		out = append(out, "session_id", td.SessionID)
	}
	return out
}
