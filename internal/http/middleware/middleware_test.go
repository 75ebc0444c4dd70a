package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/devcolor-ask/internal/observability"
	"github.com/yungbote/devcolor-ask/internal/platform/ctxutil"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
)

func TestTraceContextKeepsIncomingRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var seen *ctxutil.TraceData
	r.GET("/x", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen == nil || seen.RequestID != "req-1" || seen.TraceID == "" {
		t.Fatalf("trace data=%+v", seen)
	}
	if rec.Header().Get("X-Request-Id") != "req-1" || rec.Header().Get("X-Trace-Id") != seen.TraceID {
		t.Fatalf("headers=%v", rec.Header())
	}
}

func TestRequestLoggerLevelByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)

	r := gin.New()
	r.Use(AttachTraceContext(), RequestLogger(logger.NewWithCore(core)))
	r.GET("/sessions/:id/state", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/sessions/abc/state", "/boom", "/ok"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("HTTP request").All()
	if len(entries) != 3 {
		t.Fatalf("entries=%d", len(entries))
	}
	wantLevels := []zapcore.Level{zap.WarnLevel, zap.ErrorLevel, zap.DebugLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level=%s want %s", i, e.Level, wantLevels[i])
		}
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/sessions/:id/state" || fields["request_id"] == nil {
		t.Fatalf("fields=%v", fields)
	}
	if s, _ := fields["session_id"].(string); !strings.HasPrefix(s, "hash:") {
		t.Fatalf("session_id not hashed: %v", fields["session_id"])
	}
}

func TestLimitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(LimitBody(4))
	r.POST("/x", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("abcdef")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("abc")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestTraceContextCarriesSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var seen *ctxutil.TraceData
	r.POST("/sessions/:id/ask", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/sessions/s-1/ask", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("x", 200))
	r.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil || seen.SessionID != "s-1" || seen.Route != "/sessions/:id/ask" {
		t.Fatalf("trace data=%+v", seen)
	}
	if len(seen.RequestID) > maxIncomingID {
		t.Fatalf("oversized request id kept: %d bytes", len(seen.RequestID))
	}
}

func TestRouteGroup(t *testing.T) {
	for route, want := range map[string]string{
		"/":                    GroupPage,
		"/sessions/:id/input":  GroupSession,
		"/sessions/:id/state":  GroupSession,
		"/sessions/:id/events": GroupStream,
		"/healthz":             GroupHealth,
		"/metrics":             GroupMetrics,
		"":                     GroupUnknown,
	} {
		if got := RouteGroup(route); got != want {
			t.Fatalf("RouteGroup(%q)=%q want %q", route, got, want)
		}
	}
}

func TestMetricsLabelsByGroup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.NewMetrics()
	r := gin.New()
	r.Use(Metrics(m))
	r.POST("/sessions/:id/input", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sessions/abc/input", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	var buf strings.Builder
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, want := range []string{
		`ask_http_requests_total{group="session",method="POST",route="/sessions/:id/input",status="204"} 1.000000`,
		`ask_http_requests_total{group="unknown",method="GET",route="unknown",status="404"} 1.000000`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, buf.String())
		}
	}
}
