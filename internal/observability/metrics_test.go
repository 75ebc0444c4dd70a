package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP("page", "GET", "/", "200", 20*time.Millisecond)
	m.AskInflightInc()
	m.ObserveResolution(OutcomeSuccess, 1500*time.Millisecond)
	m.IncSubmission(OutcomeIgnoredEmpty)
	m.SetSessions(3)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`ask_http_requests_total{group="page",method="GET",route="/",status="200"} 1.000000`,
		`ask_http_request_duration_seconds_bucket{group="page",method="GET",route="/",le="0.025"} 1`,
		`ask_submissions_total{outcome="success"} 1.000000`,
		`ask_submissions_total{outcome="ignored_empty"} 1.000000`,
		`ask_inference_duration_seconds_bucket{outcome="success",le="2"} 1`,
		`ask_inference_duration_seconds_bucket{outcome="success",le="1"} 0`,
		`ask_inference_duration_seconds_count{outcome="success"} 1`,
		"ask_inflight 0.000000",
		"ask_sessions 3.000000",
		"# TYPE ask_inference_duration_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("page", "GET", "/", "200", time.Second)
	m.HTTPInflightInc()
	m.HTTPInflightDec()
	m.AskInflightInc()
	m.ObserveResolution(OutcomeTransportError, time.Second)
	m.SetSessions(1)
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil write: %v", err)
	}

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestInitRespectsEnv(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "")
	if Init() != nil {
		t.Fatalf("expected nil metrics when disabled")
	}
}

func TestLabelEscaping(t *testing.T) {
	c := NewCounterVec("x_total", "x", []string{"route"})
	c.Inc("a\"b")
	if got := c.Value("a\"b"); got != 1 {
		t.Fatalf("value=%f", got)
	}
	var buf bytes.Buffer
	_ = c.WritePrometheus(&buf)
	if !strings.Contains(buf.String(), `route="a\"b"`) {
		t.Fatalf("escaping: %s", buf.String())
	}
}
