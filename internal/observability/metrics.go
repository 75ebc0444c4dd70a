package observability

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/yungbote/devcolor-ask/internal/platform/envutil"
)

// Submission outcomes recorded by the query controller.
const (
	OutcomeSuccess        = "success"
	OutcomeTransportError = "transport_error"
	OutcomeProtocolError  = "protocol_error"
	OutcomeIgnoredEmpty   = "ignored_empty"
	OutcomeIgnoredBusy    = "ignored_in_flight"
)

type Metrics struct {
	httpRequests *CounterVec
	httpLatency  *HistogramVec
	httpInflight *Gauge
	submissions  *CounterVec
	inference    *HistogramVec
	askInflight  *Gauge
	sessions     *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Init returns the process-wide metrics, or nil when METRICS_ENABLED is off.
// All methods are safe on a nil receiver.
func Init() *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
	})
	return instance
}

func NewMetrics() *Metrics {
	return &Metrics{
		httpRequests: NewCounterVec("ask_http_requests_total", "HTTP requests by route group/method/route/status.", []string{"group", "method", "route", "status"}),
		httpLatency: NewHistogramVec(
			"ask_http_request_duration_seconds",
			"HTTP request latency in seconds by route group/method/route.",
			[]string{"group", "method", "route"},
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		),
		httpInflight: NewGauge("ask_http_inflight_requests", "In-flight HTTP requests."),
		submissions:  NewCounterVec("ask_submissions_total", "Question submissions by outcome.", []string{"outcome"}),
		inference: NewHistogramVec(
			"ask_inference_duration_seconds",
			"Time from submit to resolution in seconds by outcome.",
			[]string{"outcome"},
			[]float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		),
		askInflight: NewGauge("ask_inflight", "Questions waiting on the inference server."),
		sessions:    NewGauge("ask_sessions", "Open page sessions."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.httpRequests, m.httpLatency, m.httpInflight,
		m.submissions, m.inference, m.askInflight, m.sessions,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// ObserveHTTP records one finished request. group is the page area the route
// belongs to (page, session, stream, ...).
func (m *Metrics) ObserveHTTP(group, method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if group == "" {
		group = "unknown"
	}
	m.httpRequests.Inc(group, method, route, status)
	m.httpLatency.Observe(dur.Seconds(), group, method, route)
}

func (m *Metrics) HTTPInflightInc() {
	if m == nil {
		return
	}
	m.httpInflight.Inc()
}

func (m *Metrics) HTTPInflightDec() {
	if m == nil {
		return
	}
	m.httpInflight.Dec()
}

func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.Inc(outcome)
}

// ObserveResolution records a finished request and drops the in-flight gauge.
func (m *Metrics) ObserveResolution(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.submissions.Inc(outcome)
	m.inference.Observe(dur.Seconds(), outcome)
	m.askInflight.Dec()
}

func (m *Metrics) AskInflightInc() {
	if m == nil {
		return
	}
	m.askInflight.Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
