package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/devcolor-ask/internal/config"
	"github.com/yungbote/devcolor-ask/internal/ollama"
	"github.com/yungbote/devcolor-ask/internal/platform/ctxutil"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
)

type genCall struct {
	model  string
	prompt string
}

type fakeGen struct {
	mu    sync.Mutex
	calls []genCall
	gate  chan struct{}
	text  string
	err   error
}

func (f *fakeGen) Generate(ctx context.Context, model string, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, genCall{model: model, prompt: prompt})
	gate := f.gate
	text, err := f.text, f.err
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

func (f *fakeGen) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGen) set(text string, err error) {
	f.mu.Lock()
	f.text, f.err = text, err
	f.mu.Unlock()
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func observed() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return logger.NewWithCore(core), logs
}

func TestSubmitEmptyQuestionIsNoop(t *testing.T) {
	gen := &fakeGen{text: "X"}
	log, logs := observed()
	c := New(gen, Options{Model: "llama3.3", Log: log})

	notified := 0
	c.Subscribe(func(State) { notified++ })

	if c.OnSubmit(context.Background()) {
		t.Fatalf("expected empty submit to be ignored")
	}
	c.Wait()
	if gen.callCount() != 0 {
		t.Fatalf("calls=%d", gen.callCount())
	}
	if got := c.State(); got != (State{}) {
		t.Fatalf("state changed: %+v", got)
	}
	if notified != 0 {
		t.Fatalf("observers notified %d times", notified)
	}
	if logs.Len() != 0 {
		t.Fatalf("unexpected logs: %v", logs.All())
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	gen := &fakeGen{text: "X", gate: make(chan struct{})}
	c := New(gen, Options{Model: "llama3.3"})

	c.OnInputChange("What is A* Program?")
	if !c.OnSubmit(context.Background()) {
		t.Fatalf("expected submit to start")
	}
	if !c.State().InFlight {
		t.Fatalf("expected in flight right after submit")
	}

	c.OnInputChange("next question")
	if st := c.State(); !st.InFlight || st.Question != "next question" {
		t.Fatalf("input during flight: %+v", st)
	}

	close(gen.gate)
	c.Wait()

	want := State{Question: "next question", Answer: "X"}
	if got := c.State(); got != want {
		t.Fatalf("state=%+v want %+v", got, want)
	}
	if gen.callCount() != 1 {
		t.Fatalf("calls=%d", gen.callCount())
	}
	call := gen.calls[0]
	if call.model != "llama3.3" {
		t.Fatalf("model=%q", call.model)
	}
	suffix := "\n\nQuestion: What is A* Program?\n\nProvide a succinct answer in plain language"
	if !strings.HasSuffix(call.prompt, suffix) {
		t.Fatalf("prompt does not use the question captured at submit: %q", call.prompt[len(call.prompt)-120:])
	}
	if !strings.Contains(call.prompt, "Context:\n") {
		t.Fatalf("prompt missing context section")
	}
}

func TestSubmitWhileInFlightIsIgnored(t *testing.T) {
	gen := &fakeGen{text: "first", gate: make(chan struct{})}
	c := New(gen, Options{Model: "m"})

	c.OnInputChange("q")
	if !c.OnSubmit(context.Background()) {
		t.Fatalf("first submit should start")
	}
	if c.OnSubmit(context.Background()) {
		t.Fatalf("second submit should be ignored")
	}
	close(gen.gate)
	c.Wait()

	if gen.callCount() != 1 {
		t.Fatalf("calls=%d", gen.callCount())
	}
	if c.State().Answer != "first" {
		t.Fatalf("answer=%q", c.State().Answer)
	}
}

func TestTransportErrorSetsErrorMessage(t *testing.T) {
	gen := &fakeGen{err: &ollama.HTTPError{StatusCode: 500, Body: "boom"}}
	log, logs := observed()
	c := New(gen, Options{Model: "m", Log: log})

	c.OnInputChange("q")
	c.OnSubmit(context.Background())
	c.Wait()

	st := c.State()
	if st.Answer != ErrorMessage || st.InFlight {
		t.Fatalf("state=%+v", st)
	}
	errs := logs.FilterLevelExact(zap.ErrorLevel).All()
	if len(errs) != 1 {
		t.Fatalf("error logs=%d", len(errs))
	}
	if errs[0].Message != "Error communicating with Ollama" {
		t.Fatalf("message=%q", errs[0].Message)
	}
	if got, _ := errs[0].ContextMap()["error"].(string); !strings.Contains(got, "status=500") {
		t.Fatalf("error field=%v", errs[0].ContextMap()["error"])
	}
}

func TestConnectionRefusedSetsErrorMessage(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")
	})}
	client, err := ollama.NewWithHTTPClient(config.OllamaConfig{
		BaseURL:      "http://localhost:11434",
		GeneratePath: "/api/generate",
		Model:        "llama3.3",
	}, httpClient)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	c := New(client, Options{Model: "llama3.3"})

	c.OnInputChange("q")
	c.OnSubmit(context.Background())
	c.Wait()

	if got := c.State(); got.Answer != ErrorMessage || got.InFlight {
		t.Fatalf("state=%+v", got)
	}
}

func TestMalformedResponseKeepsAnswer(t *testing.T) {
	body := `{"response":"earlier"}`
	httpClient := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	})}
	client, err := ollama.NewWithHTTPClient(config.OllamaConfig{
		BaseURL:      "http://localhost:11434",
		GeneratePath: "/api/generate",
		Model:        "llama3.3",
	}, httpClient)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	log, logs := observed()
	c := New(client, Options{Model: "llama3.3", Log: log})

	c.OnInputChange("q")
	c.OnSubmit(context.Background())
	c.Wait()
	if c.State().Answer != "earlier" {
		t.Fatalf("answer=%q", c.State().Answer)
	}

	body = `{"foo":"bar"}`
	c.OnSubmit(context.Background())
	c.Wait()

	st := c.State()
	if st.Answer != "earlier" || st.InFlight {
		t.Fatalf("state=%+v", st)
	}
	if n := logs.FilterLevelExact(zap.WarnLevel).Len(); n != 1 {
		t.Fatalf("warn logs=%d", n)
	}
	if n := logs.FilterLevelExact(zap.ErrorLevel).Len(); n != 0 {
		t.Fatalf("error logs=%d", n)
	}
}

func TestMalformedResponseErrorPolicy(t *testing.T) {
	gen := &fakeGen{text: "earlier"}
	log, logs := observed()
	c := New(gen, Options{Model: "m", Log: log, Malformed: ShowError})

	c.OnInputChange("q")
	c.OnSubmit(context.Background())
	c.Wait()

	gen.set("", &ollama.ProtocolError{Reason: "missing response field"})
	c.OnSubmit(context.Background())
	c.Wait()

	if got := c.State().Answer; got != MalformedMessage {
		t.Fatalf("answer=%q", got)
	}
	if n := logs.FilterLevelExact(zap.ErrorLevel).Len(); n != 1 {
		t.Fatalf("error logs=%d", n)
	}
}

func TestSubscribersSeeEveryMutation(t *testing.T) {
	gen := &fakeGen{text: "X", gate: make(chan struct{})}
	c := New(gen, Options{Model: "m"})

	var mu sync.Mutex
	var seen []State
	cancel := c.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	c.OnInputChange("q")
	c.OnSubmit(context.Background())
	close(gen.gate)
	c.Wait()

	want := []State{
		{Question: "q"},
		{Question: "q", InFlight: true},
		{Question: "q", Answer: "X"},
	}
	mu.Lock()
	got := append([]State(nil), seen...)
	mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("snapshots=%+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot %d=%+v want %+v", i, got[i], want[i])
		}
	}

	cancel()
	cancel()
	c.OnInputChange("after")
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("cancelled subscriber still notified")
	}
}

func TestRequestContextCancelDoesNotAbortCall(t *testing.T) {
	gen := &fakeGen{text: "X", gate: make(chan struct{})}
	c := New(gen, Options{Model: "m"})

	reqCtx, cancel := context.WithCancel(context.Background())
	c.OnInputChange("q")
	c.OnSubmit(reqCtx)
	cancel()
	close(gen.gate)
	c.Wait()

	if got := c.State().Answer; got != "X" {
		t.Fatalf("answer=%q", got)
	}
}

func TestBaseContextCancelAbortsCall(t *testing.T) {
	gen := &fakeGen{text: "X", gate: make(chan struct{})}
	base, cancel := context.WithCancel(context.Background())
	c := New(gen, Options{Model: "m", BaseContext: base})

	c.OnInputChange("q")
	c.OnSubmit(context.Background())
	cancel()
	c.Wait()

	if got := c.State(); got.Answer != ErrorMessage || got.InFlight {
		t.Fatalf("state=%+v", got)
	}
}

func TestSequencedInputDropsStaleEvents(t *testing.T) {
	c := New(&fakeGen{}, Options{Model: "m"})

	if !c.OnSequencedInput("wh", 2) {
		t.Fatalf("first sequenced input rejected")
	}
	if c.OnSequencedInput("w", 1) {
		t.Fatalf("older input applied")
	}
	if c.OnSequencedInput("dup", 2) {
		t.Fatalf("repeated sequence applied")
	}
	if got := c.State().Question; got != "wh" {
		t.Fatalf("question=%q", got)
	}
	if !c.OnSequencedInput("what", 3) || c.State().Question != "what" {
		t.Fatalf("newer input not applied: %q", c.State().Question)
	}
	if got := c.LastSeq(); got != 3 {
		t.Fatalf("last seq=%d", got)
	}

	c.OnInputChange("plain")
	if got := c.State().Question; got != "plain" {
		t.Fatalf("unsequenced input not applied: %q", got)
	}
}

func TestSubscriberMayReadState(t *testing.T) {
	c := New(&fakeGen{}, Options{Model: "m"})

	var seen []string
	c.Subscribe(func(s State) {
		seen = append(seen, c.State().Question+"/"+s.Question)
	})
	c.OnInputChange("a")
	c.OnInputChange("ab")

	if len(seen) != 2 || seen[0] != "a/a" || seen[1] != "ab/ab" {
		t.Fatalf("seen=%v", seen)
	}
}

func TestFailureLogCarriesRequestTrace(t *testing.T) {
	gen := &fakeGen{err: errors.New("connection refused")}
	log, logs := observed()
	c := New(gen, Options{Model: "m", Log: log})

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{RequestID: "req-7", SessionID: "s-7"})
	c.OnInputChange("q")
	c.OnSubmit(ctx)
	c.Wait()

	errs := logs.FilterMessage("Error communicating with Ollama").All()
	if len(errs) != 1 {
		t.Fatalf("error logs=%d", len(errs))
	}
	fields := errs[0].ContextMap()
	if fields["request_id"] != "req-7" {
		t.Fatalf("fields=%v", fields)
	}
	if s, _ := fields["session_id"].(string); !strings.HasPrefix(s, "hash:") {
		t.Fatalf("session_id=%v", fields["session_id"])
	}
}
