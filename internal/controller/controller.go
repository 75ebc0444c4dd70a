// Package controller implements the query form's state machine.
//
// A Controller holds three observable values: the question being typed, the
// last answer shown and whether a request is in flight. It moves between two
// states:
//
//	Idle --OnSubmit (question non-empty)--> Submitting
//	Submitting --request resolved (any outcome)--> Idle
//
// OnInputChange is accepted in both states. Every mutation is pushed to
// subscribers so a view can re-render from the new snapshot.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/devcolor-ask/internal/knowledge"
	"github.com/yungbote/devcolor-ask/internal/observability"
	"github.com/yungbote/devcolor-ask/internal/ollama"
	"github.com/yungbote/devcolor-ask/internal/platform/ctxutil"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
	"github.com/yungbote/devcolor-ask/internal/prompt"
)

const (
	// ErrorMessage replaces the answer when the inference server cannot be
	// reached or answers with a non-2xx status.
	ErrorMessage = "Error communicating with Ollama"

	// MalformedMessage replaces the answer for unusable replies under
	// ShowError.
	MalformedMessage = "Received an unexpected response from Ollama"
)

// MalformedPolicy decides what happens to the answer when the server replies
// 2xx with a body that has no string "response" field.
type MalformedPolicy string

const (
	KeepAnswer MalformedPolicy = "keep"
	ShowError  MalformedPolicy = "error"
)

type State struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	InFlight bool   `json:"in_flight"`
}

type Generator interface {
	Generate(ctx context.Context, model string, prompt string) (string, error)
}

type Options struct {
	Model string

	// Context is the knowledge base placed in every prompt. Defaults to
	// knowledge.Context().
	Context string

	Malformed MalformedPolicy

	// BaseContext bounds outbound calls. Cancelling it aborts pending
	// requests; the HTTP request that triggered a submit does not.
	BaseContext context.Context

	// Pending, when set, also tracks in-flight work so a whole registry can
	// be drained on shutdown.
	Pending *sync.WaitGroup

	Log     *logger.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

type Controller struct {
	gen  Generator
	opts Options
	log  *logger.Logger

	mu         sync.Mutex
	state      State
	lastActive time.Time
	lastSeq    uint64
	observers  map[int]func(State)
	nextObs    int

	// Observers receive snapshots in mutation order: each mutation takes a
	// ticket under mu and is delivered when serving reaches it.
	nextTicket uint64
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	serving    uint64

	pending sync.WaitGroup
}

func New(gen Generator, opts Options) *Controller {
	if opts.Context == "" {
		opts.Context = knowledge.Context()
	}
	if opts.Malformed == "" {
		opts.Malformed = KeepAnswer
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	c := &Controller{
		gen:        gen,
		opts:       opts,
		log:        log.With("component", "QueryController"),
		lastActive: opts.Now(),
		observers:  map[int]func(State){},
	}
	c.notifyCond = sync.NewCond(&c.notifyMu)
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActive is the time of the last input, submit or resolution.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// LastSeq is the highest input sequence applied so far. A page rendered for
// an existing session continues numbering from it.
func (c *Controller) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Touch restarts the idle clock without changing state.
func (c *Controller) Touch() {
	c.mu.Lock()
	c.lastActive = c.opts.Now()
	c.mu.Unlock()
}

// Subscribe registers fn to receive a snapshot after every mutation, in
// mutation order. fn runs on the mutating goroutine and may call State, but
// calling OnInputChange, OnSequencedInput or OnSubmit from fn deadlocks: the
// nested mutation waits for a delivery slot that fn itself is holding.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) OnInputChange(text string) {
	c.mu.Lock()
	c.state.Question = text
	c.lastActive = c.opts.Now()
	c.publishLocked()
}

// OnSequencedInput sets Question only when seq is newer than every sequenced
// input seen so far, so an input event that arrives late cannot overwrite
// newer text. It reports whether text was applied.
func (c *Controller) OnSequencedInput(text string, seq uint64) bool {
	c.mu.Lock()
	if seq <= c.lastSeq {
		c.mu.Unlock()
		return false
	}
	c.lastSeq = seq
	c.state.Question = text
	c.lastActive = c.opts.Now()
	c.publishLocked()
	return true
}

// OnSubmit starts one request for the current question and reports whether
// it did. An empty question or a request already in flight makes it a no-op.
// InFlight is true by the time OnSubmit returns true.
func (c *Controller) OnSubmit(ctx context.Context) bool {
	c.mu.Lock()
	if c.state.Question == "" {
		c.mu.Unlock()
		c.opts.Metrics.IncSubmission(observability.OutcomeIgnoredEmpty)
		return false
	}
	if c.state.InFlight {
		c.mu.Unlock()
		c.opts.Metrics.IncSubmission(observability.OutcomeIgnoredBusy)
		c.log.Debug("submit ignored; request already in flight")
		return false
	}

	question := c.state.Question
	c.state.InFlight = true
	c.lastActive = c.opts.Now()
	c.pending.Add(1)
	if c.opts.Pending != nil {
		c.opts.Pending.Add(1)
	}
	c.opts.Metrics.AskInflightInc()
	c.publishLocked()

	callCtx, cancel := c.callContext(ctx)
	go func() {
		defer cancel()
		defer c.done()
		started := time.Now()
		text, err := c.gen.Generate(callCtx, c.opts.Model, prompt.Build(c.opts.Context, question))
		c.resolve(callCtx, started, text, err)
	}()
	return true
}

// Wait blocks until no request is in flight.
func (c *Controller) Wait() {
	c.pending.Wait()
}

// callContext detaches the outbound call from the triggering request while
// keeping its values (trace parent), and ties it to BaseContext instead.
func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.opts.BaseContext, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) done() {
	c.pending.Done()
	if c.opts.Pending != nil {
		c.opts.Pending.Done()
	}
}

func (c *Controller) resolve(ctx context.Context, started time.Time, text string, err error) {
	var fields []interface{}
	if err != nil {
		fields = append([]interface{}{"error", err}, ctxutil.LogFields(ctx)...)
	}
	c.mu.Lock()
	outcome := observability.OutcomeSuccess
	switch {
	case err == nil:
		c.state.Answer = text
	case ollama.IsProtocolError(err):
		outcome = observability.OutcomeProtocolError
		if c.opts.Malformed == ShowError {
			c.state.Answer = MalformedMessage
			c.log.Error("Unexpected response from Ollama", fields...)
		} else {
			c.log.Warn("Unexpected response from Ollama; keeping previous answer", fields...)
		}
	default:
		outcome = observability.OutcomeTransportError
		c.state.Answer = ErrorMessage
		c.log.Error("Error communicating with Ollama", fields...)
	}
	c.state.InFlight = false
	c.lastActive = c.opts.Now()
	c.opts.Metrics.ObserveResolution(outcome, time.Since(started))
	c.publishLocked()
}

// publishLocked must be called with mu held; it releases mu before
// delivering.
func (c *Controller) publishLocked() {
	ticket := c.nextTicket
	c.nextTicket++
	snap := c.state
	fns := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for c.serving != ticket {
		c.notifyCond.Wait()
	}
	for _, fn := range fns {
		fn(snap)
	}
	c.serving++
	c.notifyCond.Broadcast()
}
