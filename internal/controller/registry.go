package controller

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/devcolor-ask/internal/observability"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
)

// Registry holds one Controller per page load. A session starts when the page
// is rendered and ends once it has had no live view and no activity for the
// sweep threshold.
type Registry struct {
	newController func() *Controller
	log           *logger.Logger
	metrics       *observability.Metrics
	now           func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session

	pending sync.WaitGroup
}

type session struct {
	ctrl     *Controller
	watchers int
}

// NewRegistry builds controllers from gen and opts. opts.Pending is owned by
// the registry and overwritten.
func NewRegistry(gen Generator, opts Options) *Registry {
	r := &Registry{
		log:      opts.Log,
		metrics:  opts.Metrics,
		now:      opts.Now,
		sessions: map[uuid.UUID]*session{},
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	opts.Pending = &r.pending
	r.newController = func() *Controller { return New(gen, opts) }
	return r
}

func (r *Registry) Create() (uuid.UUID, *Controller) {
	id := uuid.New()
	ctrl := r.newController()

	r.mu.Lock()
	r.sessions[id] = &session{ctrl: ctrl}
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetSessions(n)
	r.log.Debug("session created", "session_id", id.String())
	return id, ctrl
}

func (r *Registry) Get(id uuid.UUID) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.ctrl, true
}

// Attach marks a live view on the session so Sweep leaves it alone. The
// returned detach only drops the mark and restarts the idle clock: a view
// that reconnects finds its session intact, and one that never comes back is
// swept after the idle timeout.
func (r *Registry) Attach(id uuid.UUID) (*Controller, func(), bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, false
	}
	s.watchers++
	r.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			r.mu.Lock()
			if s.watchers > 0 {
				s.watchers--
			}
			r.mu.Unlock()
			s.ctrl.Touch()
		})
	}
	return s.ctrl, detach, true
}

// Release forgets the session. A request still in flight resolves into the
// detached controller and is then discarded; Wait still accounts for it.
func (r *Registry) Release(id uuid.UUID) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.metrics.SetSessions(n)
	r.log.Debug("session released", "session_id", id.String())
}

// Sweep releases sessions with no live view, no request in flight and no
// activity within idle. It returns how many were released.
func (r *Registry) Sweep(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var stale []uuid.UUID
	for id, s := range r.sessions {
		if s.watchers > 0 || s.ctrl.State().InFlight {
			continue
		}
		if s.ctrl.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if len(stale) > 0 {
		r.metrics.SetSessions(n)
		r.log.Info("idle sessions swept", "count", len(stale), "remaining", n)
	}
	return len(stale)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Wait blocks until every request started by any session has resolved.
func (r *Registry) Wait() {
	r.pending.Wait()
}
