package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds the live dashboard sessions keyed by opaque IDs. Sessions
// stay in memory on purpose: a controller owns goroutines and an in-flight
// fetch ledger that cannot round-trip through a store. Losing them on
// restart is fine, the next visit simply mounts a fresh dashboard.
type Registry struct {
	logger  *slog.Logger
	metrics *Metrics
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	controller *Controller
	lastSeen   time.Time
}

// NewRegistry builds a registry evicting sessions idle longer than ttl.
func NewRegistry(logger *slog.Logger, metrics *Metrics, ttl time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		logger:   logger,
		metrics:  metrics,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// WithNow overrides the clock, for tests.
func (r *Registry) WithNow(now func() time.Time) *Registry {
	if now != nil {
		r.now = now
	}
	return r
}

// Create registers a controller and returns its session ID.
func (r *Registry) Create(controller *Controller) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &session{controller: controller, lastSeen: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SetSessions(n)
	return id
}

// Get returns the controller for id and refreshes its idle timer.
func (r *Registry) Get(id string) (*Controller, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastSeen = r.now()
	return s.controller, true
}

// Drop closes and removes the session, if present.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if ok {
		s.controller.Close()
	}
	r.metrics.SetSessions(n)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartSweeper evicts idle sessions on a fixed cadence until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Sweep closes and removes every session idle longer than the registry TTL.
func (r *Registry) Sweep() {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	var evicted []*Controller
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			evicted = append(evicted, s.controller)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()
	for _, c := range evicted {
		c.Close()
	}
	if len(evicted) > 0 {
		r.logger.Info("evicted idle dashboard sessions", "count", len(evicted), "remaining", n)
	}
	r.metrics.SetSessions(n)
}
