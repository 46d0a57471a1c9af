package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/voicebridge/gateway/internal/metrics"
)

// Registry owns all live sessions. The map has its own mutex, distinct from
// any individual session's, so a sweep never blocks unrelated sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	limits    Limits
	tokenizer Tokenizer

	sweepInterval time.Duration
	lastSweep     time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(limits Limits, tok Tokenizer, sweepInterval time.Duration) *Registry {
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &Registry{
		sessions:      make(map[string]*Session),
		limits:        limits,
		tokenizer:     tok,
		sweepInterval: sweepInterval,
		lastSweep:     time.Now(),
	}
}

// GetOrCreate returns the session for id, creating it in the requested mode
// if absent. An existing session keeps its current mode.
func (r *Registry) GetOrCreate(id, mode string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.touch()
		return s
	}
	s := New(id, mode, r.limits, r.tokenizer)
	r.sessions[id] = s
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions inactive beyond timeout. It runs at most once per
// sweep interval; intermediate calls return immediately.
func (r *Registry) Sweep(timeout time.Duration) {
	r.mu.Lock()
	if time.Since(r.lastSweep) < r.sweepInterval {
		r.mu.Unlock()
		return
	}
	r.lastSweep = time.Now()
	candidates := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		candidates[id] = s
	}
	r.mu.Unlock()

	// Inactivity is checked under each session's own lock so an in-flight
	// append observed here keeps the session alive.
	for id, s := range candidates {
		if !s.IsInactive(timeout) {
			continue
		}
		r.mu.Lock()
		delete(r.sessions, id)
		metrics.SessionsActive.Set(float64(len(r.sessions)))
		r.mu.Unlock()
		metrics.SessionsEvicted.Inc()
		slog.Info("removing inactive session", "session_id", id)
	}
}

// ForceSweep runs an eviction pass immediately, ignoring the rate limit.
func (r *Registry) ForceSweep(timeout time.Duration) {
	r.mu.Lock()
	r.lastSweep = time.Time{}
	r.mu.Unlock()
	r.Sweep(timeout)
}

// SaveFile persists every session as JSON, for restore after restart.
func (r *Registry) SaveFile(path string) error {
	r.mu.Lock()
	states := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		states[id] = s
	}
	r.mu.Unlock()

	data, err := json.Marshal(states)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	slog.Info("saved sessions", "count", len(states), "path", path)
	return nil
}

// LoadFile restores sessions saved by SaveFile. Missing file is not an error.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("sessions file not found", "path", path)
		return nil
	}
	if err != nil {
		return err
	}

	var states map[string]*Session
	if err := json.Unmarshal(data, &states); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range states {
		s.limits = r.limits
		s.tokenizer = r.tokenizer
		r.sessions[id] = s
	}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	slog.Info("loaded sessions", "count", len(states), "path", path)
	return nil
}
