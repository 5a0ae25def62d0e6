package ratelimit

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLimiterNotFound is returned by Lookup when no live limiter has the id.
var ErrLimiterNotFound = errors.New("rate limiter not found")

// Registry shares limiter state by id. An id may have several live states,
// one per strategy. Entries are weak: once every handle of a state is
// unreachable the state is collected and its entry dropped.
type Registry struct {
	mu     sync.Mutex
	states map[string][]entry
	logger *zap.Logger
}

type entry struct {
	id       string
	strategy Strategy
	ptr      weak.Pointer[state]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		states: make(map[string][]entry),
		logger: logger.With(zap.String("component", "rate_limit_registry")),
	}
}

// GetOrCreate returns a handle for id. If a live limiter with the same id and
// strategy exists, the handle shares its state; otherwise new state is
// registered next to any live states of other strategies. An empty id gets a
// random one.
func (r *Registry) GetOrCreate(id string, s Strategy) (*Limiter, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for _, e := range r.states[id] {
		st := e.ptr.Value()
		if st == nil {
			continue
		}
		if e.strategy == s {
			return &Limiter{id: id, st: st}, nil
		}
		live++
	}
	if live > 0 {
		r.logger.Warn("rate limiter id reused with a different strategy, creating new state",
			zap.String("id", id),
			zap.Int("live_states", live),
			zap.Stringer("requested", s),
		)
	}

	st := newState(s)
	e := entry{id: id, strategy: s, ptr: weak.Make(st)}
	r.states[id] = append(r.states[id], e)
	runtime.AddCleanup(st, r.evict, e)

	r.logger.Debug("rate limiter registered", zap.String("id", id), zap.Stringer("strategy", s))
	return &Limiter{id: id, st: st}, nil
}

// Lookup returns a handle onto the most recently registered live limiter
// under id.
func (r *Registry) Lookup(id string) (*Limiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.states[id]
	for i := len(entries) - 1; i >= 0; i-- {
		if st := entries[i].ptr.Value(); st != nil {
			return &Limiter{id: id, st: st}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrLimiterNotFound, id)
}

// Len returns the number of registered ids, including entries whose state
// was collected but not yet evicted.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *Registry) evict(e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.states[e.id]
	for i, cur := range entries {
		if cur.ptr == e.ptr {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.states, e.id)
		return
	}
	r.states[e.id] = entries
}
