package store

import (
	"context"
	"slices"
	"sync"

	"github.com/BaSui01/chatflow/workflow"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*workflow.Record
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*workflow.Record)}
}

// Save stores a copy of rec.
func (s *MemoryStore) Save(_ context.Context, runID string, rec *workflow.Record) error {
	if err := validate(runID, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	cp := *rec
	cp.RunID = runID
	s.records[runID] = &cp
	return nil
}

// Get returns a copy of the record of runID.
func (s *MemoryStore) Get(_ context.Context, runID string) (*workflow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[runID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List implements ChatStore.List.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*workflow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*workflow.Record, 0, len(s.records))
	for _, rec := range s.records {
		if opts.matches(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *workflow.Record) int {
		return b.FinishedAt.Compare(a.FinishedAt)
	})
	if len(out) > opts.limit() {
		out = out[:opts.limit()]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close drops all records.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}
