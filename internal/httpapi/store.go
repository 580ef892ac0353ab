package httpapi

import (
	"context"
	"sync"

	"github.com/sawpanic/carverrun/internal/execution"
)

// Store keeps the latest published cycle for the read-only endpoints. It is
// an execution.Sink.
type Store struct {
	mu   sync.RWMutex
	last *execution.CycleReport
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Publish replaces the stored cycle
func (s *Store) Publish(_ context.Context, report execution.CycleReport) error {
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return nil
}

// Latest returns the stored cycle, if any
func (s *Store) Latest() (execution.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return execution.CycleReport{}, false
	}
	return *s.last, true
}
