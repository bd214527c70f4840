// Package memory contains an in-memory sink for tests and dry runs.
package memory

import (
	"context"
	"sync"
)

// Sink stores emitted records for inspection.
type Sink struct {
	mu     sync.RWMutex
	items  []any
	closed bool
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Emit records item.
func (s *Sink) Emit(_ context.Context, item any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Items returns the recorded items.
func (s *Sink) Items() []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]any, len(s.items))
	copy(out, s.items)
	return out
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
