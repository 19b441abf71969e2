package state

import (
	"context"
	"sync"
)

// Store keeps envelopes by correspondent id.
type Store[G any] interface {
	// Get returns the envelope of id. ok is false when none exists.
	Get(ctx context.Context, id int64) (env Envelope[G], ok bool, err error)
	// Set replaces the envelope of id. A nil env deletes it.
	Set(ctx context.Context, id int64, env *Envelope[G]) error
}

// MemoryStore is a process-local Store. It never persists or evicts entries.
type MemoryStore[G any] struct {
	mu   sync.RWMutex
	data map[int64]Envelope[G]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore[G any]() *MemoryStore[G] {
	return &MemoryStore[G]{data: make(map[int64]Envelope[G])}
}

func (s *MemoryStore[G]) Get(_ context.Context, id int64) (Envelope[G], bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.data[id]
	return env, ok, nil
}

func (s *MemoryStore[G]) Set(_ context.Context, id int64, env *Envelope[G]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env == nil {
		delete(s.data, id)
		return nil
	}
	s.data[id] = *env
	return nil
}

// Len returns the number of stored envelopes.
func (s *MemoryStore[G]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
