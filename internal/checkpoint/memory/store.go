package memory

import (
	"context"
	"sync"
	"time"

	"github.com/finquery/finquery/internal/checkpoint"
)

// Store keeps checkpoints in process memory. Non-durable: restarts lose all
// history, which matches the reference behavior.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]checkpoint.Checkpoint
}

func NewStore() *Store {
	return &Store{threads: make(map[string][]checkpoint.Checkpoint)}
}

func (s *Store) Save(_ context.Context, cp checkpoint.Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[cp.ThreadID] = append(s.threads[cp.ThreadID], cp)
	return nil
}

func (s *Store) Latest(_ context.Context, threadID string) (checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.threads[threadID]
	if len(history) == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *Store) HealthCheck(context.Context) error {
	return nil
}
