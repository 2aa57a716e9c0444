package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. Counters are not shared
// across instances.
type MemoryStore struct {
	data       map[string]*entry
	mu         sync.Mutex
	gcInterval time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type entry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory rate limit store.
// gcInterval specifies how often expired entries are dropped.
func NewMemoryStore(gcInterval time.Duration) *MemoryStore {
	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}

	store := &MemoryStore{
		data:       make(map[string]*entry),
		gcInterval: gcInterval,
		stopCh:     make(chan struct{}),
	}

	go store.gc()

	return store
}

// Increment atomically increments the counter for a key.
func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, exists := s.data[key]
	if !exists || !now.Before(e.expiresAt) {
		s.data[key] = &entry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	e.count++
	return e.count, nil
}

// Reset resets the counter for a key.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Close stops the garbage collection goroutine. Safe to call twice.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *MemoryStore) gc() {
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes all expired entries.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.data {
		if !now.Before(e.expiresAt) {
			delete(s.data, key)
		}
	}
}

func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
