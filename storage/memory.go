package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemorySink keeps images in memory. Useful for dry runs and tests.
type MemorySink struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{data: make(map[string][]byte)}
}

// Put stores a copy of data under name.
func (s *MemorySink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return "memory://" + name, nil
}

// Get returns the bytes stored under name.
func (s *MemorySink) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	return data, ok
}

// Names lists stored names in sorted order.
func (s *MemorySink) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
