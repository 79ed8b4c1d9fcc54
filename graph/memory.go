package graph

import (
	"context"
	"sync"
)

// MemoryBackend keeps the snapshot in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
	rev  uint64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Load implements Backend.
func (b *MemoryBackend) Load(ctx context.Context) ([]byte, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data, b.rev, nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(ctx context.Context, data []byte, expected uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rev != expected {
		return 0, ErrRevisionConflict
	}
	b.data = append([]byte(nil), data...)
	b.rev++
	return b.rev, nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }
