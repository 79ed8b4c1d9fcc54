package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/c360/sensorgraph/graph"
)

// ErrBackendDown is returned by a FailingBackend.
var ErrBackendDown = errors.New("backend down")

// FailingBackend wraps a MemoryBackend and fails loads or saves on demand.
type FailingBackend struct {
	*graph.MemoryBackend

	mu        sync.Mutex
	FailLoad  bool
	FailSave  bool
	SaveCalls int
}

// NewFailingBackend returns a healthy backend that can be switched to failing.
func NewFailingBackend() *FailingBackend {
	return &FailingBackend{MemoryBackend: graph.NewMemoryBackend()}
}

// SetFailing switches both load and save failures.
func (b *FailingBackend) SetFailing(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailLoad, b.FailSave = fail, fail
}

// Name implements graph.Backend.
func (b *FailingBackend) Name() string { return "failing" }

// Load implements graph.Backend.
func (b *FailingBackend) Load(ctx context.Context) ([]byte, uint64, error) {
	b.mu.Lock()
	fail := b.FailLoad
	b.mu.Unlock()
	if fail {
		return nil, 0, ErrBackendDown
	}
	return b.MemoryBackend.Load(ctx)
}

// Save implements graph.Backend.
func (b *FailingBackend) Save(ctx context.Context, data []byte, expected uint64) (uint64, error) {
	b.mu.Lock()
	b.SaveCalls++
	fail := b.FailSave
	b.mu.Unlock()
	if fail {
		return 0, ErrBackendDown
	}
	return b.MemoryBackend.Save(ctx, data, expected)
}
