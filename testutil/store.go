package testutil

import (
	"testing"

	"github.com/c360/sensorgraph/graph"
	"github.com/c360/sensorgraph/repository"
)

// NewStore returns a graph store over backend (a fresh memory backend when
// nil) using the repository schema.
func NewStore(t testing.TB, backend graph.Backend) *graph.Store {
	t.Helper()
	if backend == nil {
		backend = graph.NewMemoryBackend()
	}
	s := graph.NewStore(backend, graph.WithSchema(repository.Schema()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewRepository returns a repository over a fresh in-memory store.
func NewRepository(t testing.TB) *repository.Repository {
	t.Helper()
	return repository.New(NewStore(t, nil))
}
