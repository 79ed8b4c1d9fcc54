package graph

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/metric"
	"github.com/c360/sensorgraph/pkg/retry"
)

// Backend persists encoded graph snapshots with compare-and-swap semantics.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Load returns the current snapshot and its revision. An empty graph is
	// nil data at revision 0.
	Load(ctx context.Context) ([]byte, uint64, error)
	// Save stores data if the current revision equals expected and returns the
	// new revision, or ErrRevisionConflict.
	Save(ctx context.Context, data []byte, expected uint64) (uint64, error)
	Close() error
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store runs units of work against a Backend.
type Store struct {
	backend Backend
	schema  Schema
	retry   retry.Config
	metrics *metric.Metrics
	logger  *slog.Logger

	// writeMu serializes local writers; revision CAS handles writers in other processes.
	writeMu sync.Mutex

	cacheMu  sync.RWMutex
	cached   *snapshot
	cacheRev uint64
}

// Option configures a Store.
type Option func(*Store)

// WithSchema declares keyed labels.
func WithSchema(schema Schema) Option {
	return func(s *Store) { s.schema = schema }
}

// WithRetry sets the budget for re-running a unit of work after a conflict.
func WithRetry(cfg retry.Config) Option {
	return func(s *Store) { s.retry = cfg }
}

// WithMetrics records commits, conflicts and latencies.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		schema:  Schema{},
		retry:   retry.Contention(),
		logger:  slog.Default().With("component", "graph-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("backend", backend.Name())
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// abort carries the unit of work function's own error through retry.
type abort struct{ err error }

func (a *abort) Error() string { return a.err.Error() }
func (a *abort) Unwrap() error { return a.err }

// Update runs fn as one atomic unit of work. fn may be called more than once
// when another writer commits first, so it must only act through tx. An error
// from fn discards every change and is returned unchanged.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	start := time.Now()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		if s.metrics != nil {
			s.metrics.RecordGraphConflict(s.backend.Name())
		}
		s.logger.Debug("unit of work conflict, retrying", "attempt", attempt, "error", err)
	}

	var size int
	err := retry.Do(ctx, cfg, func() error {
		if err := ctx.Err(); err != nil {
			return retry.NonRetryable(err)
		}
		base, rev, err := s.load(ctx)
		if err != nil {
			if errors.IsTransient(err) {
				return err
			}
			return retry.NonRetryable(err)
		}

		tx := &Tx{snap: base.clone(), schema: s.schema}
		defer func() { tx.closed = true }()
		if err := fn(tx); err != nil {
			return retry.NonRetryable(&abort{err})
		}
		if !tx.dirty {
			return nil
		}

		data, err := tx.snap.encode()
		if err != nil {
			return retry.NonRetryable(errors.WrapFatal(err, "Store", "Update", "encode snapshot"))
		}
		if err := ctx.Err(); err != nil {
			return retry.NonRetryable(err)
		}
		newRev, err := s.backend.Save(ctx, data, rev)
		if err != nil {
			if stderrors.Is(err, ErrRevisionConflict) {
				return err
			}
			return retry.NonRetryable(err)
		}
		s.remember(tx.snap, newRev)
		size = len(data)
		return nil
	})

	if s.metrics != nil {
		s.metrics.RecordUnitOfWork(s.backend.Name(), "update", time.Since(start))
	}
	if err == nil {
		if s.metrics != nil && size > 0 {
			s.metrics.RecordGraphCommit(s.backend.Name(), size)
		}
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordGraphAbort(s.backend.Name())
	}
	var a *abort
	if stderrors.As(err, &a) {
		return a.err
	}
	if stderrors.Is(err, ErrRevisionConflict) {
		return errors.WrapTransient(stderrors.Join(errors.ErrConflict, err), "Store", "Update", "commit")
	}
	return errors.Wrap(retry.Unwrap(err), "Store", "Update", "unit of work")
}

// View runs fn against the latest committed graph. Mutations fail with ErrReadOnly.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, _, err := s.load(ctx)
	if err != nil {
		return errors.Wrap(err, "Store", "View", "load snapshot")
	}

	tx := &Tx{snap: snap, schema: s.schema, readOnly: true}
	err = fn(tx)
	tx.closed = true
	if s.metrics != nil {
		s.metrics.RecordUnitOfWork(s.backend.Name(), "view", time.Since(start))
	}
	return err
}

// Ping checks the backend when it supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, _, err := s.backend.Load(ctx)
	return err
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// load returns the committed snapshot at the backend's current revision. The
// result is shared and must not be mutated; Update clones it.
func (s *Store) load(ctx context.Context) (*snapshot, uint64, error) {
	data, rev, err := s.backend.Load(ctx)
	if err != nil {
		return nil, 0, err
	}

	s.cacheMu.RLock()
	if s.cached != nil && s.cacheRev == rev {
		snap := s.cached
		s.cacheMu.RUnlock()
		return snap, rev, nil
	}
	s.cacheMu.RUnlock()

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, 0, err
	}
	s.remember(snap, rev)
	return snap, rev, nil
}

func (s *Store) remember(snap *snapshot, rev uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cached == nil || rev >= s.cacheRev {
		s.cached, s.cacheRev = snap, rev
	}
}
