package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorgraph/metric"
	"github.com/c360/sensorgraph/pkg/retry"
)

// racingBackend lets another writer commit between a Load and the following Save.
type racingBackend struct {
	*MemoryBackend
	races atomic.Int32
}

func (b *racingBackend) Save(ctx context.Context, data []byte, expected uint64) (uint64, error) {
	if b.races.Add(-1) >= 0 {
		cur, rev, _ := b.MemoryBackend.Load(ctx)
		if _, err := b.MemoryBackend.Save(ctx, cur, rev); err != nil {
			return 0, err
		}
	}
	return b.MemoryBackend.Save(ctx, data, expected)
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	backend := &racingBackend{MemoryBackend: NewMemoryBackend()}
	backend.races.Store(2)
	registry := metric.NewMetricsRegistry()
	s := NewStore(backend, WithMetrics(registry.CoreMetrics()))

	calls := 0
	err := s.Update(context.Background(), func(tx *Tx) error {
		calls++
		_, err := tx.SaveNode("Gateway", Properties{"name": "g"}, "")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.NoError(t, s.View(context.Background(), func(tx *Tx) error {
		assert.Equal(t, 1, tx.Count("Gateway"))
		return nil
	}))
}

func TestUpdate_ConflictBudgetExhausted(t *testing.T) {
	backend := &racingBackend{MemoryBackend: NewMemoryBackend()}
	backend.races.Store(100)
	s := NewStore(backend, WithRetry(retry.Config{MaxAttempts: 2, InitialDelay: 1, MaxDelay: 1}))

	err := s.Update(context.Background(), func(tx *Tx) error {
		_, err := tx.SaveNode("Gateway", Properties{"name": "g"}, "")
		return err
	})
	assert.ErrorIs(t, err, ErrRevisionConflict)
}

func TestUpdate_FunctionErrorDiscardsChanges(t *testing.T) {
	s := newTestStore(t)
	sentinel := errors.New("sensor not found")

	err := s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.SaveNode("Gateway", Properties{"name": "g"}, ""); err != nil {
			return err
		}
		return sentinel
	})
	assert.Same(t, sentinel, err)

	require.NoError(t, s.View(context.Background(), func(tx *Tx) error {
		assert.Zero(t, tx.Count("Gateway"))
		return nil
	}))
}

func TestUpdate_CancelledContextWritesNothing(t *testing.T) {
	backend := NewMemoryBackend()
	s := NewStore(backend)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Update(ctx, func(tx *Tx) error {
		_, err := tx.SaveNode("Gateway", Properties{"name": "g"}, "")
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, rev, _ := backend.Load(context.Background())
	assert.Zero(t, rev)
}

func TestUpdate_TxClosedAfterReturn(t *testing.T) {
	s := newTestStore(t)
	var leaked *Tx
	update(t, s, func(tx *Tx) error {
		leaked = tx
		return nil
	})

	_, err := leaked.SaveNode("Gateway", Properties{"name": "late"}, "")
	assert.ErrorIs(t, err, ErrTxClosed)
}

func TestUpdate_NoChangesSkipsSave(t *testing.T) {
	backend := NewMemoryBackend()
	s := NewStore(backend)

	update(t, s, func(tx *Tx) error {
		tx.Nodes("Gateway")
		return nil
	})
	_, rev, _ := backend.Load(context.Background())
	assert.Zero(t, rev)
}

// Two stores over one backend behave like two processes sharing a database.
func TestMergeNode_ConcurrentWritersCreateOnce(t *testing.T) {
	backend := NewMemoryBackend()
	stores := []*Store{
		NewStore(backend, WithSchema(testSchema)),
		NewStore(backend, WithSchema(testSchema)),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			errs <- s.Update(context.Background(), func(tx *Tx) error {
				_, _, err := tx.MergeNode("Type", Properties{"name": "temperature"})
				if err != nil {
					return err
				}
				_, err = tx.SaveNode("Sensor", Properties{"name": "s"}, "")
				return err
			})
		}(stores[i%2])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, stores[0].View(context.Background(), func(tx *Tx) error {
		assert.Equal(t, 1, tx.Count("Type"))
		assert.Equal(t, 20, tx.Count("Sensor"))
		return nil
	}))
}

func TestSnapshot_RoundTripThroughBackend(t *testing.T) {
	backend := NewMemoryBackend()
	writer := NewStore(backend, WithSchema(testSchema))
	update(t, writer, func(tx *Tx) error {
		n, _ := tx.SaveNode("Sensor", Properties{"name": "s", "location_code": "A1", "active": true}, "")
		_, _ = tx.SaveNode("Type", Properties{"name": "temp"}, "")
		return tx.CreateRelationship(Relationship{From: n.Ref(), Type: "HAS_TYPE", To: Ref{"Type", "temp"}})
	})

	reader := NewStore(backend, WithSchema(testSchema))
	require.NoError(t, reader.View(context.Background(), func(tx *Tx) error {
		n, ok := tx.FindNode("Sensor", "1")
		require.True(t, ok)
		assert.Equal(t, "A1", n.Properties.String("location_code"))
		assert.True(t, n.Properties.Bool("active"))
		assert.Len(t, tx.Outgoing(n.Ref(), "HAS_TYPE"), 1)
		return nil
	}))

	update(t, reader, func(tx *Tx) error {
		n, err := tx.SaveNode("Sensor", Properties{"name": "s2"}, "")
		assert.Equal(t, ID("2"), n.ID)
		return err
	})
}

func TestDecodeSnapshot_Corrupted(t *testing.T) {
	_, err := decodeSnapshot([]byte("{not json"))
	assert.Error(t, err)

	_, err = decodeSnapshot([]byte(`{"version":1,"nodes":{},"relationships":[{"from":{"label":"A","id":"1"},"type":"X","to":{"label":"B","id":"2"}}]}`))
	assert.Error(t, err)
}
