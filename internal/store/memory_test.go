package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMemory_Contract(t *testing.T) {
	runContract(t, NewMemory(0))
}

func TestMemory_RetriesAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(5)
	require.NoError(t, s.Put(ctx, "c", "x", widget{ID: "x", Count: 1}))

	attempts := 0
	err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		var w widget
		if err := tx.Get(ctx, "c", "x", &w); err != nil {
			return err
		}
		if attempts == 1 {
			// another writer sneaks in between our read and our commit
			require.NoError(t, s.Update(ctx, "c", "x", bson.M{"count": 10}))
		}
		return tx.Update(ctx, "c", "x", bson.M{"count": w.Count + 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var w widget
	require.NoError(t, s.Get(ctx, "c", "x", &w))
	assert.Equal(t, 11, w.Count)
}

func TestMemory_ConflictExhausted(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(2)
	require.NoError(t, s.Put(ctx, "c", "x", widget{ID: "x"}))

	attempts := 0
	err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		var w widget
		if err := tx.Get(ctx, "c", "x", &w); err != nil {
			return err
		}
		require.NoError(t, s.Update(ctx, "c", "x", bson.M{"count": attempts}))
		return tx.Update(ctx, "c", "x", bson.M{"name": "never"})
	})
	assert.ErrorIs(t, err, ErrTransactionConflict)
	assert.Equal(t, 3, attempts)

	var w widget
	require.NoError(t, s.Get(ctx, "c", "x", &w))
	assert.Empty(t, w.Name)
}

func TestMemory_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	const workers = 20
	s := NewMemory(workers)
	require.NoError(t, s.Put(ctx, "c", "counter", widget{ID: "counter"}))

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
				var w widget
				if err := tx.Get(ctx, "c", "counter", &w); err != nil {
					return err
				}
				return tx.Update(ctx, "c", "counter", bson.M{"count": w.Count + 1})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var w widget
	require.NoError(t, s.Get(ctx, "c", "counter", &w))
	assert.Equal(t, workers, w.Count)
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemory(0).Transaction(ctx, func(ctx context.Context, tx Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeAll_RejectsNonSlice(t *testing.T) {
	var w widget
	assert.Error(t, decodeAll(nil, nil, &w))
}

func TestMemory_AbortOnStaleReadIsRetried(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(5)
	require.NoError(t, s.Put(ctx, "c", "x", widget{ID: "x", Count: 0}))
	errEmpty := errors.New("empty")

	attempts := 0
	err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		var w widget
		if err := tx.Get(ctx, "c", "x", &w); err != nil {
			return err
		}
		if attempts == 1 {
			require.NoError(t, s.Update(ctx, "c", "x", bson.M{"count": 4}))
		}
		if w.Count == 0 {
			return errEmpty
		}
		return tx.Update(ctx, "c", "x", bson.M{"count": w.Count - 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var w widget
	require.NoError(t, s.Get(ctx, "c", "x", &w))
	assert.Equal(t, 3, w.Count)
}

func TestMemory_AbortOnCurrentReadIsReturned(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(5)
	require.NoError(t, s.Put(ctx, "c", "x", widget{ID: "x"}))
	errEmpty := errors.New("empty")

	attempts := 0
	err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		var w widget
		if err := tx.Get(ctx, "c", "x", &w); err != nil {
			return err
		}
		return errEmpty
	})
	assert.ErrorIs(t, err, errEmpty)
	assert.Equal(t, 1, attempts)
}
