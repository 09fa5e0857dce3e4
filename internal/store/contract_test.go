package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type widget struct {
	ID    string `bson:"_id"`
	Name  string `bson:"name"`
	Kind  string `bson:"kind"`
	Count int    `bson:"count"`
}

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, s Store) {
	ctx := context.Background()
	coll := "widgets_" + uuid.New().String()[:8]

	t.Run("get missing", func(t *testing.T) {
		var w widget
		err := s.Get(ctx, coll, "nope", &w)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put get update", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, coll, "w1", widget{ID: "w1", Name: "gear", Kind: "a", Count: 3}))

		var w widget
		require.NoError(t, s.Get(ctx, coll, "w1", &w))
		assert.Equal(t, "gear", w.Name)
		assert.Equal(t, 3, w.Count)

		require.NoError(t, s.Update(ctx, coll, "w1", bson.M{"count": 7}))
		require.NoError(t, s.Get(ctx, coll, "w1", &w))
		assert.Equal(t, 7, w.Count)
		assert.Equal(t, "gear", w.Name)

		assert.ErrorIs(t, s.Update(ctx, coll, "missing", bson.M{"count": 1}), ErrNotFound)
	})

	t.Run("find with filter", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, coll, "w2", widget{ID: "w2", Name: "bolt", Kind: "b"}))
		require.NoError(t, s.Put(ctx, coll, "w3", widget{ID: "w3", Name: "nut", Kind: "b"}))

		var all []widget
		require.NoError(t, s.Find(ctx, coll, nil, &all))
		assert.Len(t, all, 3)

		var bs []widget
		require.NoError(t, s.Find(ctx, coll, bson.M{"kind": "b"}, &bs))
		assert.Len(t, bs, 2)
		for _, w := range bs {
			assert.Equal(t, "b", w.Kind)
		}
	})

	t.Run("transaction commits", func(t *testing.T) {
		err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
			var w widget
			if err := tx.Get(ctx, coll, "w1", &w); err != nil {
				return err
			}
			if err := tx.Update(ctx, coll, "w1", bson.M{"count": w.Count + 1}); err != nil {
				return err
			}
			// reads see the transaction's own writes
			if err := tx.Get(ctx, coll, "w1", &w); err != nil {
				return err
			}
			if w.Count != 8 {
				return errors.New("own write not visible")
			}
			return tx.Put(ctx, coll, "w4", widget{ID: "w4", Name: "spring"})
		})
		require.NoError(t, err)

		var w widget
		require.NoError(t, s.Get(ctx, coll, "w1", &w))
		assert.Equal(t, 8, w.Count)
		require.NoError(t, s.Get(ctx, coll, "w4", &w))
		assert.Equal(t, "spring", w.Name)
	})

	t.Run("transaction aborts on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.Update(ctx, coll, "w1", bson.M{"count": 100}); err != nil {
				return err
			}
			if err := tx.Put(ctx, coll, "w5", widget{ID: "w5"}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		var w widget
		require.NoError(t, s.Get(ctx, coll, "w1", &w))
		assert.Equal(t, 8, w.Count)
		assert.ErrorIs(t, s.Get(ctx, coll, "w5", &w), ErrNotFound)
	})

	t.Run("transaction not found passes through", func(t *testing.T) {
		err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
			var w widget
			return tx.Get(ctx, coll, "ghost", &w)
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent create-if-absent has one winner", func(t *testing.T) {
		errTaken := errors.New("taken")
		const workers = 4
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results <- s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
					var w widget
					err := tx.Get(ctx, coll, "singleton", &w)
					if err == nil {
						return errTaken
					}
					if !errors.Is(err, ErrNotFound) {
						return err
					}
					return tx.Put(ctx, coll, "singleton", widget{ID: "singleton", Count: i})
				})
			}(i)
		}
		wg.Wait()
		close(results)

		won := 0
		for err := range results {
			if err == nil {
				won++
				continue
			}
			assert.ErrorIs(t, err, errTaken)
		}
		assert.Equal(t, 1, won)
	})
}
