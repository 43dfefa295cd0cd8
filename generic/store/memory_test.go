package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/generic/store"
	"github.com/warp/absence-engine/generic/storetest"
)

func TestTxMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return store.NewTxMemory()
	})
}

func TestTxMemory_WithTx_SerializesCallbacks(t *testing.T) {
	// GIVEN: A counter kept in a policy's DaysPerYear
	// WHEN: 50 goroutines each read-increment-write it inside WithTx
	// THEN: No increment is lost

	ctx := context.Background()
	s := store.NewTxMemory()
	require.NoError(t, s.CreatePolicy(ctx, generic.Policy{ID: "counter", Name: "counter"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx generic.Store) error {
				p, err := tx.GetPolicy(ctx, "counter")
				if err != nil {
					return err
				}
				p.DaysPerYear++
				return tx.UpdatePolicy(ctx, *p)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := s.GetPolicy(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, 50, p.DaysPerYear)
}

func TestTxMemory_WithTx_RollbackRestoresUpdates(t *testing.T) {
	// GIVEN: An existing policy
	// WHEN: A transaction updates then deletes it and fails
	// THEN: The original policy is intact

	ctx := context.Background()
	s := store.NewTxMemory()
	require.NoError(t, s.CreatePolicy(ctx, generic.Policy{ID: "annual", Name: "Annual", DaysPerYear: 20}))

	err := s.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.UpdatePolicy(ctx, generic.Policy{ID: "annual", Name: "Changed", DaysPerYear: 1}))
		require.NoError(t, tx.DeletePolicy(ctx, "annual"))
		return errors.New("abort")
	})
	require.Error(t, err)

	p, err := s.GetPolicy(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, "Annual", p.Name)
	assert.Equal(t, 20, p.DaysPerYear)
}

func TestTxMemory_ViewIsNotTransactional(t *testing.T) {
	// The store handed to WithTx must not start nested transactions.
	s := store.NewTxMemory()
	_ = s.WithTx(context.Background(), func(tx generic.Store) error {
		_, ok := tx.(generic.TxStore)
		assert.False(t, ok)
		return nil
	})
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	require.NoError(t, s.CreatePolicy(ctx, generic.Policy{ID: "annual", Name: "Annual"}))

	require.NoError(t, s.Reset(ctx))

	all, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
