package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/croncat/internal/kv"
	"github.com/t77yq/croncat/internal/model"
)

func TestLedger(t *testing.T) {
	store := kv.NewMemoryStore()
	ledger := NewLedger()

	err := store.View(context.Background(), func(r kv.Reader) error {
		_, err := ledger.Load(r)
		return err
	})
	require.ErrorIs(t, err, ErrNotInitialized)

	update(t, store, func(w kv.Writer) error {
		return ledger.Save(w, &model.Config{NativeDenom: "atom", MinTasksPerAgent: 3})
	})

	update(t, store, func(w kv.Writer) error {
		cfg, err := ledger.Credit(w, model.NewCoins(37, "atom"))
		require.NoError(t, err)
		assert.Equal(t, model.NewCoins(37, "atom"), cfg.AvailableBalance)

		cfg, err = ledger.Credit(w, model.NewCoins(3, "atom"))
		require.NoError(t, err)
		assert.Equal(t, model.NewCoins(40, "atom"), cfg.AvailableBalance)
		return nil
	})

	update(t, store, func(w kv.Writer) error {
		_, err := ledger.Debit(w, model.NewCoins(40, "atom"))
		return err
	})

	view(t, store, func(r kv.Reader) error {
		cfg, err := ledger.Load(r)
		require.NoError(t, err)
		assert.Equal(t, model.NewCoins(0, "atom"), cfg.AvailableBalance)
		assert.Equal(t, uint64(3), cfg.MinTasksPerAgent)
		return nil
	})
}
