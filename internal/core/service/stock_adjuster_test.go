package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

func TestStockAdjuster_Adjust(t *testing.T) {
	store := newTestStore(t)
	item := seedItem(t, store, "A", 5, 10)
	adj := NewStockAdjuster()
	ctx := context.Background()

	err := store.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		next, err := adj.Adjust(ctx, uow, item.ID, -5)
		require.NoError(t, err)
		assert.Equal(t, 0, next)

		next, err = adj.Adjust(ctx, uow, item.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, next)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stockOf(t, store, item.ID))
}

func TestStockAdjuster_RejectsNegative(t *testing.T) {
	store := newTestStore(t)
	item := seedItem(t, store, "A", 5, 10)
	adj := NewStockAdjuster()

	err := store.Atomic(context.Background(), func(ctx context.Context, uow port.UnitOfWork) error {
		_, err := adj.Adjust(ctx, uow, item.ID, -6)
		return err
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 5, stockOf(t, store, item.ID))
}

func TestStockAdjuster_ItemNotFound(t *testing.T) {
	store := newTestStore(t)
	adj := NewStockAdjuster()

	err := store.Atomic(context.Background(), func(ctx context.Context, uow port.UnitOfWork) error {
		_, err := adj.Adjust(ctx, uow, "missing", 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}
