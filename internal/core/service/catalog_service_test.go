package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-ledger/internal/core/domain"
)

func TestCatalog_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	catalog := NewCatalogService(store, NewStockAdjuster(), nil)
	ctx := context.Background()

	item, err := catalog.CreateItem(ctx, domain.Item{
		Code:     "  BRG-001 ",
		Name:     "Office chair",
		Category: domain.CategoryFurniture,
		Stock:    4,
		Price:    decimal.RequireFromString("1250000.00"),
		MinStock: 5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "BRG-001", item.Code)
	assert.False(t, item.UpdatedAt.IsZero())

	got, err := catalog.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Code, got.Code)
	assert.Equal(t, domain.CategoryFurniture, got.Category)
	assert.True(t, item.Price.Equal(got.Price))
	assert.True(t, got.LowStock())
}

func TestCatalog_CreateRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	catalog := NewCatalogService(store, NewStockAdjuster(), nil)

	_, err := catalog.CreateItem(context.Background(), domain.Item{
		Code:     "X",
		Name:     "Thing",
		Category: "Nope",
		Price:    decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	items, err := catalog.ListItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCatalog_DuplicateCode(t *testing.T) {
	store := newTestStore(t)
	catalog := NewCatalogService(store, NewStockAdjuster(), nil)
	ctx := context.Background()

	first := seedItem(t, store, "A", 1, 10)
	_ = seedItem(t, store, "B", 1, 10)

	_, err := catalog.CreateItem(ctx, domain.Item{
		Code: "A", Name: "Again", Category: domain.CategoryOther, Price: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	first.Code = "B"
	_, err = catalog.UpdateItem(ctx, first)
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	// Renaming frees the old code.
	first.Code = "C"
	_, err = catalog.UpdateItem(ctx, first)
	require.NoError(t, err)
	_, err = catalog.CreateItem(ctx, domain.Item{
		Code: "A", Name: "Reused", Category: domain.CategoryOther, Price: decimal.NewFromInt(1),
	})
	assert.NoError(t, err)
}

func TestCatalog_UpdateAdjustsStockThroughAdjuster(t *testing.T) {
	store := newTestStore(t)
	catalog := NewCatalogService(store, NewStockAdjuster(), nil)
	ctx := context.Background()
	item := seedItem(t, store, "A", 10, 100)

	item.Name = "Renamed"
	item.Stock = 25
	item.Price = decimal.NewFromInt(120)
	updated, err := catalog.UpdateItem(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 25, updated.Stock)

	got, err := catalog.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, 25, got.Stock)
	assert.True(t, decimal.NewFromInt(120).Equal(got.Price))
}

func TestCatalog_UpdateMissing(t *testing.T) {
	store := newTestStore(t)
	catalog := NewCatalogService(store, NewStockAdjuster(), nil)

	_, err := catalog.UpdateItem(context.Background(), domain.Item{
		ID: "missing", Code: "A", Name: "A", Category: domain.CategoryOther, Price: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestCatalog_DeleteItem(t *testing.T) {
	store := newTestStore(t)
	catalog := NewCatalogService(store, NewStockAdjuster(), nil)
	ctx := context.Background()
	item := seedItem(t, store, "A", 1, 10)

	require.NoError(t, catalog.DeleteItem(ctx, item.ID))
	_, err := catalog.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.ErrorIs(t, catalog.DeleteItem(ctx, item.ID), domain.ErrItemNotFound)
}
