package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-ledger/internal/adapter/storage"
	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

func newTestStore(t *testing.T) *storage.BadgerAdapter {
	t.Helper()
	store, err := storage.NewBadgerAdapter(storage.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedItem(t *testing.T, store port.LedgerStore, code string, stock int, price int64) domain.Item {
	t.Helper()
	catalog := NewCatalogService(store, NewStockAdjuster(), nil)
	item, err := catalog.CreateItem(context.Background(), domain.Item{
		Code:     code,
		Name:     "Item " + code,
		Category: domain.CategoryOther,
		Stock:    stock,
		Price:    decimal.NewFromInt(price),
	})
	require.NoError(t, err)
	return *item
}

func stockOf(t *testing.T, store port.LedgerStore, id string) int {
	t.Helper()
	item, err := store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Stock
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	counters       map[string]int64
	err            error
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		counters:       make(map[string]int64),
	}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

func (m *mockCacheRepo) IncrementRate(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counters[key]++
	return m.counters[key], nil
}

var errInjected = errors.New("injected fault")

// faultyStore fails SetStock inside every unit of work, after whatever
// the caller wrote before it.
type faultyStore struct {
	port.LedgerStore
}

func (f faultyStore) Atomic(ctx context.Context, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	return f.LedgerStore.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		return fn(ctx, faultyUnit{UnitOfWork: uow})
	})
}

type faultyUnit struct {
	port.UnitOfWork
}

func (faultyUnit) SetStock(ctx context.Context, itemID string, stock int) error {
	return errInjected
}
