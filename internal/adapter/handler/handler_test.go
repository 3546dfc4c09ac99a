package handler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-ledger/internal/adapter/storage"
	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/core/service"
)

const (
	testUser     = "admin"
	testPassword = "admin123"
)

type testEnv struct {
	store        *storage.BadgerAdapter
	transactions *service.TransactionService
	catalog      *service.CatalogService
	reports      *service.ReportService
	auth         *service.AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewBadgerAdapter(storage.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stock := service.NewStockAdjuster()
	env := &testEnv{
		store:        store,
		transactions: service.NewTransactionService(store, nil, stock, nil),
		catalog:      service.NewCatalogService(store, stock, nil),
		reports:      service.NewReportService(store, 0),
		auth: service.NewAuthService(store, nil, service.AuthConfig{
			Secret:   []byte("handler-test-secret-0123"),
			TokenTTL: time.Hour,
		}),
	}
	require.NoError(t, env.auth.CreateUser(context.Background(), testUser, testPassword))
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, err := e.auth.Login(context.Background(), "test", testUser, testPassword)
	require.NoError(t, err)
	return token
}

func (e *testEnv) seedItem(t *testing.T, code string, stock int, price string) domain.Item {
	t.Helper()
	item, err := e.catalog.CreateItem(context.Background(), domain.Item{
		Code:     code,
		Name:     "Item " + code,
		Category: domain.CategoryElectronics,
		Stock:    stock,
		Price:    decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return *item
}
