//go:build integration

package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rl1809/pos-ledger/internal/adapter/storage"
	"github.com/rl1809/pos-ledger/internal/core/domain"
)

func setupMySQL(t *testing.T) *storage.MySQLAdapter {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "root",
			"MYSQL_DATABASE":      "posledger",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("port: 3306  MySQL Community Server"),
			wait.ForListeningPort("3306/tcp"),
		).WithDeadline(3 * time.Minute),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate mysql container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("root:root@tcp(%s:%s)/posledger?parseTime=true", host, port.Port())
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(20)

	store := storage.NewMySQLAdapter(db)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMySQLIntegration_CreateAndDelete(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()
	svc := NewTransactionService(store, nil, NewStockAdjuster(), nil)

	laptop := seedItem(t, store, "LAPTOP", 10, 100)
	mouse := seedItem(t, store, "MOUSE", 5, 20)

	id, err := svc.CreateTransaction(ctx, CreateTransactionInput{
		CustomerName: "Alice",
		InvoiceID:    "INV-1",
		Lines: []LineInput{
			{ItemID: laptop.ID, Quantity: 3},
			{ItemID: mouse.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)
	tx, err := svc.GetTransaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "340.00", tx.TotalPrice.StringFixed(2))
	assert.Len(t, tx.Lines, 2)
	assert.Equal(t, 7, stockOf(t, store, laptop.ID))
	assert.Equal(t, 3, stockOf(t, store, mouse.ID))

	_, err = svc.CreateTransaction(ctx, CreateTransactionInput{
		CustomerName: "Bob",
		InvoiceID:    "INV-2",
		Lines: []LineInput{
			{ItemID: laptop.ID, Quantity: 1},
			{ItemID: mouse.ID, Quantity: 4},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 7, stockOf(t, store, laptop.ID))

	require.NoError(t, svc.DeleteTransaction(ctx, id))
	assert.Equal(t, 10, stockOf(t, store, laptop.ID))
	assert.Equal(t, 5, stockOf(t, store, mouse.ID))

	_, err = svc.GetTransaction(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestMySQLIntegration_ConcurrentSales(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()
	svc := NewTransactionService(store, nil, NewStockAdjuster(), nil)

	a := seedItem(t, store, "A", 20, 10)
	b := seedItem(t, store, "B", 20, 10)

	// Half the requests list the items in reverse order; sorted locking
	// keeps them from deadlocking.
	var success atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lines := []LineInput{{ItemID: a.ID, Quantity: 1}, {ItemID: b.ID, Quantity: 1}}
			if i%2 == 1 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			_, err := svc.CreateTransaction(ctx, CreateTransactionInput{
				CustomerName: "C",
				InvoiceID:    fmt.Sprintf("INV-%d", i),
				Lines:        lines,
			})
			if err == nil {
				success.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), success.Load())
	assert.Equal(t, 0, stockOf(t, store, a.ID))
	assert.Equal(t, 0, stockOf(t, store, b.ID))
}
