package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

func getMySQLAdapter(t *testing.T) *MySQLAdapter {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/posledger?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("migrate failed: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func insertTestItem(t *testing.T, store port.LedgerStore, stock int) domain.Item {
	t.Helper()
	item := domain.Item{
		ID:        uuid.NewString(),
		Code:      "T-" + uuid.NewString()[:8],
		Name:      "Test item",
		Category:  domain.CategoryOther,
		Stock:     stock,
		Price:     decimal.RequireFromString("12.50"),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	err := store.Atomic(context.Background(), func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.InsertItem(ctx, item)
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	t.Cleanup(func() {
		store.Atomic(context.Background(), func(ctx context.Context, uow port.UnitOfWork) error {
			return uow.DeleteItem(ctx, item.ID)
		})
	})
	return item
}

func TestMySQL_InsertAndLockItem(t *testing.T) {
	adapter := getMySQLAdapter(t)
	ctx := context.Background()
	item := insertTestItem(t, adapter, 10)

	err := adapter.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		locked, err := uow.LockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if locked.Stock != 10 {
			t.Errorf("expected stock 10, got %d", locked.Stock)
		}
		return uow.SetStock(ctx, item.ID, 4)
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	got, err := adapter.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Stock != 4 {
		t.Errorf("expected stock 4, got %d", got.Stock)
	}
	if !got.Price.Equal(item.Price) {
		t.Errorf("expected price %s, got %s", item.Price, got.Price)
	}
}

func TestMySQL_DuplicateCode(t *testing.T) {
	adapter := getMySQLAdapter(t)
	item := insertTestItem(t, adapter, 1)

	dup := item
	dup.ID = uuid.NewString()
	err := adapter.Atomic(context.Background(), func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.InsertItem(ctx, dup)
	})
	if !errors.Is(err, domain.ErrDuplicateCode) {
		t.Errorf("expected ErrDuplicateCode, got: %v", err)
	}
}

func TestMySQL_RollbackOnError(t *testing.T) {
	adapter := getMySQLAdapter(t)
	ctx := context.Background()
	item := insertTestItem(t, adapter, 10)
	errAbort := errors.New("abort")

	err := adapter.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		if err := uow.SetStock(ctx, item.ID, 0); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error, got: %v", err)
	}

	got, err := adapter.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if got.Stock != 10 {
		t.Errorf("expected stock 10 after rollback, got %d", got.Stock)
	}
}

func TestMySQL_TransactionCascade(t *testing.T) {
	adapter := getMySQLAdapter(t)
	ctx := context.Background()
	item := insertTestItem(t, adapter, 10)

	tx := domain.Transaction{
		ID:           uuid.NewString(),
		CustomerName: "Alice",
		InvoiceID:    "INV-" + uuid.NewString()[:8],
		TotalPrice:   decimal.RequireFromString("25.00"),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		Lines: []domain.TransactionLine{
			{ItemID: item.ID, Quantity: 2, UnitPrice: item.Price},
		},
	}
	err := adapter.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.InsertTransaction(ctx, tx)
	})
	if err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	got, err := adapter.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].Quantity != 2 {
		t.Errorf("unexpected lines: %+v", got.Lines)
	}

	err = adapter.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.DeleteTransaction(ctx, tx.ID)
	})
	if err != nil {
		t.Fatalf("DeleteTransaction failed: %v", err)
	}

	var count int
	adapter.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transaction_lines WHERE transaction_id = ?`, tx.ID).Scan(&count)
	if count != 0 {
		t.Errorf("expected lines to be removed, found %d", count)
	}

	_, err = adapter.GetTransaction(ctx, tx.ID)
	if !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got: %v", err)
	}
}

func TestMySQL_NotFound(t *testing.T) {
	adapter := getMySQLAdapter(t)
	ctx := context.Background()

	if _, err := adapter.GetItem(ctx, "nonexistent-item"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}

	err := adapter.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.SetStock(ctx, "nonexistent-item", 1)
	})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestMySQL_SnapshotIgnoresLaterCommits(t *testing.T) {
	adapter := getMySQLAdapter(t)
	ctx := context.Background()
	insertTestItem(t, adapter, 1)

	err := adapter.Snapshot(ctx, func(ctx context.Context, view port.LedgerView) error {
		before, err := view.ListItems(ctx)
		if err != nil {
			return err
		}

		insertTestItem(t, adapter, 1)

		after, err := view.ListItems(ctx)
		if err != nil {
			return err
		}
		if len(after) != len(before) {
			t.Errorf("expected %d items inside snapshot, got %d", len(before), len(after))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
}
