package port

import (
	"context"

	"github.com/rl1809/pos-ledger/internal/core/domain"
)

// LedgerStore owns items, transactions and users. Every write goes through
// Atomic so that ledger rows and stock levels commit or vanish together.
type LedgerStore interface {
	// Atomic runs fn inside one unit of work. The unit commits only when fn
	// returns nil; any error discards every write made through uow.
	Atomic(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error

	GetItem(ctx context.Context, id string) (*domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)

	// ListTransactions returns headers only, newest first.
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// SoldQuantities sums line quantities per item id across all existing
	// transactions.
	SoldQuantities(ctx context.Context) (map[string]int, error)

	// Snapshot runs fn against one consistent read-only view, so reads made
	// through view all observe the same committed state.
	Snapshot(ctx context.Context, fn func(ctx context.Context, view LedgerView) error) error

	GetUser(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error

	Close() error
}

// LedgerView is the read side handed to a Snapshot callback.
type LedgerView interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	SoldQuantities(ctx context.Context) (map[string]int, error)
}

// UnitOfWork is the read/write view handed to an Atomic callback. Reads of
// items lock the row (or register a conflict read) until the unit ends.
type UnitOfWork interface {
	// LockItem returns domain.ErrItemNotFound when id does not resolve.
	LockItem(ctx context.Context, id string) (*domain.Item, error)
	// SetStock is reserved for the stock adjuster.
	SetStock(ctx context.Context, itemID string, stock int) error

	// InsertItem returns domain.ErrDuplicateCode when the code is taken.
	InsertItem(ctx context.Context, item domain.Item) error
	// UpdateItem writes every field except Stock.
	UpdateItem(ctx context.Context, item domain.Item) error
	DeleteItem(ctx context.Context, id string) error

	// InsertTransaction writes the header and all of its lines.
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	// TransactionLines returns domain.ErrTransactionNotFound when the
	// header does not exist.
	TransactionLines(ctx context.Context, txID string) ([]domain.TransactionLine, error)
	// DeleteTransaction removes the header and its lines in one step.
	DeleteTransaction(ctx context.Context, txID string) error
}
