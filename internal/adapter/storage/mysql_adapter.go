package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrDeadlock       = 1213

	maxDeadlockRetries = 3
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables when they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}
	return nil
}

// Atomic retries the whole unit when InnoDB picks it as a deadlock victim;
// the victim has already been rolled back by the server.
func (m *MySQLAdapter) Atomic(ctx context.Context, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	var err error
	for attempt := 0; attempt <= maxDeadlockRetries; attempt++ {
		err = m.atomicOnce(ctx, fn)
		if !isDeadlock(err) {
			return err
		}
	}
	return err
}

func (m *MySQLAdapter) atomicOnce(ctx context.Context, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlUnit{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return scanItem(m.db.QueryRowContext(ctx, `
		SELECT id, code, name, category, stock, price, min_stock, updated_at
		FROM items WHERE id = ?`, id))
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	return mysqlView{q: m.db}.ListItems(ctx)
}

func (m *MySQLAdapter) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return mysqlView{q: m.db}.ListTransactions(ctx)
}

func (m *MySQLAdapter) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := m.db.QueryRowContext(ctx, `
		SELECT id, customer_name, invoice_id, total_price, created_at
		FROM transactions WHERE id = ?`, id,
	).Scan(&t.ID, &t.CustomerName, &t.InvoiceID, &t.TotalPrice, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, storageErr("query transaction", err)
	}

	lines, err := queryLines(ctx, m.db, id)
	if err != nil {
		return nil, err
	}
	t.Lines = lines
	return &t, nil
}

func (m *MySQLAdapter) SoldQuantities(ctx context.Context) (map[string]int, error) {
	return mysqlView{q: m.db}.SoldQuantities(ctx)
}

// Snapshot runs fn in a read-only REPEATABLE READ transaction. InnoDB pins
// the read view at the first query, so every later read sees the same state.
func (m *MySQLAdapter) Snapshot(ctx context.Context, fn func(ctx context.Context, view port.LedgerView) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return storageErr("begin snapshot", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, mysqlView{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("end snapshot", err)
	}
	return nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := m.db.QueryRowContext(ctx, `
		SELECT username, password_hash, created_at FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, storageErr("query user", err)
	}
	return &u, nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user domain.User) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		user.Username, user.PasswordHash, user.CreatedAt)
	if isDuplicateEntry(err) {
		return domain.ErrDuplicateUser
	}
	if err != nil {
		return storageErr("insert user", err)
	}
	return nil
}

func (m *MySQLAdapter) Close() error {
	return m.db.Close()
}

// mysqlView reads through either the pool or a snapshot transaction.
type mysqlView struct {
	q queryer
}

func (v mysqlView) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, code, name, category, stock, price, min_stock, updated_at
		FROM items ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, storageErr("query items", err)
	}
	defer rows.Close()

	items := []domain.Item{}
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.Category, &it.Stock,
			&it.Price, &it.MinStock, &it.UpdatedAt); err != nil {
			return nil, storageErr("scan item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate items", err)
	}
	return items, nil
}

func (v mysqlView) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, customer_name, invoice_id, total_price, created_at
		FROM transactions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, storageErr("query transactions", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.CustomerName, &t.InvoiceID, &t.TotalPrice, &t.CreatedAt); err != nil {
			return nil, storageErr("scan transaction", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate transactions", err)
	}
	return txs, nil
}

func (v mysqlView) SoldQuantities(ctx context.Context) (map[string]int, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT item_id, SUM(quantity) FROM transaction_lines GROUP BY item_id`)
	if err != nil {
		return nil, storageErr("query sold quantities", err)
	}
	defer rows.Close()

	sold := make(map[string]int)
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, storageErr("scan sold quantity", err)
		}
		sold[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate sold quantities", err)
	}
	return sold, nil
}

// mysqlUnit runs every statement on one *sql.Tx. Item reads take a row
// lock (FOR UPDATE) that is held until commit or rollback, which
// serializes concurrent stock changes on the same item.
type mysqlUnit struct {
	tx *sql.Tx
}

func (u *mysqlUnit) LockItem(ctx context.Context, id string) (*domain.Item, error) {
	return scanItem(u.tx.QueryRowContext(ctx, `
		SELECT id, code, name, category, stock, price, min_stock, updated_at
		FROM items WHERE id = ? FOR UPDATE`, id))
}

func (u *mysqlUnit) SetStock(ctx context.Context, itemID string, stock int) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE items SET stock = ? WHERE id = ?`, stock, itemID)
	if err != nil {
		return storageErr("update stock", err)
	}
	// RowsAffected is 0 when the value is unchanged, so only a missing row
	// is treated as an error.
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := u.LockItem(ctx, itemID); err != nil {
			return err
		}
	}
	return nil
}

func (u *mysqlUnit) InsertItem(ctx context.Context, item domain.Item) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO items (id, code, name, category, stock, price, min_stock, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Code, item.Name, item.Category, item.Stock, item.Price,
		item.MinStock, item.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return domain.ErrDuplicateCode
	}
	if err != nil {
		return storageErr("insert item", err)
	}
	return nil
}

func (u *mysqlUnit) UpdateItem(ctx context.Context, item domain.Item) error {
	result, err := u.tx.ExecContext(ctx, `
		UPDATE items
		SET code = ?, name = ?, category = ?, price = ?, min_stock = ?, updated_at = ?
		WHERE id = ?`,
		item.Code, item.Name, item.Category, item.Price, item.MinStock, item.UpdatedAt, item.ID,
	)
	if isDuplicateEntry(err) {
		return domain.ErrDuplicateCode
	}
	if err != nil {
		return storageErr("update item", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := u.LockItem(ctx, item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (u *mysqlUnit) DeleteItem(ctx context.Context, id string) error {
	result, err := u.tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete item", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (u *mysqlUnit) InsertTransaction(ctx context.Context, t domain.Transaction) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, customer_name, invoice_id, total_price, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.CustomerName, t.InvoiceID, t.TotalPrice, t.CreatedAt,
	)
	if err != nil {
		return storageErr("insert transaction", err)
	}

	for i, l := range t.Lines {
		_, err := u.tx.ExecContext(ctx, `
			INSERT INTO transaction_lines (transaction_id, line_no, item_id, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)`,
			t.ID, i, l.ItemID, l.Quantity, l.UnitPrice,
		)
		if err != nil {
			return storageErr("insert transaction line", err)
		}
	}
	return nil
}

func (u *mysqlUnit) TransactionLines(ctx context.Context, txID string) ([]domain.TransactionLine, error) {
	var id string
	err := u.tx.QueryRowContext(ctx, `
		SELECT id FROM transactions WHERE id = ? FOR UPDATE`, txID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, storageErr("lock transaction", err)
	}
	return queryLines(ctx, u.tx, txID)
}

func (u *mysqlUnit) DeleteTransaction(ctx context.Context, txID string) error {
	// Lines go with the header through ON DELETE CASCADE.
	result, err := u.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, txID)
	if err != nil {
		return storageErr("delete transaction", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryLines(ctx context.Context, q queryer, txID string) ([]domain.TransactionLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price
		FROM transaction_lines WHERE transaction_id = ? ORDER BY line_no`, txID)
	if err != nil {
		return nil, storageErr("query transaction lines", err)
	}
	defer rows.Close()

	lines := []domain.TransactionLine{}
	for rows.Next() {
		var l domain.TransactionLine
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, storageErr("scan transaction line", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate transaction lines", err)
	}
	return lines, nil
}

func scanItem(row *sql.Row) (*domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Category, &it.Stock,
		&it.Price, &it.MinStock, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, storageErr("query item", err)
	}
	return &it, nil
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}

func isDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDeadlock
}
