package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

// Key layout. Lines are keyed under their transaction so they can be
// dropped with one prefix scan.
const (
	itemKeyPrefix     = "item:"
	itemCodeKeyPrefix = "itemcode:"
	txKeyPrefix       = "tx:"
	txLineKeyPrefix   = "txline:"
	userKeyPrefix     = "user:"

	maxConflictRetries = 64
)

type itemRecord struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Stock     int             `json:"stock"`
	Price     decimal.Decimal `json:"price"`
	MinStock  int             `json:"min_stock"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type txRecord struct {
	ID           string          `json:"id"`
	CustomerName string          `json:"customer_name"`
	InvoiceID    string          `json:"invoice_id"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	CreatedAt    time.Time       `json:"created_at"`
}

type lineRecord struct {
	ItemID    string          `json:"item_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type userRecord struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type BadgerOptions struct {
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// BadgerAdapter keeps the ledger in an embedded Badger database. Units of
// work are Badger read-write transactions; a write conflict on commit
// (another unit changed a key this one read) reruns the unit.
type BadgerAdapter struct {
	db *badger.DB
}

func NewBadgerAdapter(opts BadgerOptions) (*BadgerAdapter, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(badgerLogger{opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, storageErr("open badger", err)
	}
	return &BadgerAdapter{db: db}, nil
}

func (b *BadgerAdapter) Atomic(ctx context.Context, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.atomicOnce(ctx, fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

func (b *BadgerAdapter) atomicOnce(ctx context.Context, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(ctx, &badgerUnit{txn: txn}); err != nil {
		return err
	}
	// Cancellation before commit must leave nothing behind.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (b *BadgerAdapter) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var item *domain.Item
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		item, err = getItem(txn, id)
		return err
	})
	return item, err
}

func (b *BadgerAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	var items []domain.Item
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		items, err = badgerView{txn: txn}.ListItems(ctx)
		return err
	})
	return items, err
}

func (b *BadgerAdapter) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		txs, err = badgerView{txn: txn}.ListTransactions(ctx)
		return err
	})
	return txs, err
}

func (b *BadgerAdapter) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx *domain.Transaction
	err := b.db.View(func(txn *badger.Txn) error {
		var rec txRecord
		if err := getJSON(txn, txKeyPrefix+id, &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrTransactionNotFound
			}
			return storageErr("get transaction", err)
		}
		lines, err := readLines(txn, id)
		if err != nil {
			return err
		}
		t := rec.toDomain()
		t.Lines = lines
		tx = &t
		return nil
	})
	return tx, err
}

func (b *BadgerAdapter) SoldQuantities(ctx context.Context) (map[string]int, error) {
	var sold map[string]int
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		sold, err = badgerView{txn: txn}.SoldQuantities(ctx)
		return err
	})
	return sold, err
}

// Snapshot runs fn inside one read-only Badger transaction, which reads at
// a single commit timestamp.
func (b *BadgerAdapter) Snapshot(ctx context.Context, fn func(ctx context.Context, view port.LedgerView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(ctx, badgerView{txn: txn})
	})
}

func (b *BadgerAdapter) GetUser(ctx context.Context, username string) (*domain.User, error) {
	var user *domain.User
	err := b.db.View(func(txn *badger.Txn) error {
		var rec userRecord
		if err := getJSON(txn, userKeyPrefix+username, &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrUserNotFound
			}
			return storageErr("get user", err)
		}
		user = &domain.User{Username: rec.Username, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}
		return nil
	})
	return user, err
}

func (b *BadgerAdapter) CreateUser(ctx context.Context, user domain.User) error {
	return b.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		txn := uow.(*badgerUnit).txn
		key := []byte(userKeyPrefix + user.Username)
		if _, err := txn.Get(key); err == nil {
			return domain.ErrDuplicateUser
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return storageErr("get user", err)
		}
		return setJSON(txn, string(key), userRecord{
			Username:     user.Username,
			PasswordHash: user.PasswordHash,
			CreatedAt:    user.CreatedAt,
		})
	})
}

func (b *BadgerAdapter) Close() error {
	return b.db.Close()
}

type badgerView struct {
	txn *badger.Txn
}

func (v badgerView) ListItems(ctx context.Context) ([]domain.Item, error) {
	items := []domain.Item{}
	err := scanPrefix(v.txn, itemKeyPrefix, func(_ []byte, val []byte) error {
		var rec itemRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		items = append(items, rec.toDomain())
		return nil
	})
	if err != nil {
		return nil, storageErr("list items", err)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (v badgerView) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	txs := []domain.Transaction{}
	err := scanPrefix(v.txn, txKeyPrefix, func(_ []byte, val []byte) error {
		var rec txRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		txs = append(txs, rec.toDomain())
		return nil
	})
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID > txs[j].ID
	})
	return txs, nil
}

func (v badgerView) SoldQuantities(ctx context.Context) (map[string]int, error) {
	sold := make(map[string]int)
	err := scanPrefix(v.txn, txLineKeyPrefix, func(_ []byte, val []byte) error {
		var rec lineRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		sold[rec.ItemID] += rec.Quantity
		return nil
	})
	if err != nil {
		return nil, storageErr("sold quantities", err)
	}
	return sold, nil
}

type badgerUnit struct {
	txn *badger.Txn
}

func (u *badgerUnit) LockItem(ctx context.Context, id string) (*domain.Item, error) {
	return getItem(u.txn, id)
}

func (u *badgerUnit) SetStock(ctx context.Context, itemID string, stock int) error {
	var rec itemRecord
	if err := getJSON(u.txn, itemKeyPrefix+itemID, &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrItemNotFound
		}
		return storageErr("get item", err)
	}
	rec.Stock = stock
	return setJSON(u.txn, itemKeyPrefix+itemID, rec)
}

func (u *badgerUnit) InsertItem(ctx context.Context, item domain.Item) error {
	codeKey := itemCodeKeyPrefix + item.Code
	if _, err := u.txn.Get([]byte(codeKey)); err == nil {
		return domain.ErrDuplicateCode
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return storageErr("get item code", err)
	}
	if err := u.txn.Set([]byte(codeKey), []byte(item.ID)); err != nil {
		return storageErr("set item code", err)
	}
	return setJSON(u.txn, itemKeyPrefix+item.ID, newItemRecord(item))
}

func (u *badgerUnit) UpdateItem(ctx context.Context, item domain.Item) error {
	var rec itemRecord
	if err := getJSON(u.txn, itemKeyPrefix+item.ID, &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrItemNotFound
		}
		return storageErr("get item", err)
	}

	if rec.Code != item.Code {
		newKey := []byte(itemCodeKeyPrefix + item.Code)
		if _, err := u.txn.Get(newKey); err == nil {
			return domain.ErrDuplicateCode
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return storageErr("get item code", err)
		}
		if err := u.txn.Delete([]byte(itemCodeKeyPrefix + rec.Code)); err != nil {
			return storageErr("delete item code", err)
		}
		if err := u.txn.Set(newKey, []byte(item.ID)); err != nil {
			return storageErr("set item code", err)
		}
	}

	stock := rec.Stock
	rec = newItemRecord(item)
	rec.Stock = stock
	return setJSON(u.txn, itemKeyPrefix+item.ID, rec)
}

func (u *badgerUnit) DeleteItem(ctx context.Context, id string) error {
	var rec itemRecord
	if err := getJSON(u.txn, itemKeyPrefix+id, &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrItemNotFound
		}
		return storageErr("get item", err)
	}
	if err := u.txn.Delete([]byte(itemCodeKeyPrefix + rec.Code)); err != nil {
		return storageErr("delete item code", err)
	}
	if err := u.txn.Delete([]byte(itemKeyPrefix + id)); err != nil {
		return storageErr("delete item", err)
	}
	return nil
}

func (u *badgerUnit) InsertTransaction(ctx context.Context, t domain.Transaction) error {
	err := setJSON(u.txn, txKeyPrefix+t.ID, txRecord{
		ID:           t.ID,
		CustomerName: t.CustomerName,
		InvoiceID:    t.InvoiceID,
		TotalPrice:   t.TotalPrice,
		CreatedAt:    t.CreatedAt,
	})
	if err != nil {
		return err
	}
	for i, l := range t.Lines {
		err := setJSON(u.txn, lineKey(t.ID, i), lineRecord{
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *badgerUnit) TransactionLines(ctx context.Context, txID string) ([]domain.TransactionLine, error) {
	if _, err := u.txn.Get([]byte(txKeyPrefix + txID)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, storageErr("get transaction", err)
	}
	return readLines(u.txn, txID)
}

func (u *badgerUnit) DeleteTransaction(ctx context.Context, txID string) error {
	key := []byte(txKeyPrefix + txID)
	if _, err := u.txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrTransactionNotFound
		}
		return storageErr("get transaction", err)
	}

	var lineKeys [][]byte
	err := scanPrefix(u.txn, linePrefix(txID), func(k []byte, _ []byte) error {
		lineKeys = append(lineKeys, k)
		return nil
	})
	if err != nil {
		return storageErr("scan transaction lines", err)
	}
	for _, k := range lineKeys {
		if err := u.txn.Delete(k); err != nil {
			return storageErr("delete transaction line", err)
		}
	}
	if err := u.txn.Delete(key); err != nil {
		return storageErr("delete transaction", err)
	}
	return nil
}

func getItem(txn *badger.Txn, id string) (*domain.Item, error) {
	var rec itemRecord
	if err := getJSON(txn, itemKeyPrefix+id, &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrItemNotFound
		}
		return nil, storageErr("get item", err)
	}
	item := rec.toDomain()
	return &item, nil
}

func readLines(txn *badger.Txn, txID string) ([]domain.TransactionLine, error) {
	lines := []domain.TransactionLine{}
	err := scanPrefix(txn, linePrefix(txID), func(_ []byte, val []byte) error {
		var rec lineRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		lines = append(lines, domain.TransactionLine{
			ItemID:    rec.ItemID,
			Quantity:  rec.Quantity,
			UnitPrice: rec.UnitPrice,
		})
		return nil
	})
	if err != nil {
		return nil, storageErr("read transaction lines", err)
	}
	return lines, nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	it, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return it.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return storageErr("set "+key, err)
	}
	return nil
}

// scanPrefix visits every key under prefix in key order. Keys and values
// passed to fn are copies.
func scanPrefix(txn *badger.Txn, prefix string, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

func linePrefix(txID string) string {
	return txLineKeyPrefix + txID + ":"
}

func lineKey(txID string, n int) string {
	return fmt.Sprintf("%s%06d", linePrefix(txID), n)
}

func newItemRecord(it domain.Item) itemRecord {
	return itemRecord{
		ID:        it.ID,
		Code:      it.Code,
		Name:      it.Name,
		Category:  string(it.Category),
		Stock:     it.Stock,
		Price:     it.Price,
		MinStock:  it.MinStock,
		UpdatedAt: it.UpdatedAt,
	}
}

func (r itemRecord) toDomain() domain.Item {
	return domain.Item{
		ID:        r.ID,
		Code:      r.Code,
		Name:      r.Name,
		Category:  domain.Category(r.Category),
		Stock:     r.Stock,
		Price:     r.Price,
		MinStock:  r.MinStock,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r txRecord) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:           r.ID,
		CustomerName: r.CustomerName,
		InvoiceID:    r.InvoiceID,
		TotalPrice:   r.TotalPrice,
		CreatedAt:    r.CreatedAt,
	}
}

type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
