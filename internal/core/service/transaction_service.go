package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

const idempotencyKeyPrefix = "idempotency:tx:"

type LineInput struct {
	ItemID   string
	Quantity int
}

type CreateTransactionInput struct {
	CustomerName string
	InvoiceID    string
	Lines        []LineInput
	// IdempotencyKey is optional. When set and a cache is configured, a
	// repeated key is rejected with ErrDuplicateRequest.
	IdempotencyKey string
}

type TransactionService struct {
	store  port.LedgerStore
	cache  port.CacheRepository
	stock  *StockAdjuster
	logger *slog.Logger
	now    func() time.Time
}

// NewTransactionService wires the orchestrator. cache may be nil, which
// disables idempotency keys.
func NewTransactionService(store port.LedgerStore, cache port.CacheRepository, stock *StockAdjuster, logger *slog.Logger) *TransactionService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TransactionService{
		store:  store,
		cache:  cache,
		stock:  stock,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *TransactionService) CreateTransaction(ctx context.Context, in CreateTransactionInput) (string, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.InvoiceID = strings.TrimSpace(in.InvoiceID)
	if err := validateCreate(in); err != nil {
		return "", err
	}

	if in.IdempotencyKey != "" && s.cache != nil {
		key := idempotencyKeyPrefix + in.IdempotencyKey
		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return "", fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return "", ErrDuplicateRequest
		}
		id, err := s.createTransaction(ctx, in)
		if err != nil {
			if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); relErr != nil {
				s.logger.Warn("release idempotency key", "key", key, "error", relErr)
			}
			return "", err
		}
		return id, nil
	}

	return s.createTransaction(ctx, in)
}

func (s *TransactionService) createTransaction(ctx context.Context, in CreateTransactionInput) (string, error) {
	tx := domain.Transaction{
		ID:           uuid.NewString(),
		CustomerName: in.CustomerName,
		InvoiceID:    in.InvoiceID,
		CreatedAt:    s.now(),
	}

	err := s.store.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		// Lock every referenced item in id order before anything is written,
		// so concurrent sales over the same items cannot deadlock.
		requested := make(map[string]int, len(in.Lines))
		for _, l := range in.Lines {
			requested[l.ItemID] += l.Quantity
		}
		ids := make([]string, 0, len(requested))
		for id := range requested {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		items := make(map[string]*domain.Item, len(ids))
		for _, id := range ids {
			item, err := uow.LockItem(ctx, id)
			if err != nil {
				return err
			}
			if requested[id] > item.Stock {
				return &domain.InsufficientStockError{
					ItemID:    id,
					Requested: requested[id],
					Available: item.Stock,
				}
			}
			items[id] = item
		}

		lines := make([]domain.TransactionLine, 0, len(in.Lines))
		for _, l := range in.Lines {
			lines = append(lines, domain.TransactionLine{
				ItemID:    l.ItemID,
				Quantity:  l.Quantity,
				UnitPrice: items[l.ItemID].Price,
			})
		}
		tx.Lines = lines
		tx.TotalPrice = domain.LinesTotal(lines)

		if err := uow.InsertTransaction(ctx, tx); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		for _, l := range tx.Lines {
			if _, err := s.stock.Adjust(ctx, uow, l.ItemID, -l.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("create transaction aborted",
			"invoice_id", in.InvoiceID, "lines", len(in.Lines), "error", err)
		return "", err
	}

	s.logger.Info("transaction committed",
		"transaction_id", tx.ID,
		"invoice_id", tx.InvoiceID,
		"lines", len(tx.Lines),
		"total", tx.TotalPrice.StringFixed(2),
	)
	return tx.ID, nil
}

func (s *TransactionService) DeleteTransaction(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrTransactionNotFound
	}

	var restored int
	err := s.store.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		lines, err := uow.TransactionLines(ctx, id)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := s.stock.Adjust(ctx, uow, l.ItemID, l.Quantity); err != nil {
				return fmt.Errorf("restore stock for %s: %w", l.ItemID, err)
			}
		}
		restored = len(lines)
		return uow.DeleteTransaction(ctx, id)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			s.logger.Warn("delete transaction aborted", "transaction_id", id, "error", err)
		}
		return err
	}

	s.logger.Info("transaction deleted", "transaction_id", id, "lines_restored", restored)
	return nil
}

func (s *TransactionService) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.store.ListTransactions(ctx)
}

func (s *TransactionService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func validateCreate(in CreateTransactionInput) error {
	switch {
	case in.CustomerName == "":
		return domain.NewValidationError("customerName", "is required")
	case utf8.RuneCountInString(in.CustomerName) > domain.MaxCustomerNameLen:
		return domain.NewValidationError("customerName", "must be at most 255 characters")
	case in.InvoiceID == "":
		return domain.NewValidationError("invoiceId", "is required")
	case utf8.RuneCountInString(in.InvoiceID) > domain.MaxInvoiceIDLen:
		return domain.NewValidationError("invoiceId", "must be at most 100 characters")
	}
	if len(in.Lines) == 0 {
		return domain.NewValidationError("items", "at least one line is required")
	}
	for i, l := range in.Lines {
		if strings.TrimSpace(l.ItemID) == "" {
			return domain.NewValidationError(fmt.Sprintf("items[%d].id", i), "is required")
		}
		if l.Quantity < 1 {
			return domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
	}
	return nil
}
