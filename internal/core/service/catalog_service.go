package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

type CatalogService struct {
	store  port.LedgerStore
	stock  *StockAdjuster
	logger *slog.Logger
	now    func() time.Time
}

func NewCatalogService(store port.LedgerStore, stock *StockAdjuster, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CatalogService{
		store:  store,
		stock:  stock,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *CatalogService) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	item = normalizeItem(item)
	if err := item.Validate(); err != nil {
		return nil, err
	}
	item.ID = uuid.NewString()
	item.UpdatedAt = s.now()

	err := s.store.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.InsertItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item created", "item_id", item.ID, "code", item.Code, "stock", item.Stock)
	return &item, nil
}

// UpdateItem replaces the descriptive fields of an item. A changed stock
// figure goes through the stock adjuster as a delta in the same unit.
func (s *CatalogService) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	item = normalizeItem(item)
	if err := item.Validate(); err != nil {
		return nil, err
	}
	item.UpdatedAt = s.now()

	err := s.store.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		current, err := uow.LockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if err := uow.UpdateItem(ctx, item); err != nil {
			return err
		}
		if delta := item.Stock - current.Stock; delta != 0 {
			if _, err := s.stock.Adjust(ctx, uow, item.ID, delta); err != nil {
				return err
			}
			s.logger.Info("stock corrected", "item_id", item.ID, "from", current.Stock, "to", item.Stock)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *CatalogService) DeleteItem(ctx context.Context, id string) error {
	err := s.store.Atomic(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.DeleteItem(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("item deleted", "item_id", id)
	return nil
}

func (s *CatalogService) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return s.store.GetItem(ctx, id)
}

func (s *CatalogService) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.store.ListItems(ctx)
}

func normalizeItem(item domain.Item) domain.Item {
	item.Code = strings.TrimSpace(item.Code)
	item.Name = strings.TrimSpace(item.Name)
	return item
}
