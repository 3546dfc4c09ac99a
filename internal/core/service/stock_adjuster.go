package service

import (
	"context"
	"fmt"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

// StockAdjuster is the only writer of Item.Stock. It never opens its own
// unit of work; callers pass the one they are running in.
type StockAdjuster struct{}

func NewStockAdjuster() *StockAdjuster {
	return &StockAdjuster{}
}

// Adjust applies delta (negative for a sale, positive for a restore) to the
// item's stock and returns the new level. A result below zero is rejected
// with *domain.InsufficientStockError.
func (a *StockAdjuster) Adjust(ctx context.Context, uow port.UnitOfWork, itemID string, delta int) (int, error) {
	item, err := uow.LockItem(ctx, itemID)
	if err != nil {
		return 0, err
	}

	next := item.Stock + delta
	if next < 0 {
		return 0, &domain.InsufficientStockError{
			ItemID:    itemID,
			Requested: -delta,
			Available: item.Stock,
		}
	}
	if delta == 0 {
		return item.Stock, nil
	}

	if err := uow.SetStock(ctx, itemID, next); err != nil {
		return 0, fmt.Errorf("set stock for %s: %w", itemID, err)
	}
	return next, nil
}
