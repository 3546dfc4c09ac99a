package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/port"
)

const DefaultBestSellers = 5

type BestSeller struct {
	ItemID   string
	Code     string
	Name     string
	Quantity int
}

type Summary struct {
	ItemCount        int
	TotalStock       int
	LowStockItems    []domain.Item
	TransactionCount int
	Revenue          decimal.Decimal
	BestSellers      []BestSeller
}

type ReportService struct {
	store       port.LedgerStore
	bestSellers int
}

func NewReportService(store port.LedgerStore, bestSellers int) *ReportService {
	if bestSellers <= 0 {
		bestSellers = DefaultBestSellers
	}
	return &ReportService{store: store, bestSellers: bestSellers}
}

func (s *ReportService) Summary(ctx context.Context) (*Summary, error) {
	var (
		items []domain.Item
		txs   []domain.Transaction
		sold  map[string]int
	)
	// One view, so counts, revenue and best sellers agree with each other.
	err := s.store.Snapshot(ctx, func(ctx context.Context, view port.LedgerView) error {
		var err error
		if items, err = view.ListItems(ctx); err != nil {
			return err
		}
		if txs, err = view.ListTransactions(ctx); err != nil {
			return err
		}
		sold, err = view.SoldQuantities(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		ItemCount:        len(items),
		LowStockItems:    []domain.Item{},
		TransactionCount: len(txs),
		Revenue:          decimal.Zero,
	}

	byID := make(map[string]domain.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
		sum.TotalStock += it.Stock
		if it.LowStock() {
			sum.LowStockItems = append(sum.LowStockItems, it)
		}
	}
	for _, tx := range txs {
		sum.Revenue = sum.Revenue.Add(tx.TotalPrice)
	}

	sellers := make([]BestSeller, 0, len(sold))
	for id, qty := range sold {
		bs := BestSeller{ItemID: id, Quantity: qty}
		// Lines can outlive their catalog row.
		if it, ok := byID[id]; ok {
			bs.Code = it.Code
			bs.Name = it.Name
		}
		sellers = append(sellers, bs)
	}
	sort.Slice(sellers, func(i, j int) bool {
		if sellers[i].Quantity != sellers[j].Quantity {
			return sellers[i].Quantity > sellers[j].Quantity
		}
		if sellers[i].Name != sellers[j].Name {
			return sellers[i].Name < sellers[j].Name
		}
		return sellers[i].ItemID < sellers[j].ItemID
	})
	if len(sellers) > s.bestSellers {
		sellers = sellers[:s.bestSellers]
	}
	sum.BestSellers = sellers

	return sum, nil
}
