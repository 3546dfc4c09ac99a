package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/core/service"
)

// JSON field names match the web client of the back-office tool.

type ItemHTTPRequest struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
	Price    decimal.Decimal `json:"price"`
	MinStock int             `json:"minStock"`
}

func (r ItemHTTPRequest) toDomain(id string) domain.Item {
	return domain.Item{
		ID:       id,
		Code:     r.Code,
		Name:     r.Name,
		Category: domain.Category(r.Category),
		Stock:    r.Stock,
		Price:    r.Price,
		MinStock: r.MinStock,
	}
}

type ItemHTTPResponse struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Stock        int             `json:"stock"`
	Price        decimal.Decimal `json:"price"`
	MinStock     int             `json:"minStock"`
	LowStock     bool            `json:"lowStock"`
	ModifiedDate time.Time       `json:"modifiedDate"`
}

func newItemResponse(it domain.Item) ItemHTTPResponse {
	return ItemHTTPResponse{
		ID:           it.ID,
		Code:         it.Code,
		Name:         it.Name,
		Category:     string(it.Category),
		Stock:        it.Stock,
		Price:        it.Price,
		MinStock:     it.MinStock,
		LowStock:     it.LowStock(),
		ModifiedDate: it.UpdatedAt,
	}
}

type TransactionLineHTTPRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type CreateTransactionHTTPRequest struct {
	CustomerName string                       `json:"customerName"`
	InvoiceID    string                       `json:"invoiceId"`
	Items        []TransactionLineHTTPRequest `json:"items"`
}

type TransactionLineHTTPResponse struct {
	ItemID    string          `json:"itemId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
}

type TransactionHTTPResponse struct {
	ID           string                        `json:"id"`
	InvoiceID    string                        `json:"invoiceId"`
	CustomerName string                        `json:"customerName"`
	TotalPrice   decimal.Decimal               `json:"totalPrice"`
	CreateDate   time.Time                     `json:"createDate"`
	Items        []TransactionLineHTTPResponse `json:"items,omitempty"`
}

func newTransactionResponse(t domain.Transaction) TransactionHTTPResponse {
	resp := TransactionHTTPResponse{
		ID:           t.ID,
		InvoiceID:    t.InvoiceID,
		CustomerName: t.CustomerName,
		TotalPrice:   t.TotalPrice,
		CreateDate:   t.CreatedAt,
	}
	for _, l := range t.Lines {
		resp.Items = append(resp.Items, TransactionLineHTTPResponse{
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     l.Total(),
		})
	}
	return resp
}

type BestSellerHTTPResponse struct {
	ItemID   string `json:"itemId"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type SummaryHTTPResponse struct {
	ItemCount        int                      `json:"itemCount"`
	TotalStock       int                      `json:"totalStock"`
	LowStockItems    []ItemHTTPResponse       `json:"lowStockItems"`
	TransactionCount int                      `json:"transactionCount"`
	Revenue          decimal.Decimal          `json:"revenue"`
	BestSellers      []BestSellerHTTPResponse `json:"bestSellers"`
}

func newSummaryResponse(s *service.Summary) SummaryHTTPResponse {
	resp := SummaryHTTPResponse{
		ItemCount:        s.ItemCount,
		TotalStock:       s.TotalStock,
		LowStockItems:    make([]ItemHTTPResponse, 0, len(s.LowStockItems)),
		TransactionCount: s.TransactionCount,
		Revenue:          s.Revenue,
		BestSellers:      make([]BestSellerHTTPResponse, 0, len(s.BestSellers)),
	}
	for _, it := range s.LowStockItems {
		resp.LowStockItems = append(resp.LowStockItems, newItemResponse(it))
	}
	for _, bs := range s.BestSellers {
		resp.BestSellers = append(resp.BestSellers, BestSellerHTTPResponse(bs))
	}
	return resp
}

type LoginHTTPRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginHTTPResponse struct {
	Token string `json:"token"`
}

type MessageHTTPResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
