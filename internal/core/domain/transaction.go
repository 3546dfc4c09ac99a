package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lengths count characters, not bytes.
const (
	MaxCustomerNameLen = 255
	MaxInvoiceIDLen    = 100
)

type Transaction struct {
	ID           string
	CustomerName string
	InvoiceID    string
	TotalPrice   decimal.Decimal
	CreatedAt    time.Time
	Lines        []TransactionLine
}

// TransactionLine has no identity of its own; it lives and dies with its
// parent transaction.
type TransactionLine struct {
	ItemID    string
	Quantity  int
	UnitPrice decimal.Decimal // captured at sale time
}

func (l TransactionLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LinesTotal sums the line totals.
func LinesTotal(lines []TransactionLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}
