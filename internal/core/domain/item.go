package domain

import (
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Lengths count characters, not bytes.
const (
	MaxItemCodeLen = 50
	MaxItemNameLen = 100
)

// Prices carry at most two decimal places, matching the DECIMAL(14,2)
// columns.
const PriceScale = 2

var (
	MinPrice = decimal.New(1, -PriceScale)
	MaxPrice = decimal.RequireFromString("999999999999.99")
)

type Category string

const (
	CategoryElectronics     Category = "Electronics"
	CategoryBooks           Category = "Books"
	CategoryClothing        Category = "Clothing"
	CategoryHomeGoods       Category = "Home Goods"
	CategoryOfficeSupplies  Category = "Office Supplies"
	CategoryFurniture       Category = "Furniture"
	CategorySportsEquipment Category = "Sports Equipment"
	CategoryToysAndGames    Category = "Toys & Games"
	CategoryAutomotive      Category = "Automotive"
	CategoryOther           Category = "Other"
)

var Categories = []Category{
	CategoryElectronics,
	CategoryBooks,
	CategoryClothing,
	CategoryHomeGoods,
	CategoryOfficeSupplies,
	CategoryFurniture,
	CategorySportsEquipment,
	CategoryToysAndGames,
	CategoryAutomotive,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type Item struct {
	ID        string
	Code      string
	Name      string
	Category  Category
	Stock     int
	Price     decimal.Decimal
	MinStock  int // low-stock signal only, never enforced
	UpdatedAt time.Time
}

// LowStock reports whether the item is at or below its minimum stock.
func (i Item) LowStock() bool {
	return i.Stock <= i.MinStock
}

// Validate checks the field bounds of a catalog record. Uniqueness of Code
// is left to the store.
func (i Item) Validate() error {
	switch {
	case i.Code == "":
		return NewValidationError("code", "is required")
	case utf8.RuneCountInString(i.Code) > MaxItemCodeLen:
		return NewValidationError("code", "must be at most 50 characters")
	case i.Name == "":
		return NewValidationError("name", "is required")
	case utf8.RuneCountInString(i.Name) > MaxItemNameLen:
		return NewValidationError("name", "must be at most 100 characters")
	case !i.Category.Valid():
		return NewValidationError("category", "is not a known category")
	case i.Stock < 0:
		return NewValidationError("stock", "must not be negative")
	case i.Price.LessThan(MinPrice):
		return NewValidationError("price", "must be at least 0.01")
	case i.Price.GreaterThan(MaxPrice):
		return NewValidationError("price", "is too large")
	case !ValidPriceScale(i.Price):
		return NewValidationError("price", "must have at most 2 decimal places")
	case i.MinStock < 0:
		return NewValidationError("minStock", "must not be negative")
	}
	return nil
}

// ValidPriceScale reports whether d has no digits beyond PriceScale.
// Trailing zeros do not count, so 1.500 is accepted.
func ValidPriceScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(PriceScale))
}
