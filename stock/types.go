/*
Package stock provides the stock-ledger consistency engine.

PURPOSE:
  This package owns the rules that keep a product's stock quantity consistent
  with the append-only log of stock movements. Every change to a product's
  stock goes through the Ledger, which writes exactly one LedgerEntry per
  change and refuses anything that would drive stock below zero.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: catalog record that owns the current stock quantity
  - LedgerEntry: immutable before/after record of one stock change
  - Sale: multi-line point-of-sale transaction with price snapshots
  - Enums: Category, Unit, EntryType, PaymentMethod, PaymentStatus

DESIGN PRINCIPLES:
  1. Immutability: ledger entries and sales are never modified
  2. Precision: money uses decimal.Decimal, stock uses whole units
  3. Type Safety: distinct ID types for products, entries and sales
  4. Traceability: StockQuantity == replay of the product's ledger

USAGE:
  entry, err := ledger.ReceiveStock(ctx, stock.Movement{
      ProductID:   "3f0c...",
      Quantity:    24,
      Reason:      "Weekly delivery",
      PerformedBy: "maria",
      Reference:   "INV-2041",
  })

SEE ALSO:
  - ledger.go: The four sanctioned mutation operations
  - sale.go: Multi-line sale validation and pricing
  - catalog.go: Product registration and soft delete
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type EntryID string
type SaleID string

// =============================================================================
// PRODUCT
// =============================================================================

type Category string

const (
	CategoryMilk     Category = "Milk"
	CategoryCheese   Category = "Cheese"
	CategoryYogurt   Category = "Yogurt"
	CategoryButter   Category = "Butter"
	CategoryCream    Category = "Cream"
	CategoryIceCream Category = "Ice Cream"
	CategoryOther    Category = "Other"
)

var Categories = []Category{
	CategoryMilk, CategoryCheese, CategoryYogurt, CategoryButter,
	CategoryCream, CategoryIceCream, CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

type Unit string

const (
	UnitLiter    Unit = "Liter"
	UnitKilogram Unit = "Kilogram"
	UnitPiece    Unit = "Piece"
	UnitPack     Unit = "Pack"
)

var Units = []Unit{UnitLiter, UnitKilogram, UnitPiece, UnitPack}

func (u Unit) Valid() bool {
	for _, v := range Units {
		if u == v {
			return true
		}
	}
	return false
}

// DefaultMinStockLevel is applied when a product is registered without one.
const DefaultMinStockLevel = 10

// Product is a catalog record. StockQuantity is owned by the product but is
// only ever written by a Ledger operation.
type Product struct {
	ID            ProductID
	Name          string
	Category      Category
	Description   string
	Price         decimal.Decimal
	Cost          decimal.Decimal
	Unit          Unit
	StockQuantity int
	MinStockLevel int
	Supplier      string
	ExpiryDate    *time.Time
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsLowStock reports whether an active product is at or below its threshold.
func (p Product) IsLowStock() bool {
	return p.IsActive && p.StockQuantity <= p.MinStockLevel
}

// StockValue is stock quantity times the selling price.
func (p Product) StockValue() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.StockQuantity)))
}

// Summary returns the display fields attached to ledger entries and sale lines.
func (p Product) Summary() *ProductSummary {
	return &ProductSummary{
		ID:       p.ID,
		Name:     p.Name,
		Category: p.Category,
		Price:    p.Price,
		Unit:     p.Unit,
		IsActive: p.IsActive,
	}
}

// ProductSummary is the resolved view of a product referenced by an entry or
// a sale line. It reflects the product as it is now, not at write time.
type ProductSummary struct {
	ID       ProductID
	Name     string
	Category Category
	Price    decimal.Decimal
	Unit     Unit
	IsActive bool
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one stock change
// =============================================================================

type EntryType string

const (
	EntryIn         EntryType = "In"         // Goods received
	EntryOut        EntryType = "Out"        // Sold
	EntryAdjustment EntryType = "Adjustment" // Manual correction, signed
	EntryExpiry     EntryType = "Expiry"     // Written off, past expiry date
	EntryDamage     EntryType = "Damage"     // Written off, damaged
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryIn, EntryOut, EntryAdjustment, EntryExpiry, EntryDamage:
		return true
	}
	return false
}

// IsLoss reports whether t is one of the loss types accepted by RecordLoss.
func (t EntryType) IsLoss() bool {
	return t == EntryExpiry || t == EntryDamage
}

// LedgerEntry records one stock change with the before/after snapshot taken
// at write time. Entries are never updated or deleted.
type LedgerEntry struct {
	ID            EntryID
	ProductID     ProductID
	Type          EntryType
	Quantity      int // magnitude, except Adjustment which is signed
	PreviousStock int
	NewStock      int
	Reason        string
	Reference     string
	Notes         string
	PerformedBy   string
	CreatedAt     time.Time

	// Product is resolved on read for display. Nil when written.
	Product *ProductSummary
}

// Effect is the signed change this entry applies to the product's stock.
func (e LedgerEntry) Effect() int {
	switch e.Type {
	case EntryIn, EntryAdjustment:
		return e.Quantity
	default:
		return -e.Quantity
	}
}

// Consistent reports whether NewStock follows from PreviousStock and Effect.
func (e LedgerEntry) Consistent() bool {
	return e.NewStock == e.PreviousStock+e.Effect() && e.NewStock >= 0
}

// =============================================================================
// SALE
// =============================================================================

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "Cash"
	PaymentCard    PaymentMethod = "Card"
	PaymentDigital PaymentMethod = "Digital Payment"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentCard || m == PaymentDigital
}

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "Paid"
	PaymentPending PaymentStatus = "Pending"
	PaymentFailed  PaymentStatus = "Failed"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPaid || s == PaymentPending || s == PaymentFailed
}

// SaleItem is one line of a sale. UnitPrice is the product price at the time
// the sale was committed.
type SaleItem struct {
	ProductID  ProductID
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal

	Product *ProductSummary
}

type Sale struct {
	ID            SaleID
	CustomerName  string
	CustomerPhone string
	Items         []SaleItem
	TotalAmount   decimal.Decimal
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Discount      decimal.Decimal
	Notes         string
	CreatedAt     time.Time
}

// Subtotal is the sum of line totals before discount.
func (s Sale) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.TotalPrice)
	}
	return total
}

// ItemCount is the total number of units across all lines.
func (s Sale) ItemCount() int {
	n := 0
	for _, item := range s.Items {
		n += item.Quantity
	}
	return n
}
