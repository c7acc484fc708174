/*
reports.go - Read-only views over products, ledger and sales

PURPOSE:
  Dashboard figures and history queries. Nothing here takes a product lock or
  writes anything; reads may interleave with ledger operations and see the
  state before or after any one of them, never half of one.

VIEWS:
  InventorySummary   active products, low-stock count, stock value, last 10 moves
  Ledger             one product's entries, newest first
  SalesSummary       today's and all-time sale counts and revenue
  SalesInRange       sales between two instants with revenue and item totals
*/
package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// RecentMovementsLimit is the number of entries returned in InventorySummary.
const RecentMovementsLimit = 10

type InventorySummary struct {
	TotalProducts    int
	LowStockProducts int
	TotalStockValue  decimal.Decimal
	RecentMovements  []LedgerEntry
}

type SalesSummary struct {
	TodaySales   int
	TodayRevenue decimal.Decimal
	TotalSales   int
	TotalRevenue decimal.Decimal
}

type SalesRange struct {
	Sales        []Sale
	TotalRevenue decimal.Decimal
	TotalItems   int
	TotalSales   int
}

type Reports struct {
	store Store
	now   func() time.Time
}

// NewReports builds the read-only views. A nil clock means time.Now.
func NewReports(store Store, now func() time.Time) *Reports {
	if now == nil {
		now = time.Now
	}
	return &Reports{store: store, now: now}
}

// =============================================================================
// INVENTORY
// =============================================================================

// InventorySummary aggregates active products and the most recent movements.
func (r *Reports) InventorySummary(ctx context.Context) (*InventorySummary, error) {
	var (
		products []Product
		recent   []LedgerEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = r.store.ListProducts(gctx, ProductFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = r.store.ListEntries(gctx, EntryFilter{Limit: RecentMovementsLimit})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, classify("inventory summary", err)
	}

	summary := &InventorySummary{
		TotalProducts:   len(products),
		TotalStockValue: decimal.Zero,
		RecentMovements: recent,
	}
	for _, p := range products {
		if p.IsLowStock() {
			summary.LowStockProducts++
		}
		summary.TotalStockValue = summary.TotalStockValue.Add(p.StockValue())
	}
	return summary, nil
}

// Ledger returns entries newest first. An empty productID returns every entry.
func (r *Reports) Ledger(ctx context.Context, productID ProductID) ([]LedgerEntry, error) {
	entries, err := r.store.ListEntries(ctx, EntryFilter{ProductID: productID})
	if err != nil {
		return nil, classify("list ledger", err)
	}
	return entries, nil
}

// =============================================================================
// SALES
// =============================================================================

func (r *Reports) Sales(ctx context.Context) ([]Sale, error) {
	sales, err := r.store.ListSales(ctx, SaleFilter{})
	if err != nil {
		return nil, classify("list sales", err)
	}
	return sales, nil
}

// Sale returns the sale or a NotFoundError.
func (r *Reports) Sale(ctx context.Context, id SaleID) (*Sale, error) {
	s, err := r.store.GetSale(ctx, id)
	if err != nil {
		return nil, classify("get sale", err)
	}
	if s == nil {
		return nil, &NotFoundError{Resource: "sale", ID: string(id), Line: -1}
	}
	return s, nil
}

// SalesSummary counts sales made today (in the clock's location) and overall.
func (r *Reports) SalesSummary(ctx context.Context) (*SalesSummary, error) {
	now := r.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	sales, err := r.store.ListSales(ctx, SaleFilter{})
	if err != nil {
		return nil, classify("sales summary", err)
	}

	summary := &SalesSummary{
		TodayRevenue: decimal.Zero,
		TotalSales:   len(sales),
		TotalRevenue: decimal.Zero,
	}
	endOfDay := startOfDay.AddDate(0, 0, 1)
	for _, s := range sales {
		summary.TotalRevenue = summary.TotalRevenue.Add(s.TotalAmount)
		if !s.CreatedAt.Before(startOfDay) && s.CreatedAt.Before(endOfDay) {
			summary.TodaySales++
			summary.TodayRevenue = summary.TodayRevenue.Add(s.TotalAmount)
		}
	}
	return summary, nil
}

// SalesInRange returns sales created in [from, to] with their totals.
func (r *Reports) SalesInRange(ctx context.Context, from, to time.Time) (*SalesRange, error) {
	v := &ValidationError{}
	if from.IsZero() {
		v.Add("startDate", "start date is required")
	}
	if to.IsZero() {
		v.Add("endDate", "end date is required")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		v.Add("endDate", "end date must not be before start date")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	sales, err := r.store.ListSales(ctx, SaleFilter{From: &from, To: &to})
	if err != nil {
		return nil, classify("sales in range", err)
	}

	out := &SalesRange{
		Sales:        sales,
		TotalRevenue: decimal.Zero,
		TotalSales:   len(sales),
	}
	for _, s := range sales {
		out.TotalRevenue = out.TotalRevenue.Add(s.TotalAmount)
		out.TotalItems += s.ItemCount()
	}
	return out, nil
}
