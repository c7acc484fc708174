/*
store.go - Persistence interface for products, ledger entries and sales

PURPOSE:
  Defines the boundary between the engine and the database. The engine never
  holds a global database handle; a Store is injected into NewLedger,
  NewCatalog, NewReports and NewReconciler.

KEY INTERFACES:
  Writer:   The writes that must land together (product, entry, sale)
  Store:    Writer + WithTx + read queries + descriptive product updates
  RunStore: Reconciliation run history

APPEND-ONLY CONTRACT:
  Ledger entries and sales have insert methods only. There is no Update or
  Delete for either. Products are never deleted; DeactivateProduct flips
  IsActive.

STOCK WRITES:
  UpdateStock is compare-and-set: it succeeds only if the stored stock still
  equals `previous`. A mismatch returns ErrConcurrentModification so the
  engine can re-read and retry. UpdateProduct never touches stock.

ATOMICITY:
  WithTx runs fn against a transactional Writer. If fn returns an error
  nothing fn wrote is kept. The engine writes the ledger entry before the
  product stock inside the same transaction.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - stock/memstore/memory.go: In-memory for tests and demos

SEE ALSO:
  - ledger.go: Uses WithTx for every mutation
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// WRITER - Operations that participate in a transaction
// =============================================================================

// Writer is the transactional surface. GetProduct returns (nil, nil) when the
// product does not exist.
type Writer interface {
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	InsertProduct(ctx context.Context, p Product) error
	UpdateStock(ctx context.Context, id ProductID, previous, next int) error
	AppendEntry(ctx context.Context, e LedgerEntry) error
	InsertSale(ctx context.Context, s Sale) error
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence. Writer methods called directly on a Store run
// in their own implicit transaction.
type Store interface {
	Writer

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Writer) error) error

	// UpdateProduct writes descriptive fields and IsActive. Stock is untouched.
	UpdateProduct(ctx context.Context, p Product) error

	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)

	// ListEntries returns entries matching filter. Newest first unless
	// filter.Oldest is set.
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)

	// GetSale returns (nil, nil) when the sale does not exist.
	GetSale(ctx context.Context, id SaleID) (*Sale, error)

	// ListSales returns sales newest first.
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
}

type ProductFilter struct {
	IncludeInactive bool
	Category        Category
	LowStockOnly    bool
}

type EntryFilter struct {
	ProductID ProductID
	Limit     int
	Oldest    bool // chronological order, used by replay
}

type SaleFilter struct {
	From *time.Time // inclusive
	To   *time.Time // inclusive
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationRun is the persisted outcome of one reconciliation sweep.
type ReconciliationRun struct {
	ID              string
	Status          RunStatus
	ProductsChecked int
	EntriesChecked  int
	Discrepancies   []Discrepancy
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// RunStore persists reconciliation history.
type RunStore interface {
	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}
