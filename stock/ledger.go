/*
ledger.go - The stock ledger engine

PURPOSE:
  The Ledger exposes the only sanctioned ways to change a product's stock:
  ReceiveStock, AdjustStock, RecordLoss and CommitSale (sale.go). Each one
  reads the product, computes the new stock, appends one LedgerEntry per
  change and writes the product stock, all as one unit.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: StockQuantity >= 0, checked before any write
  2. TRACEABLE: every stock change has exactly one LedgerEntry
  3. SNAPSHOT: entry.NewStock == entry.PreviousStock + entry.Effect()
  4. ALL OR NOTHING: a rejected operation leaves product and ledger untouched

HOW A MUTATION RUNS:
  1. Validate input (no locks, no reads)
  2. Lock the product(s) in ascending id order (KeyedLocker)
  3. Store.WithTx:
       read product -> compute -> AppendEntry -> UpdateStock (CAS)
  4. A lost CAS rolls back and the transaction is retried, up to
     MaxAttempts, then TransientError

EXAMPLE:
  stock 10, ReceiveStock(5)     -> In          10 -> 15
  stock 15, AdjustStock(-3)     -> Adjustment  15 -> 12  (quantity -3)
  stock 12, RecordLoss(2 Expiry)-> Expiry      12 -> 10
  stock 10, RecordLoss(20)      -> InsufficientStockError, nothing written

SEE ALSO:
  - sale.go: CommitSale, the multi-line entry point
  - locks.go: Per-product serialization
  - reconcile.go: Replays the ledger to verify stock
*/
package stock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the number of transaction attempts made when a
// compare-and-set stock write loses a race.
const DefaultMaxAttempts = 3

// Movement is the input for a single-product stock change.
type Movement struct {
	ProductID   ProductID
	Quantity    int
	Type        EntryType // RecordLoss only: Expiry or Damage
	Reason      string
	Reference   string
	Notes       string
	PerformedBy string
}

func (m Movement) validate() *ValidationError {
	v := &ValidationError{}
	if strings.TrimSpace(string(m.ProductID)) == "" {
		v.Add("productId", "product ID is required")
	}
	if strings.TrimSpace(m.Reason) == "" {
		v.Add("reason", "reason is required")
	}
	if strings.TrimSpace(m.PerformedBy) == "" {
		v.Add("performedBy", "performed by is required")
	}
	return v
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store       Store
	locks       *KeyedLocker
	lockTimeout time.Duration
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

type Option func(*Ledger)

// WithLockTimeout bounds the wait for a busy product.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.lockTimeout = d }
}

// WithMaxAttempts sets how many times a transaction is attempted after a
// concurrent stock write. Values below 1 are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) { l.maxAttempts = n }
}

// WithClock overrides the time source used for entry and sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		lockTimeout: DefaultLockTimeout,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxAttempts < 1 {
		l.maxAttempts = 1
	}
	l.locks = NewKeyedLocker(l.lockTimeout)
	return l
}

// Store returns the injected store.
func (l *Ledger) Store() Store { return l.store }

// =============================================================================
// OPERATIONS
// =============================================================================

// ReceiveStock adds quantity units to the product and records an In entry.
func (l *Ledger) ReceiveStock(ctx context.Context, m Movement) (*LedgerEntry, error) {
	v := m.validate()
	if m.Quantity < 1 {
		v.Add("quantity", "quantity must be at least 1")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	return l.applyMovement(ctx, "receive stock", m, EntryIn, func(p Product) (int, error) {
		if err := checkHeadroom(p, m.Quantity); err != nil {
			return 0, err
		}
		return p.StockQuantity + m.Quantity, nil
	})
}

// AdjustStock applies a signed correction. The adjustment is rejected if it
// would leave stock below zero.
func (l *Ledger) AdjustStock(ctx context.Context, m Movement) (*LedgerEntry, error) {
	v := m.validate()
	if m.Quantity < -math.MaxInt {
		v.Add("quantity", "quantity is out of range")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	return l.applyMovement(ctx, "adjust stock", m, EntryAdjustment, func(p Product) (int, error) {
		if err := checkHeadroom(p, m.Quantity); err != nil {
			return 0, err
		}
		next := p.StockQuantity + m.Quantity
		if next < 0 {
			return 0, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Operation:   "adjustment",
				Available:   p.StockQuantity,
				Requested:   -m.Quantity,
				Line:        -1,
			}
		}
		return next, nil
	})
}

// RecordLoss writes off expired or damaged units.
func (l *Ledger) RecordLoss(ctx context.Context, m Movement) (*LedgerEntry, error) {
	v := m.validate()
	if m.Quantity < 1 {
		v.Add("quantity", "quantity must be at least 1")
	}
	if !m.Type.IsLoss() {
		v.Add("type", "type must be Expiry or Damage")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	return l.applyMovement(ctx, "record loss", m, m.Type, func(p Product) (int, error) {
		if m.Quantity > p.StockQuantity {
			return 0, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Operation:   "loss",
				Available:   p.StockQuantity,
				Requested:   m.Quantity,
				Line:        -1,
			}
		}
		return p.StockQuantity - m.Quantity, nil
	})
}

// =============================================================================
// INTERNALS
// =============================================================================

// checkHeadroom rejects increases that the stock counter cannot hold.
func checkHeadroom(p Product, quantity int) error {
	if quantity > 0 && quantity > math.MaxInt-p.StockQuantity {
		v := &ValidationError{}
		v.Add("quantity", fmt.Sprintf("quantity would overflow stock of %s (currently %d)", p.ID, p.StockQuantity))
		return v
	}
	return nil
}

func (l *Ledger) applyMovement(
	ctx context.Context,
	op string,
	m Movement,
	typ EntryType,
	compute func(p Product) (int, error),
) (*LedgerEntry, error) {
	unlock, err := l.locks.Lock(ctx, m.ProductID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer unlock()

	var (
		entry   LedgerEntry
		summary *ProductSummary
	)
	err = l.retry(op, func() error {
		return l.store.WithTx(ctx, func(w Writer) error {
			p, err := w.GetProduct(ctx, m.ProductID)
			if err != nil {
				return err
			}
			if p == nil {
				return productNotFound(m.ProductID, -1)
			}

			next, err := compute(*p)
			if err != nil {
				return err
			}

			entry = LedgerEntry{
				ID:            EntryID(l.newID()),
				ProductID:     p.ID,
				Type:          typ,
				Quantity:      m.Quantity,
				PreviousStock: p.StockQuantity,
				NewStock:      next,
				Reason:        strings.TrimSpace(m.Reason),
				Reference:     strings.TrimSpace(m.Reference),
				Notes:         strings.TrimSpace(m.Notes),
				PerformedBy:   strings.TrimSpace(m.PerformedBy),
				CreatedAt:     l.now().UTC(),
			}
			summary = p.Summary()
			return l.write(ctx, w, entry)
		})
	})
	if err != nil {
		return nil, classify(op, err)
	}

	entry.Product = summary
	return &entry, nil
}

// write appends the entry and then moves the product's stock to match it.
// Callers run it inside a transaction.
func (l *Ledger) write(ctx context.Context, w Writer, e LedgerEntry) error {
	if !e.Consistent() {
		return &InternalError{
			Op:  "write entry",
			Err: fmt.Errorf("entry %s: %d %+d != %d", e.ID, e.PreviousStock, e.Effect(), e.NewStock),
		}
	}
	if err := w.AppendEntry(ctx, e); err != nil {
		return err
	}
	return w.UpdateStock(ctx, e.ProductID, e.PreviousStock, e.NewStock)
}

func (l *Ledger) retry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
	}
	return &TransientError{
		Op:    op,
		Cause: fmt.Errorf("gave up after %d attempts: %w", l.maxAttempts, err),
	}
}
