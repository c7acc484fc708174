package stock_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/stock/memstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEngine struct {
	store      *memstore.Memory
	ledger     *stock.Ledger
	catalog    *stock.Catalog
	reports    *stock.Reports
	reconciler *stock.Reconciler
}

func newTestEngine(t *testing.T, opts ...stock.Option) *testEngine {
	t.Helper()
	store := memstore.New()
	ledger := stock.NewLedger(store, opts...)
	return &testEngine{
		store:      store,
		ledger:     ledger,
		catalog:    stock.NewCatalog(ledger),
		reports:    stock.NewReports(store, nil),
		reconciler: stock.NewReconciler(ledger, store),
	}
}

func (e *testEngine) createProduct(t *testing.T, name, price string, quantity int) *stock.Product {
	t.Helper()
	p, err := e.catalog.CreateProduct(context.Background(), stock.ProductInput{
		Name:          name,
		Category:      stock.CategoryMilk,
		Price:         decimal.RequireFromString(price),
		Cost:          decimal.RequireFromString("0.50"),
		Unit:          stock.UnitLiter,
		StockQuantity: quantity,
	})
	require.NoError(t, err)
	return p
}

func (e *testEngine) stockOf(t *testing.T, id stock.ProductID) int {
	t.Helper()
	p, err := e.catalog.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func (e *testEngine) entriesOf(t *testing.T, id stock.ProductID) []stock.LedgerEntry {
	t.Helper()
	entries, err := e.reports.Ledger(context.Background(), id)
	require.NoError(t, err)
	return entries
}

// assertReplays checks that the product's stock equals the replay of its
// ledger and that every entry is internally consistent.
func (e *testEngine) assertReplays(t *testing.T, id stock.ProductID) {
	t.Helper()
	check, err := e.reconciler.Check(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, check.Discrepancies)
	assert.Equal(t, e.stockOf(t, id), check.ReplayedStock)
	assert.GreaterOrEqual(t, check.ReplayedStock, 0)
}

func receive(id stock.ProductID, quantity int) stock.Movement {
	return stock.Movement{ProductID: id, Quantity: quantity, Reason: "Delivery", PerformedBy: "maria"}
}

// =============================================================================
// RECEIVE STOCK
// =============================================================================

func TestReceiveStock_AddsQuantityAndRecordsInEntry(t *testing.T) {
	// GIVEN: A product with stock 10
	// WHEN: 5 units are received
	// THEN: Stock is 15 and an In entry records 10 -> 15

	e := newTestEngine(t)
	ctx := context.Background()
	p := e.createProduct(t, "Whole Milk", "1.20", 10)

	entry, err := e.ledger.ReceiveStock(ctx, stock.Movement{
		ProductID:   p.ID,
		Quantity:    5,
		Reason:      "Weekly delivery",
		Reference:   "INV-2041",
		PerformedBy: "maria",
	})
	require.NoError(t, err)

	assert.Equal(t, stock.EntryIn, entry.Type)
	assert.Equal(t, 5, entry.Quantity)
	assert.Equal(t, 10, entry.PreviousStock)
	assert.Equal(t, 15, entry.NewStock)
	assert.Equal(t, "INV-2041", entry.Reference)
	require.NotNil(t, entry.Product)
	assert.Equal(t, "Whole Milk", entry.Product.Name)

	assert.Equal(t, 15, e.stockOf(t, p.ID))
	assert.Len(t, e.entriesOf(t, p.ID), 2, "opening entry plus receipt")
	e.assertReplays(t, p.ID)
}

func TestReceiveStock_ValidationCollectsEveryField(t *testing.T) {
	// GIVEN: A movement with no product, zero quantity, no reason, no actor
	// WHEN: It is received
	// THEN: One ValidationError names all four fields and nothing is written

	e := newTestEngine(t)

	_, err := e.ledger.ReceiveStock(context.Background(), stock.Movement{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, stock.ErrValidation))
	assert.Equal(t, stock.KindValidation, stock.KindOf(err))

	var v *stock.ValidationError
	require.ErrorAs(t, err, &v)
	fields := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		fields[i] = f.Field
	}
	assert.ElementsMatch(t, []string{"productId", "quantity", "reason", "performedBy"}, fields)
}

func TestReceiveStock_UnknownProduct_NotFound(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ledger.ReceiveStock(context.Background(), receive("missing", 3))
	require.Error(t, err)
	assert.True(t, stock.IsNotFound(err))

	var nf *stock.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
	assert.Equal(t, -1, nf.Line)
}

// =============================================================================
// ADJUST STOCK
// =============================================================================

func TestAdjustStock_NegativeDelta(t *testing.T) {
	// GIVEN: Stock 5
	// WHEN: Adjusted by -3
	// THEN: Stock 2, entry carries the signed quantity -3 and 5 -> 2

	e := newTestEngine(t)
	p := e.createProduct(t, "Cheddar", "12.50", 5)

	entry, err := e.ledger.AdjustStock(context.Background(), stock.Movement{
		ProductID:   p.ID,
		Quantity:    -3,
		Reason:      "Stocktake",
		PerformedBy: "ali",
	})
	require.NoError(t, err)

	assert.Equal(t, stock.EntryAdjustment, entry.Type)
	assert.Equal(t, -3, entry.Quantity)
	assert.Equal(t, 5, entry.PreviousStock)
	assert.Equal(t, 2, entry.NewStock)
	assert.Equal(t, 2, e.stockOf(t, p.ID))
	e.assertReplays(t, p.ID)
}

func TestAdjustStock_BelowZero_Rejected(t *testing.T) {
	// GIVEN: Stock 5
	// WHEN: Adjusted by -10
	// THEN: InvariantViolation, stock still 5, no entry written

	e := newTestEngine(t)
	p := e.createProduct(t, "Cheddar", "12.50", 5)

	_, err := e.ledger.AdjustStock(context.Background(), stock.Movement{
		ProductID:   p.ID,
		Quantity:    -10,
		Reason:      "Stocktake",
		PerformedBy: "ali",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, stock.ErrInvariantViolation))
	assert.True(t, stock.IsClientError(err))
	assert.Contains(t, err.Error(), "insufficient stock for adjustment")

	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 5, short.Available)
	assert.Equal(t, 10, short.Requested)

	assert.Equal(t, 5, e.stockOf(t, p.ID))
	assert.Len(t, e.entriesOf(t, p.ID), 1, "only the opening entry")
}

func TestAdjustStock_ToExactlyZero_Allowed(t *testing.T) {
	e := newTestEngine(t)
	p := e.createProduct(t, "Cream", "2.20", 4)

	entry, err := e.ledger.AdjustStock(context.Background(), stock.Movement{
		ProductID: p.ID, Quantity: -4, Reason: "Recall", PerformedBy: "ali",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, entry.NewStock)
	assert.Equal(t, 0, e.stockOf(t, p.ID))
}

// =============================================================================
// RECORD LOSS
// =============================================================================

func TestRecordLoss_Expiry(t *testing.T) {
	e := newTestEngine(t)
	p := e.createProduct(t, "Yogurt", "3.40", 12)

	entry, err := e.ledger.RecordLoss(context.Background(), stock.Movement{
		ProductID:   p.ID,
		Quantity:    2,
		Type:        stock.EntryExpiry,
		Reason:      "Past best-before",
		PerformedBy: "maria",
	})
	require.NoError(t, err)

	assert.Equal(t, stock.EntryExpiry, entry.Type)
	assert.Equal(t, 12, entry.PreviousStock)
	assert.Equal(t, 10, entry.NewStock)
	assert.Equal(t, 10, e.stockOf(t, p.ID))
	e.assertReplays(t, p.ID)
}

func TestRecordLoss_MoreThanStock_Rejected(t *testing.T) {
	// GIVEN: Stock 10
	// WHEN: A loss of 20 (Damage) is recorded
	// THEN: InvariantViolation, stock still 10, no new entry

	e := newTestEngine(t)
	p := e.createProduct(t, "Butter", "2.75", 10)

	_, err := e.ledger.RecordLoss(context.Background(), stock.Movement{
		ProductID:   p.ID,
		Quantity:    20,
		Type:        stock.EntryDamage,
		Reason:      "Freezer failure",
		PerformedBy: "maria",
	})
	require.Error(t, err)
	assert.Equal(t, stock.KindInvariant, stock.KindOf(err))
	assert.Contains(t, err.Error(), "insufficient stock for loss")

	assert.Equal(t, 10, e.stockOf(t, p.ID))
	assert.Len(t, e.entriesOf(t, p.ID), 1)
}

func TestRecordLoss_RejectsNonLossType(t *testing.T) {
	e := newTestEngine(t)
	p := e.createProduct(t, "Butter", "2.75", 10)

	for _, typ := range []stock.EntryType{"", stock.EntryIn, stock.EntryOut, stock.EntryAdjustment} {
		_, err := e.ledger.RecordLoss(context.Background(), stock.Movement{
			ProductID: p.ID, Quantity: 1, Type: typ, Reason: "x", PerformedBy: "y",
		})
		var v *stock.ValidationError
		require.ErrorAs(t, err, &v, "type %q", typ)
		assert.Equal(t, "type", v.Fields[0].Field)
	}
	assert.Equal(t, 10, e.stockOf(t, p.ID))
}

// =============================================================================
// INVARIANTS UNDER A SEQUENCE OF OPERATIONS
// =============================================================================

func TestLedger_StockAlwaysEqualsReplay(t *testing.T) {
	// GIVEN: A product with opening stock
	// WHEN: A mix of successful and rejected operations runs
	// THEN: Stock equals the sum of entry effects and every entry chains

	e := newTestEngine(t)
	ctx := context.Background()
	p := e.createProduct(t, "Skimmed Milk", "1.10", 7)

	ops := []func() error{
		func() error { _, err := e.ledger.ReceiveStock(ctx, receive(p.ID, 13)); return err },
		func() error {
			_, err := e.ledger.AdjustStock(ctx, stock.Movement{ProductID: p.ID, Quantity: -100, Reason: "x", PerformedBy: "y"})
			return err
		},
		func() error {
			_, err := e.ledger.RecordLoss(ctx, stock.Movement{ProductID: p.ID, Quantity: 4, Type: stock.EntryDamage, Reason: "x", PerformedBy: "y"})
			return err
		},
		func() error {
			_, err := e.ledger.CommitSale(ctx, stock.SaleRequest{
				CustomerName: "Walk-in", PaymentMethod: stock.PaymentCash,
				Lines: []stock.SaleLine{{ProductID: p.ID, Quantity: 6}},
			})
			return err
		},
		func() error {
			_, err := e.ledger.AdjustStock(ctx, stock.Movement{ProductID: p.ID, Quantity: 2, Reason: "x", PerformedBy: "y"})
			return err
		},
	}
	for _, op := range ops {
		_ = op()
	}

	entries := e.entriesOf(t, p.ID)
	sum := 0
	for _, entry := range entries {
		assert.True(t, entry.Consistent(), "entry %s", entry.ID)
		sum += entry.Effect()
	}
	assert.Equal(t, 12, e.stockOf(t, p.ID))
	assert.Equal(t, e.stockOf(t, p.ID), sum)
	e.assertReplays(t, p.ID)
}

func TestLedger_ReadsDoNotMutate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := e.createProduct(t, "Cream", "2.20", 9)

	before := e.entriesOf(t, p.ID)
	_, err := e.reports.InventorySummary(ctx)
	require.NoError(t, err)
	_, err = e.reports.Ledger(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, before, e.entriesOf(t, p.ID))
	assert.Equal(t, 9, e.stockOf(t, p.ID))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentReceiveAndLoss_NoStalePreviousStock(t *testing.T) {
	// GIVEN: A product with stock 100
	// WHEN: 50 receipts of 1 and 50 losses of 1 run concurrently
	// THEN: Stock is back at 100 and every entry chains from the one before

	e := newTestEngine(t)
	ctx := context.Background()
	p := e.createProduct(t, "Whole Milk", "1.20", 100)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.ledger.ReceiveStock(ctx, receive(p.ID, 1))
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := e.ledger.RecordLoss(ctx, stock.Movement{
				ProductID: p.ID, Quantity: 1, Type: stock.EntryDamage, Reason: "Dropped", PerformedBy: "ali",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 100, e.stockOf(t, p.ID))
	assert.Len(t, e.entriesOf(t, p.ID), 101)
	e.assertReplays(t, p.ID)
}

func TestLedger_DifferentProductsDoNotSerialize(t *testing.T) {
	// GIVEN: Two products
	// WHEN: Concurrent sales hit both
	// THEN: Both finish and each product's ledger replays to its stock

	e := newTestEngine(t)
	ctx := context.Background()
	a := e.createProduct(t, "A", "1.00", 40)
	b := e.createProduct(t, "B", "2.00", 40)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lines := []stock.SaleLine{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}}
			if i%2 == 0 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			_, err := e.ledger.CommitSale(ctx, stock.SaleRequest{
				CustomerName: "Walk-in", PaymentMethod: stock.PaymentCard, Lines: lines,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, e.stockOf(t, a.ID))
	assert.Equal(t, 20, e.stockOf(t, b.ID))
	e.assertReplays(t, a.ID)
	e.assertReplays(t, b.ID)
}

// =============================================================================
// COMPARE-AND-SET RETRIES
// =============================================================================

// conflictingStore loses the next `conflicts` stock writes.
type conflictingStore struct {
	*memstore.Memory
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(stock.Writer) error) error {
	return c.Memory.WithTx(ctx, func(w stock.Writer) error {
		return fn(&conflictingWriter{Writer: w, parent: c})
	})
}

type conflictingWriter struct {
	stock.Writer
	parent *conflictingStore
}

func (w *conflictingWriter) UpdateStock(ctx context.Context, id stock.ProductID, previous, next int) error {
	w.parent.mu.Lock()
	lose := w.parent.conflicts > 0
	if lose {
		w.parent.conflicts--
	}
	w.parent.mu.Unlock()
	if lose {
		return stock.ErrConcurrentModification
	}
	return w.Writer.UpdateStock(ctx, id, previous, next)
}

func TestLedger_RetriesLostCompareAndSet(t *testing.T) {
	// GIVEN: A store whose next two stock writes lose a race
	// WHEN: Stock is received with the default 3 attempts
	// THEN: The third attempt succeeds and only one entry is kept

	store := &conflictingStore{Memory: memstore.New()}
	ledger := stock.NewLedger(store)
	catalog := stock.NewCatalog(ledger)
	ctx := context.Background()

	p, err := catalog.CreateProduct(ctx, stock.ProductInput{
		Name: "Milk", Category: stock.CategoryMilk, Unit: stock.UnitLiter,
		Price: decimal.NewFromInt(1), StockQuantity: 10,
	})
	require.NoError(t, err)

	store.conflicts = 2
	entry, err := ledger.ReceiveStock(ctx, receive(p.ID, 5))
	require.NoError(t, err)
	assert.Equal(t, 15, entry.NewStock)

	entries, err := store.ListEntries(ctx, stock.EntryFilter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedger_GivesUpAfterMaxAttempts(t *testing.T) {
	// GIVEN: A store that keeps losing stock writes
	// WHEN: Stock is received with 2 attempts allowed
	// THEN: TransientError, nothing written

	store := &conflictingStore{Memory: memstore.New()}
	ledger := stock.NewLedger(store, stock.WithMaxAttempts(2))
	catalog := stock.NewCatalog(ledger)
	ctx := context.Background()

	p, err := catalog.CreateProduct(ctx, stock.ProductInput{
		Name: "Milk", Category: stock.CategoryMilk, Unit: stock.UnitLiter,
		Price: decimal.NewFromInt(1), StockQuantity: 10,
	})
	require.NoError(t, err)

	store.conflicts = 10
	_, err = ledger.ReceiveStock(ctx, receive(p.ID, 5))
	require.Error(t, err)
	assert.True(t, stock.IsRetryable(err))
	assert.True(t, errors.Is(err, stock.ErrConcurrentModification))
	assert.Equal(t, 8, store.conflicts, "two attempts made")

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.StockQuantity)
	entries, err := store.ListEntries(ctx, stock.EntryFilter{ProductID: p.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_UsesInjectedClock(t *testing.T) {
	at := time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)
	e := newTestEngine(t, stock.WithClock(func() time.Time { return at }))
	p := e.createProduct(t, "Milk", "1.00", 1)

	entry, err := e.ledger.ReceiveStock(context.Background(), receive(p.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, at, entry.CreatedAt)
	assert.Equal(t, at, p.CreatedAt)
}

func TestStockArithmetic_OverflowIsRejectedAsValidation(t *testing.T) {
	// GIVEN: A product with stock 10
	// WHEN: Quantities beyond the counter's range are received or adjusted
	// THEN: Each is a validation error and stock stays 10 with no new entry

	e := newTestEngine(t)
	ctx := context.Background()
	p := e.createProduct(t, "Whole Milk", "1.20", 10)

	_, err := e.ledger.ReceiveStock(ctx, receive(p.ID, math.MaxInt-5))
	require.Error(t, err)
	assert.Equal(t, stock.KindValidation, stock.KindOf(err))

	adjust := receive(p.ID, math.MaxInt)
	_, err = e.ledger.AdjustStock(ctx, adjust)
	assert.Equal(t, stock.KindValidation, stock.KindOf(err))

	adjust.Quantity = math.MinInt
	_, err = e.ledger.AdjustStock(ctx, adjust)
	assert.Equal(t, stock.KindValidation, stock.KindOf(err))

	adjust.Quantity = -math.MaxInt
	_, err = e.ledger.AdjustStock(ctx, adjust)
	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, math.MaxInt, short.Requested)

	assert.Equal(t, 10, e.stockOf(t, p.ID))
	assert.Len(t, e.entriesOf(t, p.ID), 1)
	e.assertReplays(t, p.ID)
}
