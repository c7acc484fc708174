// Package memstore provides an in-memory stock.Store for tests and demos.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps products, entries, sales and reconciliation runs in maps and
// slices. Entries and sales are append-only.
type Memory struct {
	mu       sync.RWMutex
	products map[stock.ProductID]*stock.Product
	order    []stock.ProductID
	entries  []stock.LedgerEntry
	entryIDs map[stock.EntryID]bool
	sales    []stock.Sale
	runs     map[string]stock.ReconciliationRun
	runOrder []string

	// FailWrite, when set, is consulted before every write with the write's
	// name ("InsertProduct", "UpdateStock", "AppendEntry", "InsertSale").
	// A non-nil return fails that write.
	FailWrite func(op string) error
}

func New() *Memory {
	return &Memory{
		products: make(map[stock.ProductID]*stock.Product),
		entryIDs: make(map[stock.EntryID]bool),
		runs:     make(map[string]stock.ReconciliationRun),
	}
}

var (
	_ stock.Store    = (*Memory)(nil)
	_ stock.RunStore = (*Memory)(nil)
)

// =============================================================================
// WRITER
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id stock.ProductID) (*stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id), nil
}

func (m *Memory) InsertProduct(_ context.Context, p stock.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertProductLocked(p)
}

func (m *Memory) UpdateStock(_ context.Context, id stock.ProductID, previous, next int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStockLocked(id, previous, next)
}

func (m *Memory) AppendEntry(_ context.Context, e stock.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) InsertSale(_ context.Context, s stock.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSaleLocked(s)
}

func (m *Memory) getProductLocked(id stock.ProductID) *stock.Product {
	p, ok := m.products[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (m *Memory) fail(op string) error {
	if m.FailWrite == nil {
		return nil
	}
	return m.FailWrite(op)
}

func (m *Memory) insertProductLocked(p stock.Product) error {
	if err := m.fail("InsertProduct"); err != nil {
		return err
	}
	if _, exists := m.products[p.ID]; exists {
		return fmt.Errorf("product %s already exists", p.ID)
	}
	cp := p
	m.products[p.ID] = &cp
	m.order = append(m.order, p.ID)
	return nil
}

func (m *Memory) updateStockLocked(id stock.ProductID, previous, next int) error {
	if err := m.fail("UpdateStock"); err != nil {
		return err
	}
	p, ok := m.products[id]
	if !ok {
		return fmt.Errorf("update stock: product %s does not exist", id)
	}
	if next < 0 {
		return fmt.Errorf("update stock: product %s: negative stock %d", id, next)
	}
	if p.StockQuantity != previous {
		return stock.ErrConcurrentModification
	}
	p.StockQuantity = next
	return nil
}

func (m *Memory) appendEntryLocked(e stock.LedgerEntry) error {
	if err := m.fail("AppendEntry"); err != nil {
		return err
	}
	if _, ok := m.products[e.ProductID]; !ok {
		return fmt.Errorf("append entry: product %s does not exist", e.ProductID)
	}
	if m.entryIDs[e.ID] {
		return fmt.Errorf("append entry: duplicate id %s", e.ID)
	}
	e.Product = nil
	m.entries = append(m.entries, e)
	m.entryIDs[e.ID] = true
	return nil
}

func (m *Memory) insertSaleLocked(s stock.Sale) error {
	if err := m.fail("InsertSale"); err != nil {
		return err
	}
	for _, item := range s.Items {
		if _, ok := m.products[item.ProductID]; !ok {
			return fmt.Errorf("insert sale: product %s does not exist", item.ProductID)
		}
	}
	items := make([]stock.SaleItem, len(s.Items))
	for i, item := range s.Items {
		item.Product = nil
		items[i] = item
	}
	s.Items = items
	m.sales = append(m.sales, s)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(stock.Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	products map[stock.ProductID]stock.Product
	order    int
	entries  int
	sales    int
}

// Entries and sales are append-only, so their lengths are enough to undo.
func (m *Memory) snapshot() snapshot {
	s := snapshot{
		products: make(map[stock.ProductID]stock.Product, len(m.products)),
		order:    len(m.order),
		entries:  len(m.entries),
		sales:    len(m.sales),
	}
	for id, p := range m.products {
		s.products[id] = *p
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	for _, e := range m.entries[s.entries:] {
		delete(m.entryIDs, e.ID)
	}
	m.entries = m.entries[:s.entries]
	m.sales = m.sales[:s.sales]
	m.order = m.order[:s.order]

	m.products = make(map[stock.ProductID]*stock.Product, len(s.products))
	for id, p := range s.products {
		cp := p
		m.products[id] = &cp
	}
}

// txView writes through to the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) GetProduct(_ context.Context, id stock.ProductID) (*stock.Product, error) {
	return tv.parent.getProductLocked(id), nil
}

func (tv *txView) InsertProduct(_ context.Context, p stock.Product) error {
	return tv.parent.insertProductLocked(p)
}

func (tv *txView) UpdateStock(_ context.Context, id stock.ProductID, previous, next int) error {
	return tv.parent.updateStockLocked(id, previous, next)
}

func (tv *txView) AppendEntry(_ context.Context, e stock.LedgerEntry) error {
	return tv.parent.appendEntryLocked(e)
}

func (tv *txView) InsertSale(_ context.Context, s stock.Sale) error {
	return tv.parent.insertSaleLocked(s)
}

// =============================================================================
// QUERIES
// =============================================================================

func (m *Memory) UpdateProduct(_ context.Context, p stock.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail("UpdateProduct"); err != nil {
		return err
	}
	cur, ok := m.products[p.ID]
	if !ok {
		return fmt.Errorf("update product: product %s does not exist", p.ID)
	}
	p.StockQuantity = cur.StockQuantity
	p.CreatedAt = cur.CreatedAt
	*cur = p
	return nil
}

// ListProducts returns matching products, newest first.
func (m *Memory) ListProducts(_ context.Context, filter stock.ProductFilter) ([]stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.Product
	for i := len(m.order) - 1; i >= 0; i-- {
		p := *m.products[m.order[i]]
		if !filter.IncludeInactive && !p.IsActive {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.LowStockOnly && !p.IsLowStock() {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListEntries returns entries with the current product summary attached.
func (m *Memory) ListEntries(_ context.Context, filter stock.EntryFilter) ([]stock.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.LedgerEntry
	add := func(e stock.LedgerEntry) bool {
		if filter.ProductID != "" && e.ProductID != filter.ProductID {
			return true
		}
		if p, ok := m.products[e.ProductID]; ok {
			e.Product = p.Summary()
		}
		out = append(out, e)
		return filter.Limit <= 0 || len(out) < filter.Limit
	}

	if filter.Oldest {
		for _, e := range m.entries {
			if !add(e) {
				break
			}
		}
	} else {
		for i := len(m.entries) - 1; i >= 0; i-- {
			if !add(m.entries[i]) {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) GetSale(_ context.Context, id stock.SaleID) (*stock.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sales {
		if s.ID == id {
			out := m.resolveSale(s)
			return &out, nil
		}
	}
	return nil, nil
}

// ListSales returns sales in [From, To], newest first.
func (m *Memory) ListSales(_ context.Context, filter stock.SaleFilter) ([]stock.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.Sale
	for i := len(m.sales) - 1; i >= 0; i-- {
		s := m.sales[i]
		if filter.From != nil && s.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && s.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, m.resolveSale(s))
	}
	return out, nil
}

func (m *Memory) resolveSale(s stock.Sale) stock.Sale {
	items := make([]stock.SaleItem, len(s.Items))
	for i, item := range s.Items {
		if p, ok := m.products[item.ProductID]; ok {
			item.Product = p.Summary()
		}
		items[i] = item
	}
	s.Items = items
	return s
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func (m *Memory) SaveReconciliationRun(_ context.Context, run stock.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		return errors.New("save reconciliation run: empty id")
	}
	if _, ok := m.runs[run.ID]; !ok {
		m.runOrder = append(m.runOrder, run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) ListReconciliationRuns(_ context.Context, limit int) ([]stock.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.ReconciliationRun
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.runs[m.runOrder[i]])
	}
	return out, nil
}
