/*
Package sqlite provides a SQLite-backed implementation of stock.Store.

PURPOSE:
  Persists products, the ledger, sales and reconciliation runs. In
  production, the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

INTERFACES IMPLEMENTED:
  stock.Store:    Products, ledger entries, sales, transactions
  stock.RunStore: Reconciliation history

APPEND-ONLY ENFORCEMENT:
  ledger_entries, sales and sale_items have BEFORE UPDATE / BEFORE DELETE
  triggers that abort. The Go code never issues UPDATE or DELETE against
  them either. products.stock_quantity carries CHECK (>= 0) as a last line of
  defence behind the engine's own check.

KEY TABLES:
  products:            Catalog records, owner of stock_quantity
  ledger_entries:      Immutable stock movements (seq gives write order)
  sales, sale_items:   Immutable sale headers and lines
  reconciliation_runs: Ledger replay results

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so that string comparison in
  SQL orders the same way as time comparison.

CONCURRENCY:
  Writes are serialized with sync.RWMutex; reads share it. Inside WithTx the
  transactional writer uses the *sql.Tx directly and never takes the mutex,
  which WithTx already holds.

WAL MODE:
  File databases are opened with WAL and a busy timeout. ":memory:" is
  limited to one connection, since every new connection would otherwise get
  its own empty database.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/memstore/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/stock-ledger/stock"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements stock.Store and stock.RunStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ stock.Store    = (*Store)(nil)
	_ stock.RunStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT,
		price TEXT NOT NULL,
		cost TEXT NOT NULL,
		unit TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
		min_stock_level INTEGER NOT NULL CHECK (min_stock_level >= 0),
		supplier TEXT,
		expiry_date TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_active_created
		ON products(is_active, created_at DESC);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		product_id TEXT NOT NULL REFERENCES products(id),
		type TEXT NOT NULL CHECK (type IN ('In', 'Out', 'Adjustment', 'Expiry', 'Damage')),
		quantity INTEGER NOT NULL,
		previous_stock INTEGER NOT NULL,
		new_stock INTEGER NOT NULL CHECK (new_stock >= 0),
		reason TEXT NOT NULL,
		reference TEXT,
		notes TEXT,
		performed_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Per-product history (hot path for replay and product ledger view)
	CREATE INDEX IF NOT EXISTS idx_ledger_product_seq
		ON ledger_entries(product_id, seq);

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END;

	-- Sales (immutable once written)
	CREATE TABLE IF NOT EXISTS sales (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL,
		customer_phone TEXT,
		total_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		discount TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_created ON sales(created_at);

	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		PRIMARY KEY (sale_id, line)
	);

	CREATE TRIGGER IF NOT EXISTS sales_no_update
		BEFORE UPDATE ON sales
		BEGIN SELECT RAISE(ABORT, 'sales are immutable'); END;
	CREATE TRIGGER IF NOT EXISTS sales_no_delete
		BEFORE DELETE ON sales
		BEGIN SELECT RAISE(ABORT, 'sales are immutable'); END;
	CREATE TRIGGER IF NOT EXISTS sale_items_no_update
		BEFORE UPDATE ON sale_items
		BEGIN SELECT RAISE(ABORT, 'sales are immutable'); END;
	CREATE TRIGGER IF NOT EXISTS sale_items_no_delete
		BEFORE DELETE ON sale_items
		BEGIN SELECT RAISE(ABORT, 'sales are immutable'); END;

	-- Reconciliation runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		products_checked INTEGER NOT NULL DEFAULT 0,
		entries_checked INTEGER NOT NULL DEFAULT 0,
		discrepancies_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// WRITER (stock.Writer interface)
// =============================================================================

const productColumns = `id, name, category, description, price, cost, unit, stock_quantity,
	min_stock_level, supplier, expiry_date, is_active, created_at, updated_at`

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, id)
}

func (s *Store) InsertProduct(ctx context.Context, p stock.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertProduct(ctx, s.db, p)
}

func (s *Store) UpdateStock(ctx context.Context, id stock.ProductID, previous, next int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateStock(ctx, s.db, id, previous, next)
}

func (s *Store) AppendEntry(ctx context.Context, e stock.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

// InsertSale writes the header and lines in one transaction.
func (s *Store) InsertSale(ctx context.Context, sale stock.Sale) error {
	return s.WithTx(ctx, func(w stock.Writer) error {
		return w.InsertSale(ctx, sale)
	})
}

func getProduct(ctx context.Context, q queryer, id stock.ProductID) (*stock.Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func insertProduct(ctx context.Context, q queryer, p stock.Product) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, nullString(p.Description), p.Price, p.Cost, p.Unit,
		p.StockQuantity, p.MinStockLevel, nullString(p.Supplier), nullTime(p.ExpiryDate),
		p.IsActive, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// updateStock is compare-and-set on stock_quantity.
func updateStock(ctx context.Context, q queryer, id stock.ProductID, previous, next int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE products SET stock_quantity = ?, updated_at = ?
		WHERE id = ? AND stock_quantity = ?`,
		next, formatTime(time.Now()), id, previous,
	)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("failed to update stock: product %s does not exist", id)
	}
	return stock.ErrConcurrentModification
}

func appendEntry(ctx context.Context, q queryer, e stock.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, product_id, type, quantity, previous_stock, new_stock, reason,
		 reference, notes, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProductID, e.Type, e.Quantity, e.PreviousStock, e.NewStock, e.Reason,
		nullString(e.Reference), nullString(e.Notes), e.PerformedBy, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func insertSale(ctx context.Context, q queryer, sale stock.Sale) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sales
		(id, customer_name, customer_phone, total_amount, payment_method,
		 payment_status, discount, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.CustomerName, nullString(sale.CustomerPhone), sale.TotalAmount,
		sale.PaymentMethod, sale.PaymentStatus, sale.Discount, nullString(sale.Notes),
		formatTime(sale.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	for i, item := range sale.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line, product_id, quantity, unit_price, total_price)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sale.ID, i, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale line %d: %w", i, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(w stock.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txWriter{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txWriter struct {
	tx *sql.Tx
}

func (tw *txWriter) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	return getProduct(ctx, tw.tx, id)
}

func (tw *txWriter) InsertProduct(ctx context.Context, p stock.Product) error {
	return insertProduct(ctx, tw.tx, p)
}

func (tw *txWriter) UpdateStock(ctx context.Context, id stock.ProductID, previous, next int) error {
	return updateStock(ctx, tw.tx, id, previous, next)
}

func (tw *txWriter) AppendEntry(ctx context.Context, e stock.LedgerEntry) error {
	return appendEntry(ctx, tw.tx, e)
}

func (tw *txWriter) InsertSale(ctx context.Context, sale stock.Sale) error {
	return insertSale(ctx, tw.tx, sale)
}

// =============================================================================
// PRODUCTS
// =============================================================================

// UpdateProduct writes descriptive fields and is_active. Stock is untouched.
func (s *Store) UpdateProduct(ctx context.Context, p stock.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET
			name = ?, category = ?, description = ?, price = ?, cost = ?, unit = ?,
			min_stock_level = ?, supplier = ?, expiry_date = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Category, nullString(p.Description), p.Price, p.Cost, p.Unit,
		p.MinStockLevel, nullString(p.Supplier), nullTime(p.ExpiryDate), p.IsActive,
		formatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update product: product %s does not exist", p.ID)
	}
	return nil
}

// ListProducts returns matching products, newest first.
func (s *Store) ListProducts(ctx context.Context, filter stock.ProductFilter) ([]stock.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "is_active = 1")
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.LowStockOnly {
		where = append(where, "is_active = 1", "stock_quantity <= min_stock_level")
	}

	query := `SELECT ` + productColumns + ` FROM products` + whereClause(where) +
		` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []stock.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (stock.Product, error) {
	var (
		p           stock.Product
		description sql.NullString
		supplier    sql.NullString
		expiry      sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Category, &description, &p.Price, &p.Cost, &p.Unit,
		&p.StockQuantity, &p.MinStockLevel, &supplier, &expiry, &p.IsActive,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}

	p.Description = description.String
	p.Supplier = supplier.String
	p.ExpiryDate = parseNullTime(expiry)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// ListEntries returns entries joined with their product summary.
func (s *Store) ListEntries(ctx context.Context, filter stock.EntryFilter) ([]stock.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT e.id, e.product_id, e.type, e.quantity, e.previous_stock, e.new_stock,
		       e.reason, e.reference, e.notes, e.performed_by, e.created_at,
		       p.name, p.category, p.price, p.unit, p.is_active
		FROM ledger_entries e
		JOIN products p ON p.id = e.product_id`

	var args []any
	if filter.ProductID != "" {
		query += ` WHERE e.product_id = ?`
		args = append(args, filter.ProductID)
	}
	if filter.Oldest {
		query += ` ORDER BY e.seq ASC`
	} else {
		query += ` ORDER BY e.seq DESC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []stock.LedgerEntry
	for rows.Next() {
		var (
			e         stock.LedgerEntry
			sum       stock.ProductSummary
			reference sql.NullString
			notes     sql.NullString
			createdAt string
		)
		err := rows.Scan(
			&e.ID, &e.ProductID, &e.Type, &e.Quantity, &e.PreviousStock, &e.NewStock,
			&e.Reason, &reference, &notes, &e.PerformedBy, &createdAt,
			&sum.Name, &sum.Category, &sum.Price, &sum.Unit, &sum.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reference = reference.String
		e.Notes = notes.String
		e.CreatedAt = parseTime(createdAt)
		sum.ID = e.ProductID
		e.Product = &sum
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SALES
// =============================================================================

func (s *Store) GetSale(ctx context.Context, id stock.SaleID) (*stock.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales, err := s.querySales(ctx, []string{"s.id = ?"}, []any{id})
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, nil
	}
	return &sales[0], nil
}

// ListSales returns sales in [From, To], newest first.
func (s *Store) ListSales(ctx context.Context, filter stock.SaleFilter) ([]stock.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.From != nil {
		where = append(where, "s.created_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "s.created_at <= ?")
		args = append(args, formatTime(*filter.To))
	}
	return s.querySales(ctx, where, args)
}

// querySales reads headers, closes the cursor, then reads lines with the same
// filter. ":memory:" has a single connection, so the two queries must not
// overlap.
func (s *Store) querySales(ctx context.Context, where []string, args []any) ([]stock.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_name, s.customer_phone, s.total_amount, s.payment_method,
		       s.payment_status, s.discount, s.notes, s.created_at
		FROM sales s`+whereClause(where)+`
		ORDER BY s.created_at DESC, s.seq DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}

	var (
		sales []stock.Sale
		index = make(map[stock.SaleID]int)
	)
	for rows.Next() {
		var (
			sale      stock.Sale
			phone     sql.NullString
			notes     sql.NullString
			createdAt string
		)
		err := rows.Scan(
			&sale.ID, &sale.CustomerName, &phone, &sale.TotalAmount, &sale.PaymentMethod,
			&sale.PaymentStatus, &sale.Discount, &notes, &createdAt,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sale.CustomerPhone = phone.String
		sale.Notes = notes.String
		sale.CreatedAt = parseTime(createdAt)
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(sales) == 0 {
		return nil, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.sale_id, i.product_id, i.quantity, i.unit_price, i.total_price,
		       p.name, p.category, p.price, p.unit, p.is_active
		FROM sale_items i
		JOIN sales s ON s.id = i.sale_id
		JOIN products p ON p.id = i.product_id`+whereClause(where)+`
		ORDER BY i.sale_id, i.line`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			saleID stock.SaleID
			item   stock.SaleItem
			sum    stock.ProductSummary
		)
		err := itemRows.Scan(
			&saleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice,
			&sum.Name, &sum.Category, &sum.Price, &sum.Unit, &sum.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		sum.ID = item.ProductID
		item.Product = &sum

		if i, ok := index[saleID]; ok {
			sales[i].Items = append(sales[i].Items, item)
		}
	}
	return sales, itemRows.Err()
}

// =============================================================================
// RECONCILIATION RUNS STORE
// =============================================================================

// SaveReconciliationRun inserts or updates a run by id.
func (s *Store) SaveReconciliationRun(ctx context.Context, r stock.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	discrepancies, err := json.Marshal(r.Discrepancies)
	if err != nil {
		return fmt.Errorf("failed to encode discrepancies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, status, products_checked, entries_checked,
			discrepancies_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			products_checked = excluded.products_checked,
			entries_checked = excluded.entries_checked,
			discrepancies_json = excluded.discrepancies_json,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		r.ID, r.Status, r.ProductsChecked, r.EntriesChecked, string(discrepancies),
		nullString(r.Error), formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// ListReconciliationRuns returns runs newest first. limit <= 0 means all.
func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]stock.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, products_checked, entries_checked, discrepancies_json,
		       error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []stock.ReconciliationRun
	for rows.Next() {
		var (
			r             stock.ReconciliationRun
			discrepancies sql.NullString
			runErr        sql.NullString
			startedAt     string
			completedAt   sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Status, &r.ProductsChecked, &r.EntriesChecked, &discrepancies,
			&runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}

		if discrepancies.Valid && discrepancies.String != "" {
			if err := json.Unmarshal([]byte(discrepancies.String), &r.Discrepancies); err != nil {
				return nil, fmt.Errorf("failed to decode discrepancies for run %s: %w", r.ID, err)
			}
		}
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
