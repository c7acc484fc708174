/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the stock engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates everything else to the stock package.

ENDPOINTS:
  Inventory (ledger):
    GET    /api/inventory                      All movements, newest first (?product=id)
    GET    /api/inventory/product/{productId}  One product's movements
    GET    /api/inventory/summary              Dashboard figures
    POST   /api/inventory/add-stock            Receive stock (In)
    POST   /api/inventory/adjust-stock         Signed correction (Adjustment)
    POST   /api/inventory/record-loss          Expiry or Damage write-off

  Sales:
    GET    /api/sales                          All sales, newest first
    POST   /api/sales                          Commit a sale
    POST   /api/sales/quote                    Price a sale without committing
    GET    /api/sales/{id}                     One sale
    GET    /api/sales/stats/summary            Today and all-time totals
    GET    /api/sales/stats/range              ?startDate=&endDate=

  Products:
    GET    /api/products                       Active products (?category=, ?includeInactive=true)
    POST   /api/products                       Register product
    GET    /api/products/{id}                  One product
    PUT    /api/products/{id}                  Update descriptive fields
    DELETE /api/products/{id}                  Soft delete
    GET    /api/products/alerts/low-stock      Active products at or below minimum

  Reconciliation:
    GET    /api/reconciliation/runs            Recent runs
    GET    /api/reconciliation/schedule        Interval and next run
    POST   /api/reconciliation/run             Run a sweep now

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the stock package (it validates)
  3. Serialize response
  4. Map errors by kind

ERROR HANDLING:
  Errors are returned as ErrorResponse with the HTTP status for their kind:
  - 400: validation_error, invariant_violation (insufficient stock)
  - 404: not_found
  - 503: transient_failure (with Retry-After)
  - 500: internal_error

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo catalog loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger     *stock.Ledger
	Catalog    *stock.Catalog
	Reports    *stock.Reports
	Reconciler *stock.Reconciler
	Metrics    *Metrics

	// Scheduler is optional. When set, manual runs go through it so they are
	// logged like scheduled ones.
	Scheduler *ReconciliationScheduler
}

// NewHandler wires the engine around the given store.
func NewHandler(store stock.Store, runs stock.RunStore, opts ...stock.Option) *Handler {
	ledger := stock.NewLedger(store, opts...)
	return &Handler{
		Ledger:     ledger,
		Catalog:    stock.NewCatalog(ledger),
		Reports:    stock.NewReports(store, nil),
		Reconciler: stock.NewReconciler(ledger, runs),
		Metrics:    NewMetrics(),
	}
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ListLedger returns every movement, newest first.
// GET /api/inventory
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	productID := stock.ProductID(r.URL.Query().Get("product"))
	entries, err := h.Reports.Ledger(r.Context(), productID)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// ProductLedger returns one product's movements, newest first.
// GET /api/inventory/product/{productId}
func (h *Handler) ProductLedger(w http.ResponseWriter, r *http.Request) {
	productID := stock.ProductID(chi.URLParam(r, "productId"))
	entries, err := h.Reports.Ledger(r.Context(), productID)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// InventorySummary returns the inventory dashboard.
// GET /api/inventory/summary
func (h *Handler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reports.InventorySummary(r.Context())
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InventorySummaryDTO{
		TotalProducts:    summary.TotalProducts,
		LowStockProducts: summary.LowStockProducts,
		TotalStockValue:  money(summary.TotalStockValue),
		RecentMovements:  toEntryDTOs(summary.RecentMovements),
	})
}

// AddStock receives goods.
// POST /api/inventory/add-stock
func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	h.applyMovement(w, r, "receive_stock", func(req StockMovementRequest) (*stock.LedgerEntry, error) {
		return h.Ledger.ReceiveStock(r.Context(), req.movement(stock.EntryIn))
	})
}

// AdjustStock applies a signed correction.
// POST /api/inventory/adjust-stock
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	h.applyMovement(w, r, "adjust_stock", func(req StockMovementRequest) (*stock.LedgerEntry, error) {
		return h.Ledger.AdjustStock(r.Context(), req.movement(stock.EntryAdjustment))
	})
}

// RecordLoss writes off expired or damaged goods.
// POST /api/inventory/record-loss
func (h *Handler) RecordLoss(w http.ResponseWriter, r *http.Request) {
	h.applyMovement(w, r, "record_loss", func(req StockMovementRequest) (*stock.LedgerEntry, error) {
		return h.Ledger.RecordLoss(r.Context(), req.movement(stock.EntryType(req.Type)))
	})
}

func (h *Handler) applyMovement(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	apply func(StockMovementRequest) (*stock.LedgerEntry, error),
) {
	var req StockMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Quantity == nil {
		v := &stock.ValidationError{}
		v.Add("quantity", "quantity is required")
		writeStockError(w, v)
		return
	}

	entry, err := apply(req)
	h.Metrics.ObserveOperation(op, err)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// =============================================================================
// SALES HANDLERS
// =============================================================================

// ListSales returns every sale, newest first.
// GET /api/sales
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Reports.Sales(r.Context())
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTOs(sales))
}

// GetSale returns one sale.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Reports.Sale(r.Context(), stock.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// CreateSale commits a sale.
// POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sale, err := h.Ledger.CommitSale(r.Context(), req.saleRequest())
	h.Metrics.ObserveOperation("commit_sale", err)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(*sale))
}

// QuoteSale prices a sale against current stock without committing it.
// POST /api/sales/quote
func (h *Handler) QuoteSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sale, err := h.Ledger.QuoteSale(r.Context(), req.saleRequest())
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// SalesSummary returns today's and all-time totals.
// GET /api/sales/stats/summary
func (h *Handler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reports.SalesSummary(r.Context())
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SalesSummaryDTO{
		TodaySales:   summary.TodaySales,
		TodayRevenue: money(summary.TodayRevenue),
		TotalSales:   summary.TotalSales,
		TotalRevenue: money(summary.TotalRevenue),
	})
}

// SalesRange returns sales between two dates.
// GET /api/sales/stats/range?startDate=2025-01-01&endDate=2025-01-31
func (h *Handler) SalesRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := &stock.ValidationError{}
	from, err := parseRangeDate(q.Get("startDate"), false)
	if err != nil {
		v.Add("startDate", err.Error())
	}
	to, err := parseRangeDate(q.Get("endDate"), true)
	if err != nil {
		v.Add("endDate", err.Error())
	}
	if err := v.OrNil(); err != nil {
		writeStockError(w, err)
		return
	}

	result, err := h.Reports.SalesInRange(r.Context(), from, to)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SalesRangeDTO{
		Sales:        toSaleDTOs(result.Sales),
		TotalRevenue: money(result.TotalRevenue),
		TotalItems:   result.TotalItems,
		TotalSales:   result.TotalSales,
	})
}

// parseRangeDate accepts YYYY-MM-DD (UTC) or RFC 3339. A date-only end
// covers the whole day.
func parseRangeDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns products, newest first.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeInactive, _ := strconv.ParseBool(q.Get("includeInactive"))

	products, err := h.Catalog.ListProducts(r.Context(), stock.ProductFilter{
		IncludeInactive: includeInactive,
		Category:        stock.Category(q.Get("category")),
	})
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// GetProduct returns one product, active or not.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.GetProduct(r.Context(), stock.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// CreateProduct registers a product.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Catalog.CreateProduct(r.Context(), req.input())
	h.Metrics.ObserveOperation("create_product", err)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

// UpdateProduct changes descriptive fields. Stock is rejected here.
// PUT /api/products/{id}
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StockQuantity != nil {
		v := &stock.ValidationError{}
		v.Add("stockQuantity", "stock is changed through the inventory endpoints")
		writeStockError(w, v)
		return
	}

	p, err := h.Catalog.UpdateProduct(r.Context(), stock.ProductID(chi.URLParam(r, "id")), req.patch())
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// DeleteProduct soft-deletes a product.
// DELETE /api/products/{id}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.DeactivateProduct(r.Context(), stock.ProductID(chi.URLParam(r, "id"))); err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}

// LowStock returns active products at or below their minimum level.
// GET /api/products/alerts/low-stock
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.LowStock(r.Context())
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ListReconciliationRuns returns recent runs, newest first.
// GET /api/reconciliation/runs?limit=20
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			v := &stock.ValidationError{}
			v.Add("limit", "limit must be a positive integer")
			writeStockError(w, v)
			return
		}
		limit = n
	}

	runs, err := h.Reconciler.Runs(r.Context(), limit)
	if err != nil {
		writeStockError(w, err)
		return
	}
	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunReconciliation replays every product's ledger now.
// POST /api/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var (
		run *stock.ReconciliationRun
		err error
	)
	if h.Scheduler != nil {
		run, err = h.Scheduler.RunNow(r.Context())
	} else {
		run, err = h.Reconciler.Run(r.Context())
	}
	h.Metrics.ObserveOperation("reconcile", err)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// ReconciliationSchedule reports whether the periodic sweep is running.
// GET /api/reconciliation/schedule
func (h *Handler) ReconciliationSchedule(w http.ResponseWriter, r *http.Request) {
	dto := ReconciliationScheduleDTO{}
	if h.Scheduler != nil {
		dto.Interval = h.Scheduler.Interval.String()
		if next := h.Scheduler.NextRunTime(); !next.IsZero() {
			dto.Enabled = true
			dto.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStockError maps an engine error to its status and a structured body.
func writeStockError(w http.ResponseWriter, err error) {
	kind := stock.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: string(kind)}
	status := http.StatusInternalServerError

	var (
		validation *stock.ValidationError
		notFound   *stock.NotFoundError
		short      *stock.InsufficientStockError
	)
	switch kind {
	case stock.KindValidation:
		status = http.StatusBadRequest
		if errors.As(err, &validation) {
			fields := make([]FieldErrorDTO, len(validation.Fields))
			for i, f := range validation.Fields {
				fields[i] = FieldErrorDTO{Field: f.Field, Message: f.Message}
			}
			resp.Details = fields
		}
	case stock.KindNotFound:
		status = http.StatusNotFound
		if errors.As(err, &notFound) {
			details := map[string]any{"resource": notFound.Resource, "id": notFound.ID}
			if notFound.Line >= 0 {
				details["line"] = notFound.Line
			}
			resp.Details = details
		}
	case stock.KindInvariant:
		status = http.StatusBadRequest
		if errors.As(err, &short) {
			details := map[string]any{
				"productId": short.ProductID,
				"operation": short.Operation,
				"available": short.Available,
				"requested": short.Requested,
			}
			if short.ProductName != "" {
				details["productName"] = short.ProductName
			}
			if short.Line >= 0 {
				details["line"] = short.Line
			}
			resp.Details = details
		}
	case stock.KindTransient:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	default:
		log.Printf("[API] Internal error: %v", err)
		resp.Error = "Internal error"
	}

	writeJSON(w, status, resp)
}
