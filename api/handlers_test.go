/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Product registration, update and soft delete
- Stock movements and their error mapping
- Sales: commit, quote, statistics
- Reconciliation endpoints, metrics and rate limiting
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func setupTestServer(t *testing.T, cfg RouterConfig) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, store)
	router, err := NewRouter(h, cfg)
	require.NoError(t, err)
	return h, router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createTestProduct(t *testing.T, router http.Handler, name string, price float64, qty int) ProductDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/products", map[string]any{
		"name":          name,
		"category":      "Milk",
		"price":         price,
		"cost":          0.5,
		"unit":          "Liter",
		"stockQuantity": qty,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ProductDTO](t, rec)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestProducts_Lifecycle(t *testing.T) {
	// GIVEN: An empty shop
	// WHEN: A product is created, read, updated and deleted
	// THEN: Each step answers with the product and delete is a soft delete

	_, router := setupTestServer(t, RouterConfig{})

	p := createTestProduct(t, router, "Whole Milk", 1.2, 24)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 24, p.StockQuantity)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("1.2")))
	assert.False(t, p.IsLowStock)

	rec := do(t, router, http.MethodGet, "/api/products/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Whole Milk", decodeBody[ProductDTO](t, rec).Name)

	rec = do(t, router, http.MethodPut, "/api/products/"+p.ID, map[string]any{"price": "1.35", "minStockLevel": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[ProductDTO](t, rec)
	assert.True(t, updated.Price.Equal(decimal.RequireFromString("1.35")))
	assert.True(t, updated.IsLowStock)

	rec = do(t, router, http.MethodDelete, "/api/products/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Product deleted successfully")

	rec = do(t, router, http.MethodGet, "/api/products", nil)
	assert.Empty(t, decodeBody[[]ProductDTO](t, rec))

	rec = do(t, router, http.MethodGet, "/api/products?includeInactive=true", nil)
	all := decodeBody[[]ProductDTO](t, rec)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}

func TestCreateProduct_ValidationErrorListsFields(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})

	rec := do(t, router, http.MethodPost, "/api/products", map[string]any{"price": -1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[struct {
		Code    string          `json:"code"`
		Details []FieldErrorDTO `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation_error", resp.Code)

	fields := map[string]bool{}
	for _, f := range resp.Details {
		fields[f.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["category"])
	assert.True(t, fields["price"])
	assert.True(t, fields["unit"])
}

func TestUpdateProduct_StockIsNotEditable(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	p := createTestProduct(t, router, "Milk", 1.2, 5)

	rec := do(t, router, http.MethodPut, "/api/products/"+p.ID, map[string]any{"stockQuantity": 500})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "stockQuantity")

	rec = do(t, router, http.MethodGet, "/api/products/"+p.ID, nil)
	assert.Equal(t, 5, decodeBody[ProductDTO](t, rec).StockQuantity)
}

func TestGetProduct_NotFound(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})

	rec := do(t, router, http.MethodGet, "/api/products/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "not_found", resp.Code)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "product", details["resource"])
	assert.NotContains(t, details, "line")
}

func TestInvalidJSON_BadRequest(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})

	rec := do(t, router, http.MethodPost, "/api/products", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody[ErrorResponse](t, rec).Error)
}

// =============================================================================
// INVENTORY
// =============================================================================

func TestStockMovements(t *testing.T) {
	// GIVEN: A product with stock 10
	// WHEN: 5 are received, then a loss of 20 is attempted, then -3 adjusted
	// THEN: 201, 400 invariant_violation, 201; ledger shows three entries

	_, router := setupTestServer(t, RouterConfig{})
	p := createTestProduct(t, router, "Milk", 1.2, 10)

	rec := do(t, router, http.MethodPost, "/api/inventory/add-stock", map[string]any{
		"productId": p.ID, "quantity": 5, "reason": "Delivery", "performedBy": "maria", "reference": "INV-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decodeBody[LedgerEntryDTO](t, rec)
	assert.Equal(t, "In", entry.Type)
	assert.Equal(t, 10, entry.PreviousStock)
	assert.Equal(t, 15, entry.NewStock)
	require.NotNil(t, entry.Product)
	assert.Equal(t, "Milk", entry.Product.Name)

	rec = do(t, router, http.MethodPost, "/api/inventory/record-loss", map[string]any{
		"productId": p.ID, "quantity": 20, "type": "Damage", "reason": "Broken", "performedBy": "maria",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "invariant_violation", resp.Code)
	details := resp.Details.(map[string]any)
	assert.Equal(t, float64(15), details["available"])
	assert.Equal(t, float64(20), details["requested"])
	assert.Equal(t, "loss", details["operation"])

	rec = do(t, router, http.MethodPost, "/api/inventory/adjust-stock", map[string]any{
		"productId": p.ID, "quantity": -3, "reason": "Stocktake", "performedBy": "ali",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 12, decodeBody[LedgerEntryDTO](t, rec).NewStock)

	rec = do(t, router, http.MethodGet, "/api/inventory/product/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]LedgerEntryDTO](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, "Adjustment", entries[0].Type)
	assert.Equal(t, -3, entries[0].Quantity)

	rec = do(t, router, http.MethodGet, "/api/inventory/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[InventorySummaryDTO](t, rec)
	assert.Equal(t, 1, summary.TotalProducts)
	assert.True(t, summary.TotalStockValue.Equal(decimal.RequireFromString("14.4")))
	assert.Len(t, summary.RecentMovements, 3)
}

func TestStockMovement_MissingQuantity(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	p := createTestProduct(t, router, "Milk", 1.2, 10)

	rec := do(t, router, http.MethodPost, "/api/inventory/adjust-stock", map[string]any{
		"productId": p.ID, "reason": "Stocktake", "performedBy": "ali",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"quantity"`)
}

func TestStockMovement_UnknownProduct(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})

	rec := do(t, router, http.MethodPost, "/api/inventory/add-stock", map[string]any{
		"productId": "missing", "quantity": 1, "reason": "Delivery", "performedBy": "maria",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SALES
// =============================================================================

func TestCreateSale(t *testing.T) {
	// GIVEN: A product priced 3.00 with stock 10
	// WHEN: Two units are sold with a 1.00 discount
	// THEN: 201 with total 5, stock 8, and the sale is listed

	_, router := setupTestServer(t, RouterConfig{})
	p := createTestProduct(t, router, "Yogurt", 3.00, 10)

	rec := do(t, router, http.MethodPost, "/api/sales", map[string]any{
		"customerName":  "Jana",
		"items":         []map[string]any{{"product": p.ID, "quantity": 2}},
		"paymentMethod": "Cash",
		"discount":      1.00,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeBody[SaleDTO](t, rec)
	assert.NotEmpty(t, sale.ID)
	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(5)), "total %s", sale.TotalAmount)
	assert.True(t, sale.Subtotal.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, "Paid", sale.PaymentStatus)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, p.ID, sale.Items[0].ProductID)

	rec = do(t, router, http.MethodGet, "/api/products/"+p.ID, nil)
	assert.Equal(t, 8, decodeBody[ProductDTO](t, rec).StockQuantity)

	rec = do(t, router, http.MethodGet, "/api/sales/"+sale.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Jana", decodeBody[SaleDTO](t, rec).CustomerName)

	rec = do(t, router, http.MethodGet, "/api/sales", nil)
	assert.Len(t, decodeBody[[]SaleDTO](t, rec), 1)

	rec = do(t, router, http.MethodGet, "/api/sales/stats/summary", nil)
	summary := decodeBody[SalesSummaryDTO](t, rec)
	assert.Equal(t, 1, summary.TodaySales)
	assert.Equal(t, 1, summary.TotalSales)
	assert.True(t, summary.TotalRevenue.Equal(decimal.NewFromInt(5)))
}

func TestCreateSale_InsufficientStock(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	a := createTestProduct(t, router, "Cream", 2.2, 1)
	b := createTestProduct(t, router, "Cheddar", 12.5, 5)

	rec := do(t, router, http.MethodPost, "/api/sales", map[string]any{
		"customerName": "Jana",
		"items": []map[string]any{
			{"product": a.ID, "quantity": 2},
			{"product": b.ID, "quantity": 1},
		},
		"paymentMethod": "Card",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "invariant_violation", resp.Code)
	details := resp.Details.(map[string]any)
	assert.Equal(t, "Cream", details["productName"])
	assert.Equal(t, float64(0), details["line"])

	rec = do(t, router, http.MethodGet, "/api/products/"+b.ID, nil)
	assert.Equal(t, 5, decodeBody[ProductDTO](t, rec).StockQuantity)
	rec = do(t, router, http.MethodGet, "/api/sales", nil)
	assert.Empty(t, decodeBody[[]SaleDTO](t, rec))
}

func TestCreateSale_UnknownProductReportsLine(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	a := createTestProduct(t, router, "Milk", 1.2, 10)

	rec := do(t, router, http.MethodPost, "/api/sales", map[string]any{
		"customerName":  "Jana",
		"items":         []map[string]any{{"product": a.ID, "quantity": 1}, {"product": "ghost", "quantity": 1}},
		"paymentMethod": "Cash",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	details := decodeBody[ErrorResponse](t, rec).Details.(map[string]any)
	assert.Equal(t, float64(1), details["line"])
	assert.Equal(t, "ghost", details["id"])
}

func TestQuoteSale_DoesNotWrite(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	p := createTestProduct(t, router, "Milk", 1.2, 10)

	rec := do(t, router, http.MethodPost, "/api/sales/quote", map[string]any{
		"customerName":  "Jana",
		"items":         []map[string]any{{"product": p.ID, "quantity": 3}},
		"paymentMethod": "Digital Payment",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decodeBody[SaleDTO](t, rec)
	assert.Empty(t, quote.ID)
	assert.True(t, quote.TotalAmount.Equal(decimal.RequireFromString("3.6")))

	rec = do(t, router, http.MethodGet, "/api/products/"+p.ID, nil)
	assert.Equal(t, 10, decodeBody[ProductDTO](t, rec).StockQuantity)
}

func TestSalesRange(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	p := createTestProduct(t, router, "Milk", 1.5, 10)

	rec := do(t, router, http.MethodPost, "/api/sales", map[string]any{
		"customerName": "Jana", "paymentMethod": "Cash",
		"items": []map[string]any{{"product": p.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	today := time.Now().UTC().Format("2006-01-02")
	rec = do(t, router, http.MethodGet, "/api/sales/stats/range?startDate="+today+"&endDate="+today, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[SalesRangeDTO](t, rec)
	assert.Equal(t, 1, got.TotalSales)
	assert.Equal(t, 2, got.TotalItems)
	assert.True(t, got.TotalRevenue.Equal(decimal.NewFromInt(3)))

	rec = do(t, router, http.MethodGet, "/api/sales/stats/range?startDate=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "startDate")
	assert.Contains(t, body, "endDate")
}

func TestParseRangeDate(t *testing.T) {
	start, err := parseRangeDate("2025-03-09", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC), start)

	end, err := parseRangeDate("2025-03-09", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 9, 23, 59, 59, 999999999, time.UTC), end)

	exact, err := parseRangeDate("2025-03-09T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.True(t, exact.Equal(time.Date(2025, time.March, 9, 8, 0, 0, 0, time.UTC)))

	_, err = parseRangeDate("", false)
	assert.Error(t, err)
}

// =============================================================================
// RECONCILIATION, METRICS, LIMITS
// =============================================================================

func TestReconciliationEndpoints(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	createTestProduct(t, router, "Milk", 1.2, 10)

	rec := do(t, router, http.MethodPost, "/api/reconciliation/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[ReconciliationRunDTO](t, rec)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 1, run.ProductsChecked)
	assert.Empty(t, run.Discrepancies)

	rec = do(t, router, http.MethodGet, "/api/reconciliation/runs", nil)
	runs := decodeBody[[]ReconciliationRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = do(t, router, http.MethodGet, "/api/reconciliation/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/reconciliation/schedule", nil)
	assert.False(t, decodeBody[ReconciliationScheduleDTO](t, rec).Enabled)
}

func TestReconciliationSchedule_Running(t *testing.T) {
	h, router := setupTestServer(t, RouterConfig{})

	scheduler := NewReconciliationScheduler(h.Reconciler)
	scheduler.Interval = time.Hour
	require.NoError(t, scheduler.Start())
	t.Cleanup(scheduler.Stop)
	h.Scheduler = scheduler

	rec := do(t, router, http.MethodGet, "/api/reconciliation/schedule", nil)
	dto := decodeBody[ReconciliationScheduleDTO](t, rec)
	assert.True(t, dto.Enabled)
	assert.Equal(t, "1h0m0s", dto.Interval)
	require.NotNil(t, dto.NextRun)

	scheduler.Stop()
	assert.True(t, scheduler.NextRunTime().IsZero())
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})
	p := createTestProduct(t, router, "Milk", 1.2, 10)

	do(t, router, http.MethodPost, "/api/inventory/record-loss", map[string]any{
		"productId": p.ID, "quantity": 99, "type": "Expiry", "reason": "Old", "performedBy": "x",
	})

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `stock_ledger_operations_total{operation="create_product",result="ok"} 1`)
	assert.Contains(t, body, `stock_ledger_operations_total{operation="record_loss",result="invariant_violation"} 1`)
	assert.Contains(t, body, `path="/api/products/"`)
}

func TestRateLimit_WriteRoutes(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{RateLimit: "1-M"})

	first := do(t, router, http.MethodPost, "/api/products", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := do(t, router, http.MethodPost, "/api/products", map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	reads := do(t, router, http.MethodGet, "/api/products", nil)
	assert.Equal(t, http.StatusOK, reads.Code, "reads are not limited")
}

func TestNewRouter_InvalidRateLimit(t *testing.T) {
	h := NewHandler(nil, nil)
	_, err := NewRouter(h, RouterConfig{RateLimit: "lots"})
	assert.Error(t, err)
}

func TestWriteStockError_TransientSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeStockError(rec, &stock.TransientError{Op: "lock", Cause: errors.New("product p is busy")})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "transient_failure", decodeBody[ErrorResponse](t, rec).Code)
}

func TestWriteStockError_InternalHidesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeStockError(rec, &stock.InternalError{Op: "db", Err: errors.New("disk I/O error")})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "Internal error", resp.Error)
	assert.Equal(t, "internal_error", resp.Code)
	assert.Nil(t, resp.Details)
	assert.NotContains(t, rec.Body.String(), "disk I/O error")
}

func TestHealth(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})

	rec := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ok"))
}
