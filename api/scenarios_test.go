/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:

	Tests that each scenario sets up the expected state:
	- Products are registered with their opening stock
	- Movements and sales are posted through the ledger
	- The loaded history reconciles without discrepancies

These tests double as integration tests of the whole engine.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/stock"
)

func TestScenario_DairyShop(t *testing.T) {
	// GIVEN: An empty shop
	// WHEN: The dairy-shop scenario is loaded
	// THEN: 7 products, 14 entries and 2 sales exist and reconcile cleanly

	h, _ := setupTestServer(t, RouterConfig{})
	ctx := context.Background()

	resp, err := h.Seed(ctx, "dairy-shop")
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Products)
	assert.Equal(t, 14, resp.Entries)
	assert.Equal(t, 2, resp.Sales)

	products, err := h.Catalog.ListProducts(ctx, stock.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, products, 7)
	byName := map[string]stock.Product{}
	for _, p := range products {
		byName[p.Name] = p
	}
	assert.Equal(t, 94, byName["Whole Milk 1L"].StockQuantity)
	assert.Equal(t, 13, byName["Aged Cheddar"].StockQuantity)
	assert.Equal(t, 27, byName["Greek Yogurt 500g"].StockQuantity)
	assert.Equal(t, 22, byName["Salted Butter 250g"].StockQuantity)

	entries, err := h.Reports.Ledger(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, resp.Entries)

	summary, err := h.Reports.SalesSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalSales)
	assert.True(t, summary.TotalRevenue.Equal(decimal.RequireFromString("42.05")), "revenue %s", summary.TotalRevenue)

	run, err := h.Reconciler.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, run.Discrepancies)
	assert.Equal(t, 7, run.ProductsChecked)
	assert.Equal(t, 14, run.EntriesChecked)
}

func TestScenario_LowStock(t *testing.T) {
	h, _ := setupTestServer(t, RouterConfig{})
	ctx := context.Background()

	resp, err := h.Seed(ctx, "low-stock")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Products)
	assert.Equal(t, 3, resp.Entries)
	assert.Equal(t, 0, resp.Sales)

	low, err := h.Catalog.LowStock(ctx)
	require.NoError(t, err)
	assert.Len(t, low, 3)
}

func TestScenario_LoadingTwiceAppends(t *testing.T) {
	h, _ := setupTestServer(t, RouterConfig{})
	ctx := context.Background()

	_, err := h.Seed(ctx, "low-stock")
	require.NoError(t, err)
	_, err = h.Seed(ctx, "low-stock")
	require.NoError(t, err)

	products, err := h.Catalog.ListProducts(ctx, stock.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, products, 6)
}

func TestScenario_Unknown(t *testing.T) {
	h, _ := setupTestServer(t, RouterConfig{})

	_, err := h.Seed(context.Background(), "nonexistent")
	var v *stock.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "scenarioId", v.Fields[0].Field)
}

func TestScenarioEndpoints(t *testing.T) {
	_, router := setupTestServer(t, RouterConfig{})

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarioLoaders))

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenarioId": "dairy-shop"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 7, decodeBody[LoadScenarioResponse](t, rec).Products)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenarioId": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
