/*
scenarios.go - Demo catalog loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the shop with realistic data.
	Everything is created through the catalog and the ledger, so a loaded
	scenario passes reconciliation like any real history would.

AVAILABLE SCENARIOS:

	dairy-shop:  A stocked dairy catalog with a delivery, a write-off and sales
	low-stock:   A few products sitting at or under their minimum level

HOW SCENARIOS WORK:
 1. Register products with opening stock (one In entry each)
 2. Post deliveries, adjustments and losses
 3. Commit sales

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "dairy-shop"}

NOTE:

	The ledger is append-only, so loading never clears existing data. Loading
	a scenario twice registers its products twice.

SEE ALSO:
  - handlers.go: Handler wiring
  - stock/catalog.go: CreateProduct
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "dairy-shop",
		Name:        "Dairy Shop",
		Description: "Stocked dairy catalog with a delivery, an expiry write-off and two sales",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Products at or below their minimum level, for the low-stock alerts",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, out *LoadScenarioResponse) error

var scenarioLoaders = map[string]scenarioLoader{
	"dairy-shop": loadDairyShopScenario,
	"low-stock":  loadLowStockScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resp, err := h.Seed(r.Context(), req.ScenarioID)
	if err != nil {
		writeStockError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Seed loads a scenario by id.
func (h *Handler) Seed(ctx context.Context, scenarioID string) (*LoadScenarioResponse, error) {
	load, ok := scenarioLoaders[scenarioID]
	if !ok {
		v := &stock.ValidationError{}
		v.Add("scenarioId", fmt.Sprintf("unknown scenario %q", scenarioID))
		return nil, v
	}

	out := &LoadScenarioResponse{ScenarioID: scenarioID}
	if err := load(ctx, h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoProduct struct {
	name     string
	category stock.Category
	price    string
	cost     string
	unit     stock.Unit
	stock    int
	min      int
	supplier string
	shelf    time.Duration
}

func (h *Handler) createDemoProducts(ctx context.Context, products []demoProduct, out *LoadScenarioResponse) ([]*stock.Product, error) {
	created := make([]*stock.Product, 0, len(products))
	for _, d := range products {
		minLevel := d.min
		expiry := time.Now().UTC().Add(d.shelf).Truncate(24 * time.Hour)
		p, err := h.Catalog.CreateProduct(ctx, stock.ProductInput{
			Name:          d.name,
			Category:      d.category,
			Price:         decimal.RequireFromString(d.price),
			Cost:          decimal.RequireFromString(d.cost),
			Unit:          d.unit,
			StockQuantity: d.stock,
			MinStockLevel: &minLevel,
			Supplier:      d.supplier,
			ExpiryDate:    &expiry,
			PerformedBy:   "Seed",
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", d.name, err)
		}
		out.Products++
		if d.stock > 0 {
			out.Entries++
		}
		created = append(created, p)
	}
	return created, nil
}

func loadDairyShopScenario(ctx context.Context, h *Handler, out *LoadScenarioResponse) error {
	day := 24 * time.Hour
	products, err := h.createDemoProducts(ctx, []demoProduct{
		{"Whole Milk 1L", stock.CategoryMilk, "1.20", "0.80", stock.UnitLiter, 60, 20, "Valley Farms", 7 * day},
		{"Skimmed Milk 1L", stock.CategoryMilk, "1.10", "0.70", stock.UnitLiter, 40, 15, "Valley Farms", 7 * day},
		{"Aged Cheddar", stock.CategoryCheese, "12.50", "8.00", stock.UnitKilogram, 15, 5, "Hillside Creamery", 90 * day},
		{"Greek Yogurt 500g", stock.CategoryYogurt, "3.40", "2.10", stock.UnitPiece, 30, 10, "Valley Farms", 21 * day},
		{"Salted Butter 250g", stock.CategoryButter, "2.75", "1.60", stock.UnitPack, 25, 10, "Hillside Creamery", 60 * day},
		{"Double Cream 300ml", stock.CategoryCream, "2.20", "1.30", stock.UnitPiece, 18, 8, "Valley Farms", 10 * day},
		{"Vanilla Ice Cream 1L", stock.CategoryIceCream, "5.90", "3.20", stock.UnitPiece, 12, 4, "Polar Treats", 180 * day},
	}, out)
	if err != nil {
		return err
	}
	milk, cheddar, yogurt, butter := products[0], products[2], products[3], products[4]

	moves := []struct {
		apply func(context.Context, stock.Movement) (*stock.LedgerEntry, error)
		m     stock.Movement
	}{
		{h.Ledger.ReceiveStock, stock.Movement{
			ProductID: milk.ID, Quantity: 48, Reason: "Weekly delivery",
			Reference: "INV-1042", PerformedBy: "Seed",
		}},
		{h.Ledger.RecordLoss, stock.Movement{
			ProductID: yogurt.ID, Quantity: 3, Type: stock.EntryExpiry,
			Reason: "Past best-before date", PerformedBy: "Seed",
		}},
		{h.Ledger.AdjustStock, stock.Movement{
			ProductID: butter.ID, Quantity: -2, Reason: "Shelf count correction",
			Notes: "Two packs missing at stocktake", PerformedBy: "Seed",
		}},
	}
	for _, mv := range moves {
		if _, err := mv.apply(ctx, mv.m); err != nil {
			return err
		}
		out.Entries++
	}

	sales := []stock.SaleRequest{
		{
			CustomerName:  "Walk-in",
			PaymentMethod: stock.PaymentCash,
			Lines: []stock.SaleLine{
				{ProductID: milk.ID, Quantity: 2},
				{ProductID: butter.ID, Quantity: 1},
			},
		},
		{
			CustomerName:  "Corner Cafe",
			CustomerPhone: "555-0142",
			PaymentMethod: stock.PaymentCard,
			Discount:      decimal.RequireFromString("2.50"),
			Lines: []stock.SaleLine{
				{ProductID: milk.ID, Quantity: 12},
				{ProductID: cheddar.ID, Quantity: 2},
			},
		},
	}
	for _, req := range sales {
		sale, err := h.Ledger.CommitSale(ctx, req)
		if err != nil {
			return err
		}
		out.Sales++
		out.Entries += len(sale.Items)
	}
	return nil
}

func loadLowStockScenario(ctx context.Context, h *Handler, out *LoadScenarioResponse) error {
	day := 24 * time.Hour
	products, err := h.createDemoProducts(ctx, []demoProduct{
		{"Goat Milk 1L", stock.CategoryMilk, "2.40", "1.50", stock.UnitLiter, 4, 10, "Meadow Goats", 5 * day},
		{"Blue Cheese", stock.CategoryCheese, "18.00", "11.00", stock.UnitKilogram, 2, 2, "Hillside Creamery", 45 * day},
		{"Sour Cream 200ml", stock.CategoryCream, "1.60", "0.90", stock.UnitPiece, 0, 6, "Valley Farms", 14 * day},
	}, out)
	if err != nil {
		return err
	}

	_, err = h.Ledger.RecordLoss(ctx, stock.Movement{
		ProductID:   products[0].ID,
		Quantity:    1,
		Type:        stock.EntryDamage,
		Reason:      "Leaking carton",
		PerformedBy: "Seed",
	})
	if err != nil {
		return err
	}
	out.Entries++
	return nil
}
