/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stock package's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

FIELD NAMES:
  camelCase throughout (productId, previousStock, paymentMethod). Money is a
  JSON number rendered from decimal.Decimal without going through float64.

VALIDATION:
  Validation is done in the stock package, not in DTOs. DTOs are pure data
  carriers. Pointer fields distinguish "absent" from zero.

SEE ALSO:
  - handlers.go: Uses these types
  - stock/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/stock"
)

// Money is a decimal amount encoded as a bare JSON number. It decodes from a
// number or a numeric string.
type Money struct {
	decimal.Decimal
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

func money(d decimal.Decimal) Money { return Money{Decimal: d} }

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Description   string     `json:"description,omitempty"`
	Price         Money      `json:"price"`
	Cost          Money      `json:"cost"`
	Unit          string     `json:"unit"`
	StockQuantity int        `json:"stockQuantity"`
	MinStockLevel int        `json:"minStockLevel"`
	Supplier      string     `json:"supplier,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
	IsActive      bool       `json:"isActive"`
	IsLowStock    bool       `json:"isLowStock"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ProductSummaryDTO is the product view attached to entries and sale lines.
type ProductSummaryDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    Money  `json:"price"`
	Unit     string `json:"unit"`
	IsActive bool   `json:"isActive"`
}

// CreateProductRequest is the request to register a product.
type CreateProductRequest struct {
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Description   string     `json:"description"`
	Price         Money      `json:"price"`
	Cost          Money      `json:"cost"`
	Unit          string     `json:"unit"`
	StockQuantity int        `json:"stockQuantity"`
	MinStockLevel *int       `json:"minStockLevel"`
	Supplier      string     `json:"supplier"`
	ExpiryDate    *time.Time `json:"expiryDate"`
	PerformedBy   string     `json:"performedBy"`
}

// UpdateProductRequest carries the fields to change. StockQuantity is only
// here so it can be rejected.
type UpdateProductRequest struct {
	Name          *string    `json:"name"`
	Category      *string    `json:"category"`
	Description   *string    `json:"description"`
	Price         *Money     `json:"price"`
	Cost          *Money     `json:"cost"`
	Unit          *string    `json:"unit"`
	MinStockLevel *int       `json:"minStockLevel"`
	Supplier      *string    `json:"supplier"`
	ExpiryDate    *time.Time `json:"expiryDate"`
	IsActive      *bool      `json:"isActive"`
	StockQuantity *int       `json:"stockQuantity"`
}

// =============================================================================
// LEDGER
// =============================================================================

// StockMovementRequest is the body of add-stock, adjust-stock and record-loss.
type StockMovementRequest struct {
	ProductID   string `json:"productId"`
	Quantity    *int   `json:"quantity"`
	Type        string `json:"type,omitempty"`
	Reason      string `json:"reason"`
	Reference   string `json:"reference"`
	Notes       string `json:"notes"`
	PerformedBy string `json:"performedBy"`
}

// LedgerEntryDTO represents one stock movement.
type LedgerEntryDTO struct {
	ID            string             `json:"id"`
	ProductID     string             `json:"productId"`
	Product       *ProductSummaryDTO `json:"product,omitempty"`
	Type          string             `json:"type"`
	Quantity      int                `json:"quantity"`
	PreviousStock int                `json:"previousStock"`
	NewStock      int                `json:"newStock"`
	Reason        string             `json:"reason"`
	Reference     string             `json:"reference,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	PerformedBy   string             `json:"performedBy"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// InventorySummaryDTO is the inventory dashboard.
type InventorySummaryDTO struct {
	TotalProducts    int              `json:"totalProducts"`
	LowStockProducts int              `json:"lowStockProducts"`
	TotalStockValue  Money            `json:"totalStockValue"`
	RecentMovements  []LedgerEntryDTO `json:"recentMovements"`
}

// =============================================================================
// SALES
// =============================================================================

// SaleLineRequest is one requested line. The field is "product" on the wire.
type SaleLineRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// CreateSaleRequest is the request to record a sale.
type CreateSaleRequest struct {
	CustomerName  string            `json:"customerName"`
	CustomerPhone string            `json:"customerPhone"`
	Items         []SaleLineRequest `json:"items"`
	PaymentMethod string            `json:"paymentMethod"`
	PaymentStatus string            `json:"paymentStatus"`
	Discount      *Money            `json:"discount"`
	Notes         string            `json:"notes"`
}

// SaleItemDTO is one line of a sale.
type SaleItemDTO struct {
	ProductID  string             `json:"productId"`
	Product    *ProductSummaryDTO `json:"product,omitempty"`
	Quantity   int                `json:"quantity"`
	UnitPrice  Money              `json:"unitPrice"`
	TotalPrice Money              `json:"totalPrice"`
}

// SaleDTO represents a sale. ID and CreatedAt are empty on a quote.
type SaleDTO struct {
	ID            string        `json:"id,omitempty"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone,omitempty"`
	Items         []SaleItemDTO `json:"items"`
	Subtotal      Money         `json:"subtotal"`
	Discount      Money         `json:"discount"`
	TotalAmount   Money         `json:"totalAmount"`
	PaymentMethod string        `json:"paymentMethod"`
	PaymentStatus string        `json:"paymentStatus"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     *time.Time    `json:"createdAt,omitempty"`
}

// SalesSummaryDTO is the sales dashboard.
type SalesSummaryDTO struct {
	TodaySales   int   `json:"todaySales"`
	TodayRevenue Money `json:"todayRevenue"`
	TotalSales   int   `json:"totalSales"`
	TotalRevenue Money `json:"totalRevenue"`
}

// SalesRangeDTO is the response of the date range query.
type SalesRangeDTO struct {
	Sales        []SaleDTO `json:"sales"`
	TotalRevenue Money     `json:"totalRevenue"`
	TotalItems   int       `json:"totalItems"`
	TotalSales   int       `json:"totalSales"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// DiscrepancyDTO is one inconsistency found by a reconciliation run.
type DiscrepancyDTO struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Kind        string `json:"kind"`
	EntryID     string `json:"entryId,omitempty"`
	Expected    int    `json:"expected"`
	Actual      int    `json:"actual"`
	Message     string `json:"message"`
}

// ReconciliationRunDTO represents a reconciliation run.
type ReconciliationRunDTO struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	ProductsChecked int              `json:"productsChecked"`
	EntriesChecked  int              `json:"entriesChecked"`
	Discrepancies   []DiscrepancyDTO `json:"discrepancies"`
	Error           string           `json:"error,omitempty"`
	StartedAt       time.Time        `json:"startedAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

// ReconciliationScheduleDTO describes the periodic sweep.
type ReconciliationScheduleDTO struct {
	Enabled  bool       `json:"enabled"`
	Interval string     `json:"interval,omitempty"`
	NextRun  *time.Time `json:"nextRun,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// LoadScenarioResponse reports what a scenario created.
type LoadScenarioResponse struct {
	ScenarioID string `json:"scenarioId"`
	Products   int    `json:"products"`
	Entries    int    `json:"entries"`
	Sales      int    `json:"sales"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO is one rejected request field.
type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProductDTO(p stock.Product) ProductDTO {
	return ProductDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		Category:      string(p.Category),
		Description:   p.Description,
		Price:         money(p.Price),
		Cost:          money(p.Cost),
		Unit:          string(p.Unit),
		StockQuantity: p.StockQuantity,
		MinStockLevel: p.MinStockLevel,
		Supplier:      p.Supplier,
		ExpiryDate:    p.ExpiryDate,
		IsActive:      p.IsActive,
		IsLowStock:    p.IsLowStock(),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toProductDTOs(products []stock.Product) []ProductDTO {
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	return dtos
}

func toSummaryDTO(s *stock.ProductSummary) *ProductSummaryDTO {
	if s == nil {
		return nil
	}
	return &ProductSummaryDTO{
		ID:       string(s.ID),
		Name:     s.Name,
		Category: string(s.Category),
		Price:    money(s.Price),
		Unit:     string(s.Unit),
		IsActive: s.IsActive,
	}
}

func toEntryDTO(e stock.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:            string(e.ID),
		ProductID:     string(e.ProductID),
		Product:       toSummaryDTO(e.Product),
		Type:          string(e.Type),
		Quantity:      e.Quantity,
		PreviousStock: e.PreviousStock,
		NewStock:      e.NewStock,
		Reason:        e.Reason,
		Reference:     e.Reference,
		Notes:         e.Notes,
		PerformedBy:   e.PerformedBy,
		CreatedAt:     e.CreatedAt,
	}
}

func toEntryDTOs(entries []stock.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toSaleDTO(s stock.Sale) SaleDTO {
	items := make([]SaleItemDTO, len(s.Items))
	for i, item := range s.Items {
		items[i] = SaleItemDTO{
			ProductID:  string(item.ProductID),
			Product:    toSummaryDTO(item.Product),
			Quantity:   item.Quantity,
			UnitPrice:  money(item.UnitPrice),
			TotalPrice: money(item.TotalPrice),
		}
	}

	dto := SaleDTO{
		ID:            string(s.ID),
		CustomerName:  s.CustomerName,
		CustomerPhone: s.CustomerPhone,
		Items:         items,
		Subtotal:      money(s.Subtotal()),
		Discount:      money(s.Discount),
		TotalAmount:   money(s.TotalAmount),
		PaymentMethod: string(s.PaymentMethod),
		PaymentStatus: string(s.PaymentStatus),
		Notes:         s.Notes,
	}
	if !s.CreatedAt.IsZero() {
		created := s.CreatedAt
		dto.CreatedAt = &created
	}
	return dto
}

func toSaleDTOs(sales []stock.Sale) []SaleDTO {
	dtos := make([]SaleDTO, len(sales))
	for i, s := range sales {
		dtos[i] = toSaleDTO(s)
	}
	return dtos
}

func toRunDTO(r stock.ReconciliationRun) ReconciliationRunDTO {
	discrepancies := make([]DiscrepancyDTO, len(r.Discrepancies))
	for i, d := range r.Discrepancies {
		discrepancies[i] = DiscrepancyDTO{
			ProductID:   string(d.ProductID),
			ProductName: d.ProductName,
			Kind:        string(d.Kind),
			EntryID:     string(d.EntryID),
			Expected:    d.Expected,
			Actual:      d.Actual,
			Message:     d.Message,
		}
	}
	return ReconciliationRunDTO{
		ID:              r.ID,
		Status:          string(r.Status),
		ProductsChecked: r.ProductsChecked,
		EntriesChecked:  r.EntriesChecked,
		Discrepancies:   discrepancies,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

func (req StockMovementRequest) movement(typ stock.EntryType) stock.Movement {
	m := stock.Movement{
		ProductID:   stock.ProductID(req.ProductID),
		Type:        typ,
		Reason:      req.Reason,
		Reference:   req.Reference,
		Notes:       req.Notes,
		PerformedBy: req.PerformedBy,
	}
	if req.Quantity != nil {
		m.Quantity = *req.Quantity
	}
	return m
}

func (req CreateSaleRequest) saleRequest() stock.SaleRequest {
	lines := make([]stock.SaleLine, len(req.Items))
	for i, item := range req.Items {
		lines[i] = stock.SaleLine{ProductID: stock.ProductID(item.Product), Quantity: item.Quantity}
	}
	sr := stock.SaleRequest{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		PaymentMethod: stock.PaymentMethod(req.PaymentMethod),
		PaymentStatus: stock.PaymentStatus(req.PaymentStatus),
		Notes:         req.Notes,
		Lines:         lines,
	}
	if req.Discount != nil {
		sr.Discount = req.Discount.Decimal
	}
	return sr
}

func (req CreateProductRequest) input() stock.ProductInput {
	return stock.ProductInput{
		Name:          req.Name,
		Category:      stock.Category(req.Category),
		Description:   req.Description,
		Price:         req.Price.Decimal,
		Cost:          req.Cost.Decimal,
		Unit:          stock.Unit(req.Unit),
		StockQuantity: req.StockQuantity,
		MinStockLevel: req.MinStockLevel,
		Supplier:      req.Supplier,
		ExpiryDate:    req.ExpiryDate,
		PerformedBy:   req.PerformedBy,
	}
}

func (req UpdateProductRequest) patch() stock.ProductPatch {
	p := stock.ProductPatch{
		Name:          req.Name,
		Description:   req.Description,
		MinStockLevel: req.MinStockLevel,
		Supplier:      req.Supplier,
		ExpiryDate:    req.ExpiryDate,
		IsActive:      req.IsActive,
	}
	if req.Category != nil {
		c := stock.Category(*req.Category)
		p.Category = &c
	}
	if req.Unit != nil {
		u := stock.Unit(*req.Unit)
		p.Unit = &u
	}
	if req.Price != nil {
		p.Price = &req.Price.Decimal
	}
	if req.Cost != nil {
		p.Cost = &req.Cost.Decimal
	}
	return p
}
