/*
catalog.go - Product registration, updates and soft delete

PURPOSE:
  The catalog owns product records. It validates fields but has no business
  logic beyond that, with one exception: opening stock given at registration
  is written through the ledger as an In entry, so the ledger explains every
  unit a product has ever held.

SOFT DELETE:
  DeactivateProduct flips IsActive. Products are never removed, because
  ledger entries and sale lines keep pointing at them.

STOCK IS NOT EDITABLE HERE:
  ProductPatch has no stock field. Use Ledger.ReceiveStock / AdjustStock /
  RecordLoss.

SEE ALSO:
  - validate.go: Field rules
  - ledger.go: Stock changes
*/
package stock

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OpeningStockReason is recorded on the In entry written at registration.
const OpeningStockReason = "Opening stock"

type ProductInput struct {
	Name          string
	Category      Category
	Description   string
	Price         decimal.Decimal
	Cost          decimal.Decimal
	Unit          Unit
	StockQuantity int
	MinStockLevel *int // nil = DefaultMinStockLevel
	Supplier      string
	ExpiryDate    *time.Time
	PerformedBy   string // recorded on the opening entry, defaults to SystemActor
}

// ProductPatch holds the fields to change. Nil fields are left as they are.
type ProductPatch struct {
	Name          *string
	Category      *Category
	Description   *string
	Price         *decimal.Decimal
	Cost          *decimal.Decimal
	Unit          *Unit
	MinStockLevel *int
	Supplier      *string
	ExpiryDate    *time.Time
	ClearExpiry   bool
	IsActive      *bool
}

type Catalog struct {
	store  Store
	ledger *Ledger
}

func NewCatalog(ledger *Ledger) *Catalog {
	return &Catalog{store: ledger.store, ledger: ledger}
}

// CreateProduct validates and registers a product.
func (c *Catalog) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	now := c.ledger.now().UTC()

	minLevel := DefaultMinStockLevel
	if in.MinStockLevel != nil {
		minLevel = *in.MinStockLevel
	}

	p := Product{
		ID:            ProductID(c.ledger.newID()),
		Name:          strings.TrimSpace(in.Name),
		Category:      in.Category,
		Description:   strings.TrimSpace(in.Description),
		Price:         in.Price,
		Cost:          in.Cost,
		Unit:          in.Unit,
		StockQuantity: in.StockQuantity,
		MinStockLevel: minLevel,
		Supplier:      strings.TrimSpace(in.Supplier),
		ExpiryDate:    in.ExpiryDate,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	actor := strings.TrimSpace(in.PerformedBy)
	if actor == "" {
		actor = SystemActor
	}

	opening := p.StockQuantity
	p.StockQuantity = 0

	err := c.store.WithTx(ctx, func(w Writer) error {
		if err := w.InsertProduct(ctx, p); err != nil {
			return err
		}
		if opening == 0 {
			return nil
		}
		return c.ledger.write(ctx, w, LedgerEntry{
			ID:            EntryID(c.ledger.newID()),
			ProductID:     p.ID,
			Type:          EntryIn,
			Quantity:      opening,
			PreviousStock: 0,
			NewStock:      opening,
			Reason:        OpeningStockReason,
			PerformedBy:   actor,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, classify("create product", err)
	}

	p.StockQuantity = opening
	return &p, nil
}

// GetProduct returns the product or a NotFoundError.
func (c *Catalog) GetProduct(ctx context.Context, id ProductID) (*Product, error) {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return nil, classify("get product", err)
	}
	if p == nil {
		return nil, productNotFound(id, -1)
	}
	return p, nil
}

// ListProducts returns products ordered newest first. Inactive products are
// excluded unless the filter asks for them.
func (c *Catalog) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	products, err := c.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, classify("list products", err)
	}
	return products, nil
}

// LowStock returns active products at or below their minimum stock level.
func (c *Catalog) LowStock(ctx context.Context) ([]Product, error) {
	return c.ListProducts(ctx, ProductFilter{LowStockOnly: true})
}

// UpdateProduct applies patch to the product's descriptive fields. The
// product is locked so a concurrent sale sees either the old or new price.
func (c *Catalog) UpdateProduct(ctx context.Context, id ProductID, patch ProductPatch) (*Product, error) {
	unlock, err := c.ledger.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := c.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.apply(p)
	p.UpdatedAt = c.ledger.now().UTC()
	if err := validateProduct(*p); err != nil {
		return nil, err
	}

	if err := c.store.UpdateProduct(ctx, *p); err != nil {
		return nil, classify("update product", err)
	}
	return p, nil
}

// DeactivateProduct soft-deletes the product.
func (c *Catalog) DeactivateProduct(ctx context.Context, id ProductID) error {
	inactive := false
	_, err := c.UpdateProduct(ctx, id, ProductPatch{IsActive: &inactive})
	return err
}

func (patch ProductPatch) apply(p *Product) {
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Cost != nil {
		p.Cost = *patch.Cost
	}
	if patch.Unit != nil {
		p.Unit = *patch.Unit
	}
	if patch.MinStockLevel != nil {
		p.MinStockLevel = *patch.MinStockLevel
	}
	if patch.Supplier != nil {
		p.Supplier = strings.TrimSpace(*patch.Supplier)
	}
	if patch.ExpiryDate != nil {
		p.ExpiryDate = patch.ExpiryDate
	}
	if patch.ClearExpiry {
		p.ExpiryDate = nil
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
}
