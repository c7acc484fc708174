/*
sale.go - Multi-line sale validation, pricing and commit

PURPOSE:
  A sale touches several products at once. Either every line is applied
  (one Out entry per line, stock decremented) or nothing is.

SALE FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │  Validate     Lock products     Resolve + check     Write sale   │
  │  request ──▶  (ascending id) ──▶ every line    ──▶  + N entries  │
  │                                  (no writes)       + N stocks    │
  └──────────────────────────────────────────────────────────────────┘

  Resolution, pricing and the writes run in one transaction while the
  products are locked, so nothing can change stock or price between the
  check and the decrement.

STOCK CHECK:
  Quantities are summed per product across lines. Two lines of 3 against a
  stock of 5 are rejected even though each line alone would fit.

PRICING:
  unitPrice  = product price at commit time
  totalPrice = unitPrice × quantity
  total      = Σ totalPrice − discount   (not floored at zero)

SEE ALSO:
  - ledger.go: write(), retry(), the single-product operations
*/
package stock

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// SaleReason is the reason recorded on every Out entry written by a sale.
	SaleReason = "Sale"

	// SystemActor is recorded as performedBy when no actor name is available.
	SystemActor = "System"
)

type SaleLine struct {
	ProductID ProductID
	Quantity  int
}

type SaleRequest struct {
	CustomerName  string
	CustomerPhone string
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus // defaults to Paid
	Discount      decimal.Decimal
	Notes         string
	Lines         []SaleLine
}

// Validate checks the request shape. It does not look at products.
func (r SaleRequest) Validate() error {
	v := &ValidationError{}
	if strings.TrimSpace(r.CustomerName) == "" {
		v.Add("customerName", "customer name is required")
	}
	if len(r.Lines) == 0 {
		v.Add("items", "at least one item is required")
	}
	for i, line := range r.Lines {
		if strings.TrimSpace(string(line.ProductID)) == "" {
			v.Add(fmt.Sprintf("items[%d].product", i), "product ID is required")
		}
		if line.Quantity < 1 {
			v.Add(fmt.Sprintf("items[%d].quantity", i), "quantity must be at least 1")
		}
	}
	if !r.PaymentMethod.Valid() {
		v.Add("paymentMethod", "invalid payment method")
	}
	if r.PaymentStatus != "" && !r.PaymentStatus.Valid() {
		v.Add("paymentStatus", "invalid payment status")
	}
	if r.Discount.IsNegative() {
		v.Add("discount", "discount must not be negative")
	}
	return v.OrNil()
}

func (r SaleRequest) productIDs() []ProductID {
	ids := make([]ProductID, len(r.Lines))
	for i, line := range r.Lines {
		ids[i] = line.ProductID
	}
	return ids
}

// =============================================================================
// QUOTE - Read-only pricing
// =============================================================================

// QuoteSale validates and prices a request against current stock and prices
// without writing anything. The returned sale has no ID.
func (l *Ledger) QuoteSale(ctx context.Context, req SaleRequest) (*Sale, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sale, _, err := quoteSale(ctx, l.store, req)
	if err != nil {
		return nil, classify("quote sale", err)
	}
	return &sale, nil
}

// quoteSale resolves every line before anything is written. It returns the
// priced sale and the products as read, keyed by id.
func quoteSale(ctx context.Context, r Writer, req SaleRequest) (Sale, map[ProductID]Product, error) {
	products := make(map[ProductID]Product, len(req.Lines))
	requested := make(map[ProductID]int, len(req.Lines))
	items := make([]SaleItem, 0, len(req.Lines))

	for i, line := range req.Lines {
		p, ok := products[line.ProductID]
		if !ok {
			got, err := r.GetProduct(ctx, line.ProductID)
			if err != nil {
				return Sale{}, nil, err
			}
			if got == nil || !got.IsActive {
				return Sale{}, nil, productNotFound(line.ProductID, i)
			}
			p = *got
			products[p.ID] = p
		}

		if line.Quantity > p.StockQuantity-requested[p.ID] {
			total := requested[p.ID] + line.Quantity
			if total < 0 {
				total = math.MaxInt
			}
			return Sale{}, nil, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Operation:   "sale",
				Available:   p.StockQuantity,
				Requested:   total,
				Line:        i,
			}
		}
		requested[p.ID] += line.Quantity

		items = append(items, SaleItem{
			ProductID:  p.ID,
			Quantity:   line.Quantity,
			UnitPrice:  p.Price,
			TotalPrice: p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
			Product:    p.Summary(),
		})
	}

	status := req.PaymentStatus
	if status == "" {
		status = PaymentPaid
	}

	sale := Sale{
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Items:         items,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: status,
		Discount:      req.Discount,
		Notes:         strings.TrimSpace(req.Notes),
	}
	sale.TotalAmount = sale.Subtotal().Sub(sale.Discount)
	return sale, products, nil
}

// =============================================================================
// COMMIT
// =============================================================================

// CommitSale validates, prices and applies a sale as one unit: the sale
// record plus one Out entry and one stock decrement per line.
func (l *Ledger) CommitSale(ctx context.Context, req SaleRequest) (*Sale, error) {
	const op = "commit sale"

	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock, err := l.locks.Lock(ctx, req.productIDs()...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer unlock()

	var sale Sale
	err = l.retry(op, func() error {
		return l.store.WithTx(ctx, func(w Writer) error {
			quoted, products, err := quoteSale(ctx, w, req)
			if err != nil {
				return err
			}

			sale = quoted
			sale.ID = SaleID(l.newID())
			sale.CreatedAt = l.now().UTC()
			if err := w.InsertSale(ctx, sale); err != nil {
				return err
			}

			performedBy := sale.CustomerName
			if performedBy == "" {
				performedBy = SystemActor
			}

			current := make(map[ProductID]int, len(products))
			for id, p := range products {
				current[id] = p.StockQuantity
			}
			for _, item := range sale.Items {
				previous := current[item.ProductID]
				entry := LedgerEntry{
					ID:            EntryID(l.newID()),
					ProductID:     item.ProductID,
					Type:          EntryOut,
					Quantity:      item.Quantity,
					PreviousStock: previous,
					NewStock:      previous - item.Quantity,
					Reason:        SaleReason,
					Reference:     string(sale.ID),
					PerformedBy:   performedBy,
					CreatedAt:     sale.CreatedAt,
				}
				if err := l.write(ctx, w, entry); err != nil {
					return err
				}
				current[item.ProductID] = entry.NewStock
			}
			return nil
		})
	})
	if err != nil {
		return nil, classify(op, err)
	}

	return &sale, nil
}
