package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlaceholderImageURL is stored on line items whose product snapshot carries no image.
const PlaceholderImageURL = "/placeholder-product.svg"

// ProductSnapshot is the catalog view of a product supplied by the caller when mutating a cart.
// AvailableStock is nil when the catalog does not track stock for the product.
type ProductSnapshot struct {
	ID             string
	Name           string
	UnitPrice      decimal.Decimal
	Currency       string
	AvailableStock *int
	OutOfStock     bool
	ImageURL       string
	VendorID       string
}

// IsOutOfStock reports whether the product cannot be added at all.
func (p ProductSnapshot) IsOutOfStock() bool {
	if p.OutOfStock {
		return true
	}
	return p.AvailableStock != nil && *p.AvailableStock <= 0
}

// LineItem represents one product selection in a cart.
type LineItem struct {
	ProductID      string
	Name           string
	UnitPrice      decimal.Decimal
	Quantity       int
	AvailableStock *int
	OutOfStockFlag bool
	ImageURL       string
	VendorID       string
	AddedAt        time.Time
	UpdatedAt      time.Time
}

// IsOutOfStock is true when the explicit flag is set or the tracked stock snapshot is exhausted.
func (i LineItem) IsOutOfStock() bool {
	if i.OutOfStockFlag {
		return true
	}
	return i.AvailableStock != nil && *i.AvailableStock <= 0
}

// StockTracked reports whether the item carries a stock snapshot.
func (i LineItem) StockTracked() bool {
	return i.AvailableStock != nil
}

// Subtotal returns unit price multiplied by quantity without rounding.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Clone returns a deep copy of the line item.
func (i LineItem) Clone() LineItem {
	out := i
	if i.AvailableStock != nil {
		stock := *i.AvailableStock
		out.AvailableStock = &stock
	}
	return out
}

// Cart is the ordered collection of line items for one identity scope, keyed by product id.
type Cart struct {
	Scope     string
	Items     []LineItem
	UpdatedAt time.Time
}

// Find returns the index of the line item for productID or -1.
func (c Cart) Find(productID string) int {
	productID = strings.TrimSpace(productID)
	for idx, item := range c.Items {
		if item.ProductID == productID {
			return idx
		}
	}
	return -1
}

// IsEmpty reports whether the cart holds no line items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount sums quantities across line items.
func (c Cart) ItemCount() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// Subtotal sums unit price times quantity over every line item.
func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Clone returns a deep copy so callers cannot mutate the owner's state.
func (c Cart) Clone() Cart {
	out := Cart{Scope: c.Scope, UpdatedAt: c.UpdatedAt}
	if len(c.Items) > 0 {
		out.Items = make([]LineItem, len(c.Items))
		for idx, item := range c.Items {
			out.Items[idx] = item.Clone()
		}
	}
	return out
}

// IntPtr is a small helper for building stock snapshots.
func IntPtr(v int) *int {
	return &v
}
