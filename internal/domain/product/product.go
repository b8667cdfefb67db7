package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist or is not
// listed in the storefront.
var ErrNotFound = errors.New("product not found")

// Product represents a trading card (or sealed item) available for purchase.
type Product struct {
	ID          string
	SKU         string
	Title       string
	Description string
	Category    string
	SetName     string
	Condition   string
	Price       decimal.Decimal
	Inventory   int
	ImageURL    string
	Active      bool
}

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool {
	return p.Inventory > 0
}

// Filter narrows catalog listings.
type Filter struct {
	Category string
	Limit    int
	Offset   int
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Product, error)
	// GetActive returns a listed product, or ErrNotFound when it is missing
	// or inactive.
	GetActive(ctx context.Context, id string) (*Product, error)
}
