// Package cart implements the per-visitor shopping cart: line items, shipping
// selection and an applied coupon, plus the totals derived from them.
package cart

import (
	"maps"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/coupon"
)

// MaxQuantity is the most units a single cart line may hold.
const MaxQuantity = 999

// Sentinel errors for cart mutations.
var (
	ErrOutOfStock    = errors.New("product is out of stock")
	ErrItemNotFound  = errors.New("cart item not found")
	ErrQuantityLimit = errors.Errorf("at most %d units per item", MaxQuantity)
)

// Item is one product line in a cart. The item id is the product id.
type Item struct {
	ProductID string
	SKU       string
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int
	Options   map[string]string
}

// LineTotal returns UnitPrice × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the session-owned cart state. Lines keep insertion order.
type Cart struct {
	Items          []Item
	ShippingMethod string
	Coupon         *coupon.Applied
}

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// Count returns the number of units across all lines.
func (c *Cart) Count() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Subtotal returns Σ unitPrice × quantity.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	if c == nil {
		return sum
	}
	for _, it := range c.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

func (c *Cart) find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// add merges quantity into an existing line for the same product, or appends
// a new line. A line never exceeds MaxQuantity.
func (c *Cart) add(it Item) error {
	if it.Quantity > MaxQuantity {
		return ErrQuantityLimit
	}
	if i := c.find(it.ProductID); i >= 0 {
		if c.Items[i].Quantity > MaxQuantity-it.Quantity {
			return ErrQuantityLimit
		}
		c.Items[i].Quantity += it.Quantity
		if len(it.Options) > 0 {
			c.Items[i].Options = it.Options
		}
		return nil
	}
	c.Items = append(c.Items, it)
	return nil
}

// setQuantity sets a line's quantity; q <= 0 removes it.
func (c *Cart) setQuantity(productID string, q int) error {
	i := c.find(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	if q <= 0 {
		c.remove(productID)
		return nil
	}
	if q > MaxQuantity {
		return ErrQuantityLimit
	}
	c.Items[i].Quantity = q
	return nil
}

func (c *Cart) remove(productID string) {
	if i := c.find(productID); i >= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	}
}

// Clone returns a deep copy so stored carts are never aliased by callers.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return &Cart{}
	}
	out := &Cart{
		Items:          make([]Item, len(c.Items)),
		ShippingMethod: c.ShippingMethod,
	}
	for i, it := range c.Items {
		it.Options = maps.Clone(it.Options)
		out.Items[i] = it
	}
	if c.Coupon != nil {
		cp := *c.Coupon
		out.Coupon = &cp
	}
	return out
}
