package cart

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/settings"
)

// Totals is derived from a cart and never stored.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Calculate derives totals from cart state and store settings:
//
//	subtotal = Σ unitPrice × quantity
//	discount = coupon rule against subtotal, clamped to subtotal
//	shipping = flat rate of the selected method, 0 for an empty cart
//	tax      = (subtotal − discount) × taxRate
//	total    = subtotal − discount + shipping + tax, floored at 0
//
// An unknown shipping method falls back to the default method's rate.
func Calculate(c *Cart, s *settings.Settings) Totals {
	t := Totals{
		Subtotal: c.Subtotal().Round(2),
		Discount: decimal.Zero,
		Shipping: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
	}
	if c.Empty() {
		return t
	}

	if c.Coupon != nil {
		t.Discount = coupon.Amount(c.Coupon.DiscountType, c.Coupon.Value, t.Subtotal)
	}

	rate, err := s.ShippingRate(c.ShippingMethod)
	if err != nil {
		rate, _ = s.ShippingRate(settings.DefaultShippingMethod)
	}
	t.Shipping = rate.Round(2)

	taxable := t.Subtotal.Sub(t.Discount)
	t.Tax = taxable.Mul(s.TaxRate).Round(2)

	t.Total = t.Subtotal.Sub(t.Discount).Add(t.Shipping).Add(t.Tax)
	if t.Total.IsNegative() {
		t.Total = decimal.Zero
	}
	return t
}
