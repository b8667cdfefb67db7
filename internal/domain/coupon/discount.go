package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Amount computes the discount a coupon grants against subtotal. Percentage
// discounts take value% of the subtotal; fixed discounts are capped at the
// subtotal. The result is rounded to 2 decimal places and never exceeds the
// subtotal.
func Amount(t DiscountType, value, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || !value.IsPositive() {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch t {
	case DiscountPercentage:
		d = subtotal.Mul(value).Div(hundred)
	case DiscountFixed:
		d = decimal.Min(value, subtotal)
	default:
		return decimal.Zero
	}

	d = d.Round(2)
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	return d
}

// Describe renders a short label such as "10% off" or "$5.00 off".
func Describe(t DiscountType, value decimal.Decimal) string {
	if t == DiscountPercentage {
		return value.String() + "% off"
	}
	return "$" + value.StringFixed(2) + " off"
}
