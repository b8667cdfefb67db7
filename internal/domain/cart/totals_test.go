package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/settings"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testSettings(taxRate string) *settings.Settings {
	s := settings.Default()
	s.TaxRate = d(taxRate)
	s.Shipping["express"] = settings.ShippingMethod{Name: "express", Rate: d("12.50")}
	return s
}

func assertTotals(t *testing.T, got Totals, subtotal, discount, shipping, tax, total string) {
	t.Helper()
	assert.True(t, d(subtotal).Equal(got.Subtotal), "subtotal: want %s, got %s", subtotal, got.Subtotal)
	assert.True(t, d(discount).Equal(got.Discount), "discount: want %s, got %s", discount, got.Discount)
	assert.True(t, d(shipping).Equal(got.Shipping), "shipping: want %s, got %s", shipping, got.Shipping)
	assert.True(t, d(tax).Equal(got.Tax), "tax: want %s, got %s", tax, got.Tax)
	assert.True(t, d(total).Equal(got.Total), "total: want %s, got %s", total, got.Total)
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name                                      string
		cart                                      *Cart
		taxRate                                   string
		subtotal, discount, shipping, tax, total string
	}{
		{
			name:     "empty cart is all zeros",
			cart:     &Cart{},
			taxRate:  "0.07",
			subtotal: "0", discount: "0", shipping: "0", tax: "0", total: "0",
		},
		{
			name: "one $20 item, $5 shipping, 10% coupon, no tax",
			cart: &Cart{
				Items:  []Item{{ProductID: "p1", UnitPrice: d("20"), Quantity: 1}},
				Coupon: &coupon.Applied{Code: "SAVE10", DiscountType: coupon.DiscountPercentage, Value: d("10")},
			},
			taxRate:  "0",
			subtotal: "20", discount: "2", shipping: "5", tax: "0", total: "23",
		},
		{
			name: "tax applies after discount",
			cart: &Cart{
				Items: []Item{
					{ProductID: "p1", UnitPrice: d("10.00"), Quantity: 3},
					{ProductID: "p2", UnitPrice: d("4.99"), Quantity: 2},
				},
				Coupon: &coupon.Applied{Code: "FIVE", DiscountType: coupon.DiscountFixed, Value: d("5")},
			},
			taxRate:  "0.07",
			subtotal: "39.98", discount: "5", shipping: "5", tax: "2.45", total: "42.43",
		},
		{
			name: "fixed coupon clamped to a shrunken subtotal",
			cart: &Cart{
				Items:  []Item{{ProductID: "p1", UnitPrice: d("3"), Quantity: 1}},
				Coupon: &coupon.Applied{Code: "TEN", DiscountType: coupon.DiscountFixed, Value: d("10"), Amount: d("10")},
			},
			taxRate:  "0.10",
			subtotal: "3", discount: "3", shipping: "5", tax: "0", total: "5",
		},
		{
			name: "selected shipping method",
			cart: &Cart{
				Items:          []Item{{ProductID: "p1", UnitPrice: d("100"), Quantity: 1}},
				ShippingMethod: "express",
			},
			taxRate:  "0",
			subtotal: "100", discount: "0", shipping: "12.50", tax: "0", total: "112.50",
		},
		{
			name: "unknown shipping method falls back to default rate",
			cart: &Cart{
				Items:          []Item{{ProductID: "p1", UnitPrice: d("1"), Quantity: 1}},
				ShippingMethod: "carrier-pigeon",
			},
			taxRate:  "0",
			subtotal: "1", discount: "0", shipping: "5", tax: "0", total: "6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.cart, testSettings(tt.taxRate))
			assertTotals(t, got, tt.subtotal, tt.discount, tt.shipping, tt.tax, tt.total)

			// Identity and bounds hold for every cart.
			sum := got.Subtotal.Sub(got.Discount).Add(got.Shipping).Add(got.Tax)
			assert.True(t, sum.Equal(got.Total))
			assert.False(t, got.Total.IsNegative())
			assert.False(t, got.Discount.GreaterThan(got.Subtotal))
		})
	}
}
