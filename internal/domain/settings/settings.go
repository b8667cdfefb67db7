// Package settings holds the store-wide configuration that lives in the
// database (shipping rates, tax, PayPal credentials). It is loaded once at
// startup and passed by reference to the components that need it.
package settings

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultShippingMethod is used when a cart has no explicit selection.
const DefaultShippingMethod = "standard"

// ErrUnknownShippingMethod is returned for a shipping method that is not
// configured.
var ErrUnknownShippingMethod = errors.New("unknown shipping method")

// PayPalMode selects the PayPal API environment.
type PayPalMode string

const (
	PayPalSandbox PayPalMode = "sandbox"
	PayPalLive    PayPalMode = "live"
)

// PayPal holds the credentials for the PayPal Orders API.
type PayPal struct {
	ClientID     string
	ClientSecret string
	Mode         PayPalMode
	Currency     string
}

// Enabled reports whether credentials are configured.
func (p PayPal) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// ShippingMethod is a named flat shipping rate.
type ShippingMethod struct {
	Name  string
	Label string
	Rate  decimal.Decimal
}

// Settings is the store-wide configuration.
type Settings struct {
	// TaxRate is a fraction, e.g. 0.07 for 7%.
	TaxRate  decimal.Decimal
	Shipping map[string]ShippingMethod
	PayPal   PayPal
}

// Default returns settings used when the tables hold no rows yet.
func Default() *Settings {
	return &Settings{
		TaxRate: decimal.Zero,
		Shipping: map[string]ShippingMethod{
			DefaultShippingMethod: {
				Name:  DefaultShippingMethod,
				Label: "Standard shipping",
				Rate:  decimal.RequireFromString("5.00"),
			},
		},
		PayPal: PayPal{Mode: PayPalSandbox, Currency: "USD"},
	}
}

// ShippingRate returns the flat rate for the given method. An empty method
// resolves to DefaultShippingMethod.
func (s *Settings) ShippingRate(method string) (decimal.Decimal, error) {
	if method == "" {
		method = DefaultShippingMethod
	}
	m, ok := s.Shipping[method]
	if !ok {
		return decimal.Zero, errors.Wrap(ErrUnknownShippingMethod, method)
	}
	return m.Rate, nil
}

// HasShippingMethod reports whether the method is configured.
func (s *Settings) HasShippingMethod(method string) bool {
	_, ok := s.Shipping[method]
	return ok
}

// ShippingMethods returns configured methods ordered by rate, then name.
func (s *Settings) ShippingMethods() []ShippingMethod {
	out := make([]ShippingMethod, 0, len(s.Shipping))
	for _, m := range s.Shipping {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Rate.Cmp(out[j].Rate); c != 0 {
			return c < 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Repository loads settings from persistent storage.
type Repository interface {
	Load(ctx context.Context) (*Settings, error)
}
