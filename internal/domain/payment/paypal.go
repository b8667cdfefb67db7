// Package payment integrates the PayPal Orders API: capturing approved
// orders at checkout and reconciling webhook events afterwards.
package payment

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/order"
	"github.com/xenking/cardshop/internal/domain/settings"
)

// ErrNotConfigured is returned when PayPal credentials are missing.
var ErrNotConfigured = errors.New("paypal is not configured")

const issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

// ordersAPI is the subset of *paypal.Client used by Gateway.
type ordersAPI interface {
	CaptureOrder(ctx context.Context, orderID string, req paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

var _ order.PaymentGateway = (*Gateway)(nil)

// Gateway captures client-approved PayPal orders.
type Gateway struct {
	api ordersAPI
}

// NewGateway creates a Gateway for the configured PayPal environment. With
// no credentials every capture fails with ErrNotConfigured.
func NewGateway(cfg settings.PayPal, httpClient *http.Client) (*Gateway, error) {
	if !cfg.Enabled() {
		return &Gateway{}, nil
	}
	base := paypal.APIBaseSandBox
	if cfg.Mode == settings.PayPalLive {
		base = paypal.APIBaseLive
	}
	c, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, base)
	if err != nil {
		return nil, errors.Wrap(err, "create paypal client")
	}
	if httpClient != nil {
		c.Client = httpClient
	}
	return &Gateway{api: c}, nil
}

// Capture settles an order the buyer approved in the PayPal popup. An order
// captured by an earlier attempt is looked up and reported as is.
func (g *Gateway) Capture(ctx context.Context, paypalOrderID string) (*order.PaymentCapture, error) {
	if g.api == nil {
		return nil, ErrNotConfigured
	}

	resp, err := g.api.CaptureOrder(ctx, paypalOrderID, paypal.CaptureOrderRequest{})
	if err != nil {
		if !alreadyCaptured(err) {
			return nil, errors.Wrapf(err, "capture order %s", paypalOrderID)
		}
		o, err := g.api.GetOrder(ctx, paypalOrderID)
		if err != nil {
			return nil, errors.Wrapf(err, "get order %s", paypalOrderID)
		}
		out := &order.PaymentCapture{ID: o.ID, Status: o.Status}
		if o.Payer != nil {
			out.PayerEmail = o.Payer.EmailAddress
		}
		payments := make([]*paypal.CapturedPayments, 0, len(o.PurchaseUnits))
		for _, u := range o.PurchaseUnits {
			payments = append(payments, u.Payments)
		}
		if err := sumCaptures(out, payments); err != nil {
			return nil, errors.Wrapf(err, "order %s", paypalOrderID)
		}
		return out, nil
	}

	out := &order.PaymentCapture{ID: resp.ID, Status: resp.Status}
	if resp.Payer != nil {
		out.PayerEmail = resp.Payer.EmailAddress
	}
	payments := make([]*paypal.CapturedPayments, 0, len(resp.PurchaseUnits))
	for _, u := range resp.PurchaseUnits {
		payments = append(payments, u.Payments)
	}
	if err := sumCaptures(out, payments); err != nil {
		return nil, errors.Wrapf(err, "order %s", paypalOrderID)
	}
	return out, nil
}

// sumCaptures adds up the completed captures of every purchase unit. Pending
// or declined captures are not money received.
func sumCaptures(out *order.PaymentCapture, payments []*paypal.CapturedPayments) error {
	for _, p := range payments {
		if p == nil {
			continue
		}
		for _, c := range p.Captures {
			if c.Status != order.CaptureCompleted || c.Amount == nil {
				continue
			}
			v, err := decimal.NewFromString(c.Amount.Value)
			if err != nil {
				return errors.Wrapf(err, "capture %s amount", c.ID)
			}
			if out.Currency != "" && out.Currency != c.Amount.Currency {
				return errors.Errorf("captures in %s and %s", out.Currency, c.Amount.Currency)
			}
			out.Currency = c.Amount.Currency
			out.Amount = out.Amount.Add(v)
		}
	}
	return nil
}

func alreadyCaptured(err error) bool {
	var perr *paypal.ErrorResponse
	if !errors.As(err, &perr) {
		return false
	}
	for _, d := range perr.Details {
		if d.Issue == issueAlreadyCaptured {
			return true
		}
	}
	return false
}
