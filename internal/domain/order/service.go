package order

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/cardshop/internal/domain/cart"
	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/settings"
)

// CaptureCompleted is the provider status of a settled capture.
const CaptureCompleted = "COMPLETED"

const (
	maxReferenceAttempts = 3
	defaultListLimit     = 50
	maxListLimit         = 200
)

// PaymentCapture is the provider's answer to a capture request.
type PaymentCapture struct {
	ID         string
	Status     string
	PayerEmail string
	// Amount is the sum of the settled captures, in Currency.
	Amount   decimal.Decimal
	Currency string
}

// PaymentGateway settles a client-approved payment.
type PaymentGateway interface {
	Capture(ctx context.Context, paypalOrderID string) (*PaymentCapture, error)
}

// CheckoutRequest holds the input for placing an order from a cart.
type CheckoutRequest struct {
	PayPalOrderID string
	Customer      Customer
	Address       Address
}

func (r *CheckoutRequest) normalize() {
	r.PayPalOrderID = strings.TrimSpace(r.PayPalOrderID)
	r.Customer.Name = strings.TrimSpace(r.Customer.Name)
	r.Customer.Email = strings.TrimSpace(r.Customer.Email)
	r.Customer.Phone = strings.TrimSpace(r.Customer.Phone)
	r.Address.Line1 = strings.TrimSpace(r.Address.Line1)
	r.Address.Line2 = strings.TrimSpace(r.Address.Line2)
	r.Address.City = strings.TrimSpace(r.Address.City)
	r.Address.State = strings.TrimSpace(r.Address.State)
	r.Address.PostalCode = strings.TrimSpace(r.Address.PostalCode)
	r.Address.Country = strings.ToUpper(strings.TrimSpace(r.Address.Country))
}

func (r *CheckoutRequest) validate() error {
	required := []struct {
		field, value string
	}{
		{"paypal_order_id", r.PayPalOrderID},
		{"name", r.Customer.Name},
		{"email", r.Customer.Email},
		{"address_line1", r.Address.Line1},
		{"city", r.Address.City},
		{"postal_code", r.Address.PostalCode},
		{"country", r.Address.Country},
	}
	for _, f := range required {
		if f.value == "" {
			return &ValidationError{Field: f.field, Reason: "is required"}
		}
	}
	if _, err := mail.ParseAddress(r.Customer.Email); err != nil {
		return &ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	return nil
}

// CheckoutResult holds the output of a successfully placed order.
type CheckoutResult struct {
	Order      *Order
	ShortStock []string
}

// Service encapsulates checkout and order administration.
type Service struct {
	carts    *cart.Service
	coupons  coupon.Validator
	payments PaymentGateway
	orders   Repository
	prefix   string
	now      func() time.Time

	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	carts *cart.Service,
	coupons coupon.Validator,
	payments PaymentGateway,
	orders Repository,
	mp metric.MeterProvider,
	referencePrefix string,
) (*Service, error) {
	meter := mp.Meter("cardshop/order")
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders written after a successful checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	rejected, err := meter.Int64Counter("checkout.rejected",
		metric.WithDescription("Checkouts that did not produce an order"))
	if err != nil {
		return nil, errors.Wrap(err, "checkout.rejected counter")
	}
	return &Service{
		carts:    carts,
		coupons:  coupons,
		payments: payments,
		orders:   orders,
		prefix:   referencePrefix,
		now:      time.Now,
		placed:   placed,
		rejected: rejected,
	}, nil
}

func (s *Service) reject(ctx context.Context, reason string) {
	s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Checkout turns the session's cart into an order: the coupon is re-checked
// against the current subtotal, the payment is captured and matched against
// the cart total, the order is written
// in one transaction and only then is the cart cleared. Any failure before
// the write leaves the cart as it was.
func (s *Service) Checkout(ctx context.Context, sid string, req CheckoutRequest) (*CheckoutResult, error) {
	lg := zctx.From(ctx)

	req.normalize()
	if err := req.validate(); err != nil {
		s.reject(ctx, "validation")
		return nil, err
	}

	view, err := s.carts.Get(ctx, sid)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	c := view.Cart
	if c.Empty() {
		s.reject(ctx, "empty_cart")
		return nil, ErrEmptyCart
	}

	if c.Coupon != nil {
		applied, err := s.coupons.Check(ctx, c.Coupon.Code, c.Subtotal())
		if err != nil {
			s.reject(ctx, "coupon")
			return nil, err
		}
		c.Coupon = applied
	}
	totals := cart.Calculate(c, s.carts.Settings())

	capture, err := s.payments.Capture(ctx, req.PayPalOrderID)
	if err != nil {
		s.reject(ctx, "payment")
		return nil, &PaymentError{Err: err}
	}
	if capture.Status != CaptureCompleted {
		s.reject(ctx, "payment")
		return nil, &PaymentError{Err: errors.Wrapf(ErrPaymentIncomplete, "capture %s is %s", capture.ID, capture.Status)}
	}
	// The buyer creates the PayPal order in the browser and picks its amount.
	currency := s.carts.Settings().PayPal.Currency
	if !capture.Amount.Equal(totals.Total) || (currency != "" && !strings.EqualFold(capture.Currency, currency)) {
		s.reject(ctx, "payment_mismatch")
		lg.Error("Captured amount does not match cart total",
			zap.String("paypal_order_id", req.PayPalOrderID),
			zap.String("capture_id", capture.ID),
			zap.String("captured", capture.Amount.StringFixed(2)+" "+capture.Currency),
			zap.String("total", totals.Total.StringFixed(2)+" "+currency),
		)
		return nil, &PaymentError{Err: errors.Wrapf(ErrPaymentMismatch, "captured %s %s, total %s %s",
			capture.Amount.StringFixed(2), capture.Currency, totals.Total.StringFixed(2), currency)}
	}

	o := &Order{
		PayPalOrderID:   req.PayPalOrderID,
		Customer:        req.Customer,
		ShippingAddress: req.Address,
		ShippingMethod:  c.ShippingMethod,
		Totals:          totals,
		Status:          StatusProcessing,
		PaymentStatus:   PaymentCompleted,
		Items:           snapshot(c.Items),
	}
	if o.ShippingMethod == "" {
		o.ShippingMethod = settings.DefaultShippingMethod
	}
	if c.Coupon != nil {
		id := c.Coupon.ID
		o.CouponID = &id
		o.CouponCode = c.Coupon.Code
	}

	var res *PlaceResult
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		o.Reference = NewReference(s.prefix, s.now())
		res, err = s.orders.Place(ctx, o)
		if !errors.Is(err, ErrDuplicateReference) {
			break
		}
	}
	if errors.Is(err, ErrPaymentReused) {
		s.reject(ctx, "payment_reused")
		lg.Warn("PayPal order already used by another order",
			zap.String("paypal_order_id", req.PayPalOrderID),
			zap.String("capture_id", capture.ID),
		)
		return nil, &PaymentError{Err: err}
	}
	if err != nil {
		s.reject(ctx, "persistence")
		lg.Error("Order write failed after payment capture",
			zap.String("paypal_order_id", req.PayPalOrderID),
			zap.String("capture_id", capture.ID),
			zap.Error(err),
		)
		return nil, &PersistenceError{Err: err}
	}

	if len(res.ShortStock) > 0 {
		lg.Warn("Inventory decrement matched no row",
			zap.String("reference", o.Reference),
			zap.Strings("product_ids", res.ShortStock),
		)
	}

	if err := s.carts.Clear(ctx, sid); err != nil {
		lg.Warn("Clear cart after checkout", zap.String("reference", o.Reference), zap.Error(err))
	}

	s.placed.Add(ctx, 1)
	lg.Info("Order placed",
		zap.String("reference", o.Reference),
		zap.String("total", o.Totals.Total.StringFixed(2)),
	)

	return &CheckoutResult{Order: o, ShortStock: res.ShortStock}, nil
}

func snapshot(items []cart.Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Item{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Title:     it.Title,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Options:   it.Options,
			LineTotal: it.LineTotal().Round(2),
		}
	}
	return out
}

// List returns orders for the back-office, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns a single order with its items.
func (s *Service) Get(ctx context.Context, reference string) (*Order, error) {
	o, err := s.orders.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// UpdateStatus moves an order along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, reference string, to Status) (*Order, error) {
	o, err := s.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, &TransitionError{From: o.Status, To: to}
	}
	if err := s.orders.UpdateStatus(ctx, reference, to); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update order status")
	}
	o.Status = to
	o.UpdatedAt = s.now()

	zctx.From(ctx).Info("Order status changed",
		zap.String("reference", reference),
		zap.String("status", string(to)),
	)
	return o, nil
}
