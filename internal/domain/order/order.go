package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/cart"
)

// Sentinel errors for order operations.
var (
	ErrNotFound           = errors.New("order not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrDuplicateReference = errors.New("order reference already exists")

	// ErrPaymentReused is returned when an order already records the PayPal
	// order id. One payment pays for one order.
	ErrPaymentReused = errors.New("paypal order already paid for an order")
	// ErrPaymentIncomplete is returned for a capture that is not settled yet.
	// The buyer may still be charged.
	ErrPaymentIncomplete = errors.New("payment capture is not completed")
	// ErrPaymentMismatch is returned when the captured amount or currency
	// differs from the order total.
	ErrPaymentMismatch = errors.New("captured amount does not match order total")
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus mirrors the PayPal payment lifecycle.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentFailed    PaymentStatus = "failed"
)

// Rank orders payment statuses along the PayPal lifecycle. Webhook updates
// only move a payment to a higher rank, so late or repeated deliveries cannot
// undo a capture or a refund.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentApproved, PaymentFailed:
		return 1
	case PaymentCompleted:
		return 2
	case PaymentRefunded:
		return 3
	default:
		return 0
	}
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusCancelled, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return st, true
	}
	return "", false
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// Customer identifies the buyer.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Address is a shipping destination.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Item is a snapshot of a cart line at checkout, decoupled from the live
// product row.
type Item struct {
	ProductID string
	SKU       string
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int
	Options   map[string]string
	LineTotal decimal.Decimal
}

// Order is a placed order with its line snapshots.
type Order struct {
	ID              int64
	Reference       string
	PayPalOrderID   string
	Customer        Customer
	ShippingAddress Address
	ShippingMethod  string
	Totals          cart.Totals
	CouponID        *int64
	CouponCode      string
	Status          Status
	PaymentStatus   PaymentStatus
	Items           []Item
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PlaceResult reports side effects of writing an order.
type PlaceResult struct {
	// ShortStock lists product ids whose conditional inventory decrement
	// matched no row. The order is still committed.
	ShortStock []string
}

// Filter narrows admin order listings.
type Filter struct {
	Status Status
	Limit  int
	Offset int
}

// PaymentUpdate is applied to the order matching a PayPal order id when its
// PaymentStatus ranks above the stored one.
type PaymentUpdate struct {
	PaymentStatus PaymentStatus
	// Status, when set, replaces the order status. If FromStatus is also set
	// the replacement only happens while the order is in FromStatus.
	Status     Status
	FromStatus Status
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Place writes the order, its items, inventory decrements and coupon
	// usage in a single transaction. It fills in o.ID and timestamps.
	// Returns ErrPaymentReused when another order has the same PayPal id.
	Place(ctx context.Context, o *Order) (*PlaceResult, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	// GetByReference returns the order with items, or ErrNotFound.
	GetByReference(ctx context.Context, reference string) (*Order, error)
	UpdateStatus(ctx context.Context, reference string, status Status) error
	// UpdatePayment returns the reference of the order with the PayPal id and
	// whether the update was applied, or ErrNotFound. An update that does not
	// rank above the stored payment status is skipped.
	UpdatePayment(ctx context.Context, paypalOrderID string, u PaymentUpdate) (string, bool, error)
}

// PersistenceError wraps a storage failure during order placement. The cart
// is left untouched when it is returned.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist order: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// PaymentError wraps a failure reported by the payment provider.
type PaymentError struct {
	Err error
}

func (e *PaymentError) Error() string { return "payment: " + e.Err.Error() }

func (e *PaymentError) Unwrap() error { return e.Err }

// ValidationError reports invalid checkout input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}
