package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// ErrInvalidCoupon is the umbrella error for every reason a coupon cannot be
// applied. Use errors.As with *InvalidError to get the concrete reason.
var ErrInvalidCoupon = errors.New("invalid coupon code")

// ErrCodeTaken is returned when creating a coupon whose code already exists.
var ErrCodeTaken = errors.New("coupon code already exists")

// Reason identifies why a coupon was rejected.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonInactive      Reason = "inactive"
	ReasonNotYetValid   Reason = "not_yet_valid"
	ReasonExpired       Reason = "expired"
	ReasonUsageExceeded Reason = "usage_exceeded"
	ReasonBelowMinimum  Reason = "below_minimum"
)

// InvalidError reports a rejected coupon. It matches ErrInvalidCoupon.
type InvalidError struct {
	Code   string
	Reason Reason
	// MinPurchase is set for ReasonBelowMinimum.
	MinPurchase decimal.Decimal
}

func (e *InvalidError) Error() string {
	return "coupon " + e.Code + ": " + string(e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidCoupon) hold.
func (e *InvalidError) Unwrap() error { return ErrInvalidCoupon }

// Message returns a customer-facing explanation.
func (e *InvalidError) Message() string {
	switch e.Reason {
	case ReasonNotFound:
		return "Invalid coupon code."
	case ReasonInactive:
		return "This coupon is no longer active."
	case ReasonNotYetValid:
		return "This coupon is not valid yet."
	case ReasonExpired:
		return "This coupon has expired."
	case ReasonUsageExceeded:
		return "This coupon has reached its usage limit."
	case ReasonBelowMinimum:
		return "A minimum purchase of $" + e.MinPurchase.StringFixed(2) + " is required for this coupon."
	default:
		return "Invalid coupon code."
	}
}

func invalid(code string, reason Reason) *InvalidError {
	return &InvalidError{Code: code, Reason: reason}
}

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	ID           int64
	Code         string
	Description  string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	// MaxUses of zero means unlimited.
	MaxUses   int
	UsesCount int
	StartDate *time.Time
	EndDate   *time.Time
	Active    bool
	CreatedAt time.Time
}

// Validate checks the rule's own invariants before it is stored.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return errors.New("code is required")
	}
	switch r.DiscountType {
	case DiscountPercentage:
		if !r.Value.IsPositive() || r.Value.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("percentage value must be in (0, 100]")
		}
	case DiscountFixed:
		if !r.Value.IsPositive() {
			return errors.New("fixed value must be positive")
		}
	default:
		return errors.Errorf("unknown discount type %q", r.DiscountType)
	}
	if r.MinPurchase.IsNegative() {
		return errors.New("minimum purchase must not be negative")
	}
	if r.MaxUses < 0 {
		return errors.New("max uses must not be negative")
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return errors.New("end date is before start date")
	}
	return nil
}

// NormalizeCode upper-cases and trims a customer-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Applied is the snapshot attached to a cart once a coupon passes validation.
type Applied struct {
	ID           int64
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	// Amount is the discount computed at apply time.
	Amount decimal.Decimal
}

// Repository provides lookup and mutation of coupon rules.
type Repository interface {
	// FindByCode returns the rule for a code regardless of its active flag.
	// Returns an *InvalidError with ReasonNotFound when no coupon matches.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	ListCodes(ctx context.Context) ([]string, error)
	// LatestID returns the highest coupon id, or 0 when there are none.
	LatestID(ctx context.Context) (int64, error)
	Create(ctx context.Context, r *Rule) error
	Deactivate(ctx context.Context, code string) error
}
