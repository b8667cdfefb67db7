package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator checks a coupon code against a subtotal and returns the snapshot
// to attach to the cart.
type Validator interface {
	Check(ctx context.Context, code string, subtotal decimal.Decimal) (*Applied, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository. An optional Prefilter short-circuits codes that were never
// issued.
type RepoValidator struct {
	repo   Repository
	filter *Prefilter
	now    func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
// filter may be nil.
func NewRepoValidator(repo Repository, filter *Prefilter) *RepoValidator {
	return &RepoValidator{repo: repo, filter: filter, now: time.Now}
}

// Check validates the coupon in a fixed order: existence, active flag, date
// window, usage limit, minimum purchase. It does not mutate usage counters;
// those are incremented when the order is written.
func (v *RepoValidator) Check(ctx context.Context, code string, subtotal decimal.Decimal) (*Applied, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, invalid(code, ReasonNotFound)
	}
	if v.filter != nil && !v.filter.MayContain(code) {
		reloaded, err := v.filter.Refresh(ctx, v.repo)
		if err != nil {
			return nil, errors.Wrap(err, "refresh coupon prefilter")
		}
		if !reloaded || !v.filter.MayContain(code) {
			return nil, invalid(code, ReasonNotFound)
		}
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, err
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := Eligible(rule, subtotal, v.now()); err != nil {
		return nil, err
	}

	return &Applied{
		ID:           rule.ID,
		Code:         rule.Code,
		DiscountType: rule.DiscountType,
		Value:        rule.Value,
		Amount:       Amount(rule.DiscountType, rule.Value, subtotal),
	}, nil
}

// Eligible applies the rule's constraints at the given instant. The end date
// is inclusive through the end of that day.
func Eligible(rule *Rule, subtotal decimal.Decimal, now time.Time) error {
	if !rule.Active {
		return invalid(rule.Code, ReasonInactive)
	}
	if rule.StartDate != nil && now.Before(*rule.StartDate) {
		return invalid(rule.Code, ReasonNotYetValid)
	}
	if rule.EndDate != nil && now.After(endOfDay(*rule.EndDate)) {
		return invalid(rule.Code, ReasonExpired)
	}
	if rule.MaxUses > 0 && rule.UsesCount >= rule.MaxUses {
		return invalid(rule.Code, ReasonUsageExceeded)
	}
	if subtotal.LessThan(rule.MinPurchase) {
		return &InvalidError{Code: rule.Code, Reason: ReasonBelowMinimum, MinPurchase: rule.MinPurchase}
	}
	return nil
}

func endOfDay(t time.Time) time.Time {
	if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
