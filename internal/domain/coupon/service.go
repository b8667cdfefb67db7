package coupon

import (
	"context"

	"github.com/go-faster/errors"
)

// Service implements back-office coupon management and keeps the prefilter
// in sync with newly issued codes.
type Service struct {
	repo   Repository
	filter *Prefilter
}

// NewService creates a coupon Service. filter may be nil.
func NewService(repo Repository, filter *Prefilter) *Service {
	return &Service{repo: repo, filter: filter}
}

// List returns every coupon, newest first.
func (s *Service) List(ctx context.Context) ([]Rule, error) {
	return s.repo.List(ctx)
}

// Create validates and stores a new coupon.
func (s *Service) Create(ctx context.Context, r *Rule) error {
	r.Code = NormalizeCode(r.Code)
	if err := r.Validate(); err != nil {
		return &ValidationError{Err: err}
	}
	r.UsesCount = 0
	if err := s.repo.Create(ctx, r); err != nil {
		return errors.Wrap(err, "create coupon")
	}
	if s.filter != nil {
		s.filter.Add(r.Code)
	}
	return nil
}

// Deactivate turns a coupon off. Returns an *InvalidError with
// ReasonNotFound when the code does not exist.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	return s.repo.Deactivate(ctx, NormalizeCode(code))
}

// ValidationError reports a coupon definition that violates its invariants.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid coupon definition: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }
