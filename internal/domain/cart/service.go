package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/product"
	"github.com/xenking/cardshop/internal/domain/settings"
)

// View is a cart together with its derived totals.
type View struct {
	Cart   *Cart
	Totals Totals
	Count  int
}

// Service encapsulates cart mutations for a session.
type Service struct {
	store    Store
	products product.Repository
	coupons  coupon.Validator
	settings *settings.Settings
}

// NewService creates a cart Service with the required dependencies.
func NewService(
	store Store,
	products product.Repository,
	coupons coupon.Validator,
	cfg *settings.Settings,
) *Service {
	return &Service{
		store:    store,
		products: products,
		coupons:  coupons,
		settings: cfg,
	}
}

// Settings returns the store settings used for totals.
func (s *Service) Settings() *settings.Settings {
	return s.settings
}

func (s *Service) view(c *Cart) *View {
	return &View{Cart: c, Totals: Calculate(c, s.settings), Count: c.Count()}
}

// Get returns the session's cart.
func (s *Service) Get(ctx context.Context, sid string) (*View, error) {
	c, err := s.store.Get(ctx, sid)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return s.view(c), nil
}

// AddItem adds quantity units of an active product, merging with an existing
// line for the same product. Products with zero inventory are rejected;
// quantity is otherwise capped only by MaxQuantity per line since stock is
// enforced when the order is written.
func (s *Service) AddItem(ctx context.Context, sid, productID string, quantity int, options map[string]string) (*View, error) {
	if quantity < 1 {
		quantity = 1
	}
	if quantity > MaxQuantity {
		return nil, ErrQuantityLimit
	}

	p, err := s.products.GetActive(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get product %s", productID)
	}
	if p.Inventory == 0 {
		return nil, ErrOutOfStock
	}

	c, err := s.store.Update(ctx, sid, func(c *Cart) error {
		return c.add(Item{
			ProductID: p.ID,
			SKU:       p.SKU,
			Title:     p.Title,
			UnitPrice: p.Price,
			Quantity:  quantity,
			Options:   options,
		})
	})
	if err != nil {
		if errors.Is(err, ErrQuantityLimit) {
			return nil, err
		}
		return nil, errors.Wrap(err, "save cart")
	}
	return s.view(c), nil
}

// UpdateItem sets a line's quantity; quantity <= 0 removes the line.
func (s *Service) UpdateItem(ctx context.Context, sid, itemID string, quantity int) (*View, error) {
	if quantity > MaxQuantity {
		return nil, ErrQuantityLimit
	}
	c, err := s.store.Update(ctx, sid, func(c *Cart) error {
		return c.setQuantity(itemID, quantity)
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrQuantityLimit) {
			return nil, err
		}
		return nil, errors.Wrap(err, "save cart")
	}
	return s.view(c), nil
}

// RemoveItem deletes a line unconditionally.
func (s *Service) RemoveItem(ctx context.Context, sid, itemID string) (*View, error) {
	c, err := s.store.Update(ctx, sid, func(c *Cart) error {
		c.remove(itemID)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return s.view(c), nil
}

// SetShipping selects a configured shipping method.
func (s *Service) SetShipping(ctx context.Context, sid, method string) (*View, error) {
	if !s.settings.HasShippingMethod(method) {
		return nil, fmt.Errorf("%w: %q", settings.ErrUnknownShippingMethod, method)
	}
	c, err := s.store.Update(ctx, sid, func(c *Cart) error {
		c.ShippingMethod = method
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return s.view(c), nil
}

// ApplyCoupon validates code against the current subtotal and attaches it.
// A rejected coupon leaves the cart untouched.
func (s *Service) ApplyCoupon(ctx context.Context, sid, code string) (*View, *coupon.Applied, error) {
	current, err := s.store.Get(ctx, sid)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load cart")
	}

	applied, err := s.coupons.Check(ctx, code, current.Subtotal())
	if err != nil {
		return nil, nil, err
	}

	c, err := s.store.Update(ctx, sid, func(c *Cart) error {
		c.Coupon = applied
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "save cart")
	}
	return s.view(c), applied, nil
}

// RemoveCoupon clears the applied coupon unconditionally.
func (s *Service) RemoveCoupon(ctx context.Context, sid string) (*View, error) {
	c, err := s.store.Update(ctx, sid, func(c *Cart) error {
		c.Coupon = nil
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return s.view(c), nil
}

// Clear removes the whole cart, coupon included.
func (s *Service) Clear(ctx context.Context, sid string) error {
	return s.store.Delete(ctx, sid)
}
