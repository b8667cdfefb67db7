package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/order"
)

const (
	orderColumns = `id, reference, paypal_order_id,
		customer_name, customer_email, customer_phone,
		address_line1, address_line2, city, state, postal_code, country,
		shipping_method, subtotal, shipping, tax, discount, total,
		coupon_id, coupon_code, status, payment_status, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (reference, paypal_order_id,
		customer_name, customer_email, customer_phone,
		address_line1, address_line2, city, state, postal_code, country,
		shipping_method, subtotal, shipping, tax, discount, total,
		coupon_id, coupon_code, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id, created_at, updated_at`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, sku, title,
		unit_price, quantity, options, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	decrementInventorySQL = `UPDATE products SET inventory = inventory - $1
		WHERE id = $2 AND inventory >= $1`

	incrementCouponUsesSQL = `UPDATE coupons SET uses_count = uses_count + 1 WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	getOrderByReferenceSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE reference = $1`

	listOrderItemsSQL = `SELECT product_id, sku, title, unit_price, quantity, options, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE reference = $1`

	// The update only applies when the new payment status ranks above the
	// stored one; the order's reference is returned either way.
	updateOrderPaymentSQL = `WITH target AS (
			SELECT id, reference FROM orders
			WHERE paypal_order_id = $1 AND paypal_order_id <> ''
		), updated AS (
			UPDATE orders o SET
				payment_status = $2,
				status = CASE
					WHEN $3::text <> '' AND ($4::text = '' OR o.status = $4::text) THEN $3::text
					ELSE o.status
				END,
				updated_at = now()
			FROM target
			WHERE o.id = target.id AND ` + paymentRankSQL + ` < $5
			RETURNING o.id
		)
		SELECT target.reference, EXISTS (SELECT 1 FROM updated) FROM target`

	// Mirrors order.PaymentStatus.Rank.
	paymentRankSQL = `CASE o.payment_status
			WHEN 'approved' THEN 1
			WHEN 'failed' THEN 1
			WHEN 'completed' THEN 2
			WHEN 'refunded' THEN 3
			ELSE 0
		END`

	orderReferenceConstraint = "orders_reference_key"
	orderPayPalConstraint    = "orders_paypal_order_id_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Place writes the order and its item snapshots, decrements inventory and
// counts the coupon use in one transaction. An inventory decrement that
// matches no row is reported in ShortStock but does not abort the write.
func (r *OrderRepository) Place(ctx context.Context, o *order.Order) (*order.PlaceResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := o.Totals
	err = tx.QueryRow(ctx, insertOrderSQL,
		o.Reference, o.PayPalOrderID,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		o.ShippingAddress.Line1, o.ShippingAddress.Line2, o.ShippingAddress.City,
		o.ShippingAddress.State, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.ShippingMethod, t.Subtotal, t.Shipping, t.Tax, t.Discount, t.Total,
		o.CouponID, o.CouponCode, string(o.Status), string(o.PaymentStatus),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, orderReferenceConstraint) {
			return nil, order.ErrDuplicateReference
		}
		if isUniqueViolation(err, orderPayPalConstraint) {
			return nil, order.ErrPaymentReused
		}
		return nil, fmt.Errorf("inserting order %q: %w", o.Reference, err)
	}

	res := &order.PlaceResult{}
	for _, it := range o.Items {
		options := it.Options
		if options == nil {
			options = map[string]string{}
		}
		if _, err := tx.Exec(ctx, insertOrderItemSQL,
			o.ID, it.ProductID, it.SKU, it.Title, it.UnitPrice, it.Quantity, options, it.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("inserting item %q of order %q: %w", it.ProductID, o.Reference, err)
		}

		tag, err := tx.Exec(ctx, decrementInventorySQL, it.Quantity, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("decrementing inventory of %q: %w", it.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			res.ShortStock = append(res.ShortStock, it.ProductID)
		}
	}

	if o.CouponID != nil {
		if _, err := tx.Exec(ctx, incrementCouponUsesSQL, *o.CouponID); err != nil {
			return nil, fmt.Errorf("incrementing uses of coupon %q: %w", o.CouponCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing order %q: %w", o.Reference, err)
	}
	return res, nil
}

// List returns orders without items, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// GetByReference returns an order with its items.
func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByReferenceSQL, reference)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", reference, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", reference, err)
	}

	rows, err = r.pool.Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", reference, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", reference, err)
	}
	return &o, nil
}

// UpdateStatus sets an order's fulfilment status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, reference string, status order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, reference, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdatePayment applies a payment state change to the order with the given
// PayPal order id unless the stored payment status already ranks as high.
// It returns the order reference and whether the change was applied.
func (r *OrderRepository) UpdatePayment(ctx context.Context, paypalOrderID string, u order.PaymentUpdate) (string, bool, error) {
	var (
		ref     string
		applied bool
	)
	err := r.pool.QueryRow(ctx, updateOrderPaymentSQL,
		paypalOrderID, string(u.PaymentStatus), string(u.Status), string(u.FromStatus), u.PaymentStatus.Rank(),
	).Scan(&ref, &applied)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, order.ErrNotFound
		}
		return "", false, fmt.Errorf("updating payment of paypal order %q: %w", paypalOrderID, err)
	}
	return ref, applied, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		paymentStatus string
		subtotal      decimal.Decimal
		shipping      decimal.Decimal
		tax           decimal.Decimal
		discount      decimal.Decimal
		total         decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.Reference, &o.PayPalOrderID,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.ShippingAddress.Line1, &o.ShippingAddress.Line2, &o.ShippingAddress.City,
		&o.ShippingAddress.State, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.ShippingMethod, &subtotal, &shipping, &tax, &discount, &total,
		&o.CouponID, &o.CouponCode, &status, &paymentStatus, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Totals.Subtotal = subtotal
	o.Totals.Shipping = shipping
	o.Totals.Tax = tax
	o.Totals.Discount = discount
	o.Totals.Total = total
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ProductID, &it.SKU, &it.Title, &it.UnitPrice, &it.Quantity, &it.Options, &it.LineTotal,
	)
	return it, err
}
