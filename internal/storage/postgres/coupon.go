package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value, min_purchase,
		max_uses, uses_count, start_date, end_date, active, created_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	listCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons ORDER BY created_at DESC, id DESC`

	listCouponCodesSQL = `SELECT UPPER(code) FROM coupons`

	latestCouponIDSQL = `SELECT COALESCE(MAX(id), 0) FROM coupons`

	insertCouponSQL = `INSERT INTO coupons (code, description, discount_type, discount_value,
		min_purchase, max_uses, uses_count, start_date, end_date, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	insertCouponIgnoreSQL = `INSERT INTO coupons (code, description, discount_type, discount_value,
		min_purchase, max_uses, uses_count, start_date, end_date, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`

	deactivateCouponSQL = `UPDATE coupons SET active = FALSE WHERE UPPER(code) = UPPER($1)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive), active or not.
// Returns a coupon.InvalidError with ReasonNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &coupon.InvalidError{Code: code, Reason: coupon.ReasonNotFound}
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// List returns every coupon, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCouponRule)
}

// ListCodes returns every issued code, upper-cased.
func (r *CouponRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupon codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// LatestID returns the highest coupon id, or 0 for an empty table.
func (r *CouponRepository) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, latestCouponIDSQL).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading latest coupon id: %w", err)
	}
	return id, nil
}

// Create inserts a new coupon and fills in its id and creation time.
// Returns coupon.ErrCodeTaken when the code already exists.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Rule) error {
	err := r.pool.QueryRow(ctx, insertCouponSQL, couponArgs(c)...).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// CreateBatch inserts coupons in one round trip, skipping codes that already
// exist. It returns the number of rows inserted.
func (r *CouponRepository) CreateBatch(ctx context.Context, rules []coupon.Rule) (int64, error) {
	batch := &pgx.Batch{}
	for i := range rules {
		batch.Queue(insertCouponIgnoreSQL, couponArgs(&rules[i])...)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range rules {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("inserting coupon %q: %w", rules[i].Code, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// Deactivate turns a coupon off.
func (r *CouponRepository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deactivateCouponSQL, code)
	if err != nil {
		return fmt.Errorf("deactivating coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return &coupon.InvalidError{Code: code, Reason: coupon.ReasonNotFound}
	}
	return nil
}

func couponArgs(c *coupon.Rule) []any {
	return []any{
		c.Code, c.Description, string(c.DiscountType), c.Value,
		c.MinPurchase, c.MaxUses, c.UsesCount, c.StartDate, c.EndDate, c.Active,
	}
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
		value        decimal.Decimal
		minPurchase  decimal.Decimal
		startDate    *time.Time
		endDate      *time.Time
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &rule.Description, &discountType, &value, &minPurchase,
		&rule.MaxUses, &rule.UsesCount, &startDate, &endDate, &rule.Active, &rule.CreatedAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.Value = value
	rule.MinPurchase = minPurchase
	rule.StartDate = startDate
	rule.EndDate = endDate
	return rule, err
}
