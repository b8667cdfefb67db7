package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/analytics"
)

// Columns the visits table has carried its timestamp in.
const (
	visitColumnVisitDate = "visit_date"
	visitColumnCreatedAt = "created_at"
)

const (
	lookupVisitColumnSQL = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'visits'
			AND column_name IN ('visit_date', 'created_at')
		ORDER BY column_name = 'visit_date' DESC
		LIMIT 1`

	// Range bounds are nullable so an unbounded range needs no second query.
	visitTotalsSQL = `SELECT
			COUNT(*),
			COUNT(DISTINCT ip),
			COALESCE(AVG(pages_viewed), 0)::float8,
			COALESCE(AVG(time_on_site), 0)::float8,
			COUNT(*) FILTER (WHERE pages_viewed <= 1 AND time_on_site < 30),
			COUNT(*) FILTER (WHERE time_on_site > 300),
			COUNT(*) FILTER (WHERE pages_viewed > 1)
		FROM visits WHERE %[1]s`

	// Hour and day buckets are UTC whatever the session time zone is.
	visitsByHourSQL = `SELECT EXTRACT(HOUR FROM %[2]s AT TIME ZONE 'UTC')::int AS hour, COUNT(*)
		FROM visits WHERE %[1]s
		GROUP BY hour ORDER BY hour`

	visitsByReferrerSQL = `SELECT referrer, COUNT(*)
		FROM visits WHERE %[1]s
		GROUP BY referrer`

	visitsByDaySQL = `SELECT date_trunc('day', %[2]s AT TIME ZONE 'UTC') AS day, COUNT(*)
		FROM visits WHERE %[1]s
		GROUP BY day ORDER BY day`

	clickCountSQL = `SELECT COUNT(*) FROM %s
		WHERE ($1::timestamptz IS NULL OR click_date >= $1)
			AND ($2::timestamptz IS NULL OR click_date < $2)`

	// Cancelled and refunded orders count but earn nothing.
	orderTotalsSQL = `SELECT COUNT(*),
			COALESCE(SUM(total) FILTER (WHERE status NOT IN ('cancelled', 'refunded')
				AND payment_status <> 'refunded'), 0)
		FROM orders
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)`

	ordersByStatusSQL = `SELECT status, COUNT(*)
		FROM orders
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		GROUP BY status ORDER BY COUNT(*) DESC, status`
)

var clickTables = map[analytics.Partner]string{
	analytics.PartnerEbay:    "ebay_clicks",
	analytics.PartnerWhatnot: "whatnot_clicks",
}

var _ analytics.Repository = (*AnalyticsRepository)(nil)

// AnalyticsRepository runs the dashboard aggregates on PostgreSQL.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
	// where is the visits range predicate over the detected timestamp column.
	where  string
	column string
}

// NewAnalyticsRepository detects which timestamp column the visits table has
// and returns a repository whose queries use it.
func NewAnalyticsRepository(ctx context.Context, pool *pgxpool.Pool) (*AnalyticsRepository, error) {
	var column string
	err := pool.QueryRow(ctx, lookupVisitColumnSQL).Scan(&column)
	if err != nil {
		return nil, fmt.Errorf("detecting visits timestamp column: %w", err)
	}
	return newAnalyticsRepository(pool, column)
}

func newAnalyticsRepository(pool *pgxpool.Pool, column string) (*AnalyticsRepository, error) {
	switch column {
	case visitColumnVisitDate, visitColumnCreatedAt:
	default:
		return nil, fmt.Errorf("unexpected visits timestamp column %q", column)
	}
	return &AnalyticsRepository{
		pool:   pool,
		column: column,
		where: fmt.Sprintf("($1::timestamptz IS NULL OR %[1]s >= $1) AND ($2::timestamptz IS NULL OR %[1]s < $2)",
			column),
	}, nil
}

// Column returns the detected visits timestamp column.
func (r *AnalyticsRepository) Column() string {
	return r.column
}

func rangeArgs(rg analytics.Range) []any {
	if rg.All {
		return []any{nil, nil}
	}
	start, end := rg.Start, rg.End
	return []any{&start, &end}
}

func (r *AnalyticsRepository) visitSQL(format string) string {
	return fmt.Sprintf(format, r.where, r.column)
}

// VisitAggregates counts visits in the range.
func (r *AnalyticsRepository) VisitAggregates(ctx context.Context, rg analytics.Range) (*analytics.VisitAggregates, error) {
	args := rangeArgs(rg)
	agg := &analytics.VisitAggregates{}

	err := r.pool.QueryRow(ctx, r.visitSQL(visitTotalsSQL), args...).Scan(
		&agg.Total, &agg.Unique, &agg.AvgPages, &agg.AvgTimeOnSite,
		&agg.Bounces, &agg.LongSessions, &agg.MultiPage,
	)
	if err != nil {
		return nil, fmt.Errorf("counting visits: %w", err)
	}

	rows, err := r.pool.Query(ctx, r.visitSQL(visitsByHourSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("counting visits by hour: %w", err)
	}
	agg.ByHour, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.HourCount, error) {
		var h analytics.HourCount
		err := row.Scan(&h.Hour, &h.Visits)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("counting visits by hour: %w", err)
	}

	rows, err = r.pool.Query(ctx, r.visitSQL(visitsByReferrerSQL), args...)
	if err != nil {
		return nil, fmt.Errorf("counting visits by referrer: %w", err)
	}
	agg.ByReferrer, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.ReferrerCount, error) {
		var c analytics.ReferrerCount
		err := row.Scan(&c.Referrer, &c.Visits)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("counting visits by referrer: %w", err)
	}

	rows, err = r.pool.Query(ctx, r.visitSQL(visitsByDaySQL), args...)
	if err != nil {
		return nil, fmt.Errorf("counting visits by day: %w", err)
	}
	agg.ByDay, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.DailyCount, error) {
		var (
			c   analytics.DailyCount
			day time.Time
		)
		err := row.Scan(&day, &c.Visits)
		c.Date = day
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("counting visits by day: %w", err)
	}

	return agg, nil
}

// ClickCount counts partner clicks in the range. A missing click table
// counts as zero.
func (r *AnalyticsRepository) ClickCount(ctx context.Context, p analytics.Partner, rg analytics.Range) (int64, error) {
	table, ok := clickTables[p]
	if !ok {
		return 0, fmt.Errorf("counting clicks: %w", analytics.ErrUnknownPartner)
	}

	var n int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(clickCountSQL, table), rangeArgs(rg)...).Scan(&n)
	if err != nil {
		if pgCode(err) == codeUndefinedTable {
			return 0, nil
		}
		return 0, fmt.Errorf("counting %s clicks: %w", p, err)
	}
	return n, nil
}

// OrderStats summarizes orders created in the range.
func (r *AnalyticsRepository) OrderStats(ctx context.Context, rg analytics.Range) (*analytics.OrderStats, error) {
	args := rangeArgs(rg)
	stats := &analytics.OrderStats{}

	var revenue decimal.Decimal
	if err := r.pool.QueryRow(ctx, orderTotalsSQL, args...).Scan(&stats.Count, &revenue); err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}
	stats.Revenue = revenue

	rows, err := r.pool.Query(ctx, ordersByStatusSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("counting orders by status: %w", err)
	}
	stats.ByStatus, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.NamedCount, error) {
		var c analytics.NamedCount
		err := row.Scan(&c.Name, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("counting orders by status: %w", err)
	}
	return stats, nil
}
