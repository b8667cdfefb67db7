package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cardshop/internal/domain/analytics"
)

const (
	touchVisitSQL = `UPDATE visits SET
			pages_viewed = pages_viewed + 1,
			time_on_site = GREATEST(time_on_site, $2)
		WHERE id = (
			SELECT id FROM visits WHERE session_id = $1 ORDER BY id DESC LIMIT 1
		)`

	insertVisitSQL = `INSERT INTO visits (ip, session_id, landing_page, referrer, user_agent,
		pages_viewed, time_on_site)
		VALUES ($1, $2, $3, $4, $5, 1, $6)`

	insertClickSQL = `INSERT INTO %s (ip, url) VALUES ($1, $2)`

	insertSubscriberSQL = `INSERT INTO subscribers (email) VALUES (LOWER($1))
		ON CONFLICT (email) DO NOTHING`
)

var _ analytics.VisitRecorder = (*VisitRepository)(nil)

// VisitRepository records storefront traffic in PostgreSQL.
type VisitRepository struct {
	pool *pgxpool.Pool
}

// NewVisitRepository returns a VisitRepository that uses the given pool.
func NewVisitRepository(pool *pgxpool.Pool) *VisitRepository {
	return &VisitRepository{pool: pool}
}

// RecordHit updates the latest visit of the session or inserts a new one.
func (r *VisitRepository) RecordHit(ctx context.Context, h analytics.Hit) (bool, error) {
	tag, err := r.pool.Exec(ctx, touchVisitSQL, h.SessionID, h.TimeOnSite)
	if err != nil {
		return false, fmt.Errorf("updating visit: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	_, err = r.pool.Exec(ctx, insertVisitSQL,
		h.IP, h.SessionID, h.Page, h.Referrer, h.UserAgent, h.TimeOnSite,
	)
	if err != nil {
		return false, fmt.Errorf("inserting visit: %w", err)
	}
	return true, nil
}

// RecordClick inserts a partner click.
func (r *VisitRepository) RecordClick(ctx context.Context, c analytics.Click) error {
	table, ok := clickTables[c.Partner]
	if !ok {
		return fmt.Errorf("recording click: %w", analytics.ErrUnknownPartner)
	}
	if _, err := r.pool.Exec(ctx, fmt.Sprintf(insertClickSQL, table), c.IP, c.URL); err != nil {
		return fmt.Errorf("recording %s click: %w", c.Partner, err)
	}
	return nil
}

// Subscribe stores a newsletter address, reporting whether it was new.
func (r *VisitRepository) Subscribe(ctx context.Context, email string) (bool, error) {
	tag, err := r.pool.Exec(ctx, insertSubscriberSQL, email)
	if err != nil {
		return false, fmt.Errorf("subscribing %q: %w", email, err)
	}
	return tag.RowsAffected() == 1, nil
}
