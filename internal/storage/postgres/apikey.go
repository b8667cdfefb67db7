package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cardshop/internal/domain/auth"
)

const (
	// The previous last_used_at is returned so callers see when the key was
	// used before this request.
	useAPIKeySQL = `WITH prev AS (
			SELECT id, last_used_at FROM api_keys WHERE key_hash = $1 AND active
		)
		UPDATE api_keys k SET last_used_at = now()
		FROM prev WHERE k.id = prev.id
		RETURNING k.id, k.key_hash, k.name, k.scopes, prev.last_used_at`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash,
			name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE`

	revokeAPIKeySQL = `UPDATE api_keys SET active = FALSE WHERE id = $1 AND active`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository stores back-office API key hashes.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash returns the active key with the given HMAC hash and stamps its
// last use.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	rows, err := r.pool.Query(ctx, useAPIKeySQL, hash)
	if err != nil {
		return nil, fmt.Errorf("using api key: %w", err)
	}
	info, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (auth.APIKeyInfo, error) {
		var k auth.APIKeyInfo
		err := row.Scan(&k.ID, &k.KeyHash, &k.Name, &k.Scopes, &k.LastUsedAt)
		return k, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("using api key: %w", err)
	}
	return &info, nil
}

// Upsert stores or re-activates an API key. Used by seeding.
func (r *APIKeyRepository) Upsert(ctx context.Context, info auth.APIKeyInfo) error {
	scopes := info.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	if _, err := r.pool.Exec(ctx, upsertAPIKeySQL, info.ID, info.KeyHash, info.Name, scopes); err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}

// Revoke deactivates a key. Revoking an unknown or already revoked key
// returns auth.ErrKeyNotFound.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, revokeAPIKeySQL, id)
	if err != nil {
		return fmt.Errorf("revoking api key %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrKeyNotFound
	}
	return nil
}
