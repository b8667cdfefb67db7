package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/product"
)

const (
	productColumns = `id, sku, title, description, category, set_name, condition,
		price, inventory, image_url, active`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products
		WHERE active AND ($1 = '' OR category = $1)
		ORDER BY category, title, id
		LIMIT $2 OFFSET $3`

	getActiveProductSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1 AND active`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku, title = EXCLUDED.title, description = EXCLUDED.description,
			category = EXCLUDED.category, set_name = EXCLUDED.set_name,
			condition = EXCLUDED.condition, price = EXCLUDED.price,
			inventory = EXCLUDED.inventory, image_url = EXCLUDED.image_url,
			active = EXCLUDED.active`
)

const defaultProductLimit = 100

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns active products, optionally narrowed to a category.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultProductLimit
	}
	rows, err := r.pool.Query(ctx, listProductsSQL, f.Category, limit, max(f.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetActive returns a single listed product by its identifier.
func (r *ProductRepository) GetActive(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getActiveProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// Upsert inserts or replaces a catalog entry. Used by seeding.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.SKU, p.Title, p.Description, p.Category, p.SetName, p.Condition,
		p.Price, p.Inventory, p.ImageURL, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(
		&p.ID, &p.SKU, &p.Title, &p.Description, &p.Category, &p.SetName, &p.Condition,
		&price, &p.Inventory, &p.ImageURL, &p.Active,
	)
	p.Price = price
	return p, err
}
