package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cardshop/internal/domain/settings"
)

const (
	getPayPalSettingsSQL = `SELECT client_id, client_secret, mode, currency
		FROM paypal_settings WHERE id = 1`

	listStoreSettingsSQL = `SELECT key, value FROM store_settings ORDER BY key`

	upsertStoreSettingSQL = `INSERT INTO store_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	upsertPayPalSettingsSQL = `INSERT INTO paypal_settings (id, client_id, client_secret, mode, currency)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret, mode = EXCLUDED.mode,
			currency = EXCLUDED.currency`
)

// Keys of the store_settings table.
const (
	settingTaxRate        = "tax_rate"
	settingShippingPrefix = "shipping_"
	settingLabelSuffix    = "_label"
)

var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository loads store settings from PostgreSQL.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Load reads the PayPal row and the key/value store settings on top of
// settings.Default. Missing rows keep their defaults.
//
// Shipping methods are stored as shipping_<name> = rate with an optional
// shipping_<name>_label entry.
func (r *SettingsRepository) Load(ctx context.Context) (*settings.Settings, error) {
	s := settings.Default()

	var mode string
	err := r.pool.QueryRow(ctx, getPayPalSettingsSQL).Scan(
		&s.PayPal.ClientID, &s.PayPal.ClientSecret, &mode, &s.PayPal.Currency,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("loading paypal settings: %w", err)
	default:
		s.PayPal.Mode = settings.PayPalMode(mode)
	}

	rows, err := r.pool.Query(ctx, listStoreSettingsSQL)
	if err != nil {
		return nil, fmt.Errorf("loading store settings: %w", err)
	}
	kv, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([2]string, error) {
		var p [2]string
		err := row.Scan(&p[0], &p[1])
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading store settings: %w", err)
	}

	labels := make(map[string]string)
	for _, p := range kv {
		key, value := p[0], strings.TrimSpace(p[1])
		switch {
		case key == settingTaxRate:
			rate, err := decimal.NewFromString(value)
			if err != nil {
				return nil, fmt.Errorf("parsing %s %q: %w", key, value, err)
			}
			s.TaxRate = rate
		case strings.HasPrefix(key, settingShippingPrefix) && strings.HasSuffix(key, settingLabelSuffix):
			name := strings.TrimSuffix(strings.TrimPrefix(key, settingShippingPrefix), settingLabelSuffix)
			labels[name] = value
		case strings.HasPrefix(key, settingShippingPrefix):
			name := strings.TrimPrefix(key, settingShippingPrefix)
			rate, err := decimal.NewFromString(value)
			if err != nil {
				return nil, fmt.Errorf("parsing %s %q: %w", key, value, err)
			}
			m := s.Shipping[name]
			m.Name = name
			m.Rate = rate
			s.Shipping[name] = m
		}
	}
	for name, label := range labels {
		if m, ok := s.Shipping[name]; ok {
			m.Label = label
			s.Shipping[name] = m
		}
	}
	for name, m := range s.Shipping {
		if m.Label == "" {
			m.Label = name
			s.Shipping[name] = m
		}
	}

	return s, nil
}

// SaveShippingMethod stores a shipping rate and its label. Used by seeding.
func (r *SettingsRepository) SaveShippingMethod(ctx context.Context, m settings.ShippingMethod) error {
	key := settingShippingPrefix + m.Name
	if _, err := r.pool.Exec(ctx, upsertStoreSettingSQL, key, m.Rate.StringFixed(2)); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	if m.Label == "" {
		return nil
	}
	if _, err := r.pool.Exec(ctx, upsertStoreSettingSQL, key+settingLabelSuffix, m.Label); err != nil {
		return fmt.Errorf("saving %s label: %w", key, err)
	}
	return nil
}

// SaveTaxRate stores the tax rate fraction. Used by seeding.
func (r *SettingsRepository) SaveTaxRate(ctx context.Context, rate decimal.Decimal) error {
	if _, err := r.pool.Exec(ctx, upsertStoreSettingSQL, settingTaxRate, rate.String()); err != nil {
		return fmt.Errorf("saving %s: %w", settingTaxRate, err)
	}
	return nil
}

// SavePayPal stores the PayPal credentials row. Used by seeding.
func (r *SettingsRepository) SavePayPal(ctx context.Context, p settings.PayPal) error {
	mode := p.Mode
	if mode == "" {
		mode = settings.PayPalSandbox
	}
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	if _, err := r.pool.Exec(ctx, upsertPayPalSettingsSQL, p.ClientID, p.ClientSecret, string(mode), currency); err != nil {
		return fmt.Errorf("saving paypal settings: %w", err)
	}
	return nil
}
