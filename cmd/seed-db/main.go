package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/cardshop/db"
	"github.com/xenking/cardshop/internal/domain/auth"
	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/product"
	"github.com/xenking/cardshop/internal/domain/settings"
	"github.com/xenking/cardshop/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
	revokeKeyID  string
	paypal       settings.PayPal
}

func main() {
	var (
		opts options
		mode string
	)

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "", "path to products JSON file (default: bundled sample catalog)")
	flag.StringVar(&opts.apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.StringVar(&opts.revokeKeyID, "revoke-api-key", "", "id of an API key to deactivate after seeding")
	flag.StringVar(&opts.paypal.ClientID, "paypal-client-id", "", "PayPal REST client id (or PAYPAL_CLIENT_ID env)")
	flag.StringVar(&opts.paypal.ClientSecret, "paypal-client-secret", "", "PayPal REST secret (or PAYPAL_CLIENT_SECRET env)")
	flag.StringVar(&mode, "paypal-mode", string(settings.PayPalSandbox), "PayPal environment: sandbox or live")
	flag.Parse()
	opts.paypal.Mode = settings.PayPalMode(mode)

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "SHOP_SEED_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "SHOP_API_KEY_PEPPER")
	opts.paypal.ClientID = orEnv(opts.paypal.ClientID, "PAYPAL_CLIENT_ID")
	opts.paypal.ClientSecret = orEnv(opts.paypal.ClientSecret, "PAYPAL_CLIENT_SECRET")

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or SHOP_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedSettings(ctx, lg, postgres.NewSettingsRepository(pool), opts.paypal); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	if err := seedCoupons(ctx, lg, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}
	keys := postgres.NewAPIKeyRepository(pool)
	if err := keys.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))

	if opts.revokeKeyID == "" {
		return nil
	}
	switch err := keys.Revoke(ctx, opts.revokeKeyID); {
	case errors.Is(err, auth.ErrKeyNotFound):
		lg.Warn("No active API key to revoke", zap.String("id", opts.revokeKeyID))
	case err != nil:
		return errors.Wrap(err, "revoke api key")
	default:
		lg.Info("Revoked API key", zap.String("id", opts.revokeKeyID))
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, path string) error {
	data := db.SampleProducts
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return errors.Wrap(err, "read products file")
		}
	} else {
		path = "bundled"
	}
	products, err := decodeProducts(data)
	if err != nil {
		return errors.Wrap(err, "parse products file")
	}

	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("title", p.Title))
	}
	lg.Info("Products seeded", zap.Int("count", len(products)), zap.String("path", path))
	return nil
}

// decodeProducts reads a JSON array of catalog entries. Prices may be strings
// or numbers; products are active unless "active" is false.
func decodeProducts(data []byte) ([]product.Product, error) {
	var out []product.Product
	d := jx.DecodeBytes(data)
	err := d.Arr(func(d *jx.Decoder) error {
		p := product.Product{Active: true}
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				p.ID, err = d.Str()
			case "sku":
				p.SKU, err = d.Str()
			case "title":
				p.Title, err = d.Str()
			case "description":
				p.Description, err = d.Str()
			case "category":
				p.Category, err = d.Str()
			case "set_name":
				p.SetName, err = d.Str()
			case "condition":
				p.Condition, err = d.Str()
			case "image_url":
				p.ImageURL, err = d.Str()
			case "inventory":
				p.Inventory, err = d.Int()
			case "active":
				p.Active, err = d.Bool()
			case "price":
				p.Price, err = decodeDecimal(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if p.ID == "" || p.SKU == "" || p.Title == "" {
			return errors.Errorf("product %q: id, sku and title are required", p.ID)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func seedSettings(ctx context.Context, lg *zap.Logger, repo *postgres.SettingsRepository, paypal settings.PayPal) error {
	methods := []settings.ShippingMethod{
		{Name: settings.DefaultShippingMethod, Label: "Standard (5-7 days)", Rate: decimal.RequireFromString("5.00")},
		{Name: "tracked", Label: "Tracked (3-5 days)", Rate: decimal.RequireFromString("8.50")},
		{Name: "express", Label: "Express (1-2 days)", Rate: decimal.RequireFromString("19.99")},
	}
	for _, m := range methods {
		if err := repo.SaveShippingMethod(ctx, m); err != nil {
			return err
		}
	}
	if err := repo.SaveTaxRate(ctx, decimal.Zero); err != nil {
		return err
	}
	if paypal.Enabled() {
		if err := repo.SavePayPal(ctx, paypal); err != nil {
			return err
		}
	}
	lg.Info("Settings seeded",
		zap.Int("shipping_methods", len(methods)),
		zap.Bool("paypal", paypal.Enabled()),
	)
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, repo *postgres.CouponRepository) error {
	rules := []coupon.Rule{
		{
			Code:         "WELCOME10",
			Description:  "10% off your first order",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Active:       true,
		},
		{
			Code:         "SHIPFREE",
			Description:  "$5 off orders over $50",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(5),
			MinPurchase:  decimal.NewFromInt(50),
			Active:       true,
		},
	}
	inserted, err := repo.CreateBatch(ctx, rules)
	if err != nil {
		return err
	}
	lg.Info("Coupons seeded", zap.Int64("inserted", inserted), zap.Int("total", len(rules)))
	return nil
}
