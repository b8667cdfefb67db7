package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config is the process configuration of the storefront API. Store-wide
// settings (shipping, tax, PayPal) live in the database instead.
type Config struct {
	Addr            string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL     string        `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper    string        `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	SessionKey      string        `usage:"Session cookie signing key, 32 or 64 bytes (SHOP_SESSION_KEY)" flag:"session-key"`
	SessionName     string        `default:"cardshop_session" usage:"Session cookie name" flag:"session-name"`
	CookieSecure    bool          `default:"true" usage:"Mark the session cookie Secure" flag:"cookie-secure"`
	CartTTL         time.Duration `default:"720h" usage:"Idle time after which a cart is dropped" flag:"cart-ttl"`
	MaxCartSessions int           `default:"500000" usage:"Cart sessions in memory before /readyz warns" flag:"max-cart-sessions"`
	CouponReload    time.Duration `default:"5m" usage:"Interval between full coupon prefilter reloads" flag:"coupon-reload"`
	OrderPrefix     string        `default:"CS" usage:"Order reference prefix" flag:"order-prefix"`
	WebhookLogPath  string        `default:"logs/paypal-webhooks.log" usage:"PayPal webhook event log file" flag:"webhook-log"`
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Graceful        GracefulConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Config files searched in order; the first one found wins.
var configFiles = []string{"config.yaml", "/etc/cardshop/config.yaml"}

// LoadConfig reads defaults, config files, SHOP_* variables and flags, then
// applies platform variables and validates the result.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{Files: configFiles})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	ac.EnvPrefix = "SHOP"
	ac.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
		".yml":  aconfigyaml.New(),
	}

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	cfg.OrderPrefix = strings.ToUpper(strings.TrimSpace(cfg.OrderPrefix))

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	case len(c.SessionKey) < 32:
		return errors.Errorf("session key must be at least 32 bytes, got %d", len(c.SessionKey))
	case c.CartTTL <= 0:
		return errors.New("cart TTL must be positive")
	case c.MaxCartSessions <= 0:
		return errors.New("max cart sessions must be positive")
	case c.CouponReload <= 0:
		return errors.New("coupon reload interval must be positive")
	case !validOrderPrefix(c.OrderPrefix):
		return errors.Errorf("order prefix %q must be 1-6 letters or digits", c.OrderPrefix)
	case c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0:
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

func validOrderPrefix(p string) bool {
	if p == "" || len(p) > 6 {
		return false
	}
	for _, r := range p {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// applyPlatformDefaults honours DATABASE_URL and PORT as set by hosting
// platforms when the SHOP_ equivalents are absent.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
