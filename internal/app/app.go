package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cardshop/internal/domain/analytics"
	"github.com/xenking/cardshop/internal/domain/auth"
	"github.com/xenking/cardshop/internal/domain/cart"
	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/order"
	"github.com/xenking/cardshop/internal/domain/payment"
	"github.com/xenking/cardshop/internal/handler"
	"github.com/xenking/cardshop/internal/storage/postgres"
	"github.com/xenking/cardshop/pkg/health"
	"github.com/xenking/cardshop/pkg/httpmiddleware"
)

const paypalTimeout = 15 * time.Second

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Store settings are read once; changing them needs a restart.
	storeSettings, err := postgres.NewSettingsRepository(pool).Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load store settings")
	}
	lg.Info("Store settings loaded",
		zap.Bool("paypal_enabled", storeSettings.PayPal.Enabled()),
		zap.String("paypal_mode", string(storeSettings.PayPal.Mode)),
		zap.Int("shipping_methods", len(storeSettings.Shipping)),
	)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	visitRepo := postgres.NewVisitRepository(pool)
	analyticsRepo, err := postgres.NewAnalyticsRepository(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "probe visits schema")
	}
	lg.Info("Visits schema probed", zap.String("timestamp_column", analyticsRepo.Column()))

	// Carts live in memory with idle expiry.
	cartStore := cart.NewMemoryStore(cfg.CartTTL)
	go cartStore.Run(ctx)

	prefilter := coupon.NewPrefilter()
	if err := prefilter.Load(ctx, couponRepo); err != nil {
		return errors.Wrap(err, "load coupon prefilter")
	}
	go prefilter.Run(ctx, couponRepo, cfg.CouponReload)

	gateway, err := payment.NewGateway(storeSettings.PayPal, &http.Client{Timeout: paypalTimeout})
	if err != nil {
		return errors.Wrap(err, "create paypal gateway")
	}

	webhookLog, err := payment.OpenFileLog(cfg.WebhookLogPath)
	if err != nil {
		return errors.Wrap(err, "open webhook log")
	}
	defer func() {
		if err := webhookLog.Close(); err != nil {
			lg.Warn("Close webhook log", zap.Error(err))
		}
	}()

	// Domain services.
	couponValidator := coupon.NewRepoValidator(couponRepo, prefilter)
	cartService := cart.NewService(cartStore, productRepo, couponValidator, storeSettings)
	orderService, err := order.NewService(cartService, couponValidator, gateway, orderRepo, m.MeterProvider(), cfg.OrderPrefix)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{
			SessionName: cfg.SessionName,
			ClientIP:    httpmiddleware.ClientIP,
		},
		handler.Services{
			Products:  productRepo,
			Carts:     cartService,
			Orders:    orderService,
			Coupons:   coupon.NewService(couponRepo, prefilter),
			Analytics: analytics.NewService(analyticsRepo, m.TracerProvider()),
			Tracker:   analytics.NewTracker(visitRepo),
			Webhooks:  payment.NewProcessor(orderRepo, webhookLog),
			Auth:      auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
			Sessions:  handler.NewCookieStore([]byte(cfg.SessionKey), cfg.CookieSecure),
		},
	)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.AddWarningCheck("carts", time.Second,
		health.CapacityCheck("cart sessions", cartStore.Len, cfg.MaxCartSessions))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Accept", "X-Requested-With", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   skipRateLimit,
			}),
			httpmiddleware.RequestID(payment.TransmissionIDHeader),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("cardshop-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// skipRateLimit exempts probes and PayPal's webhook deliveries.
func skipRateLimit(r *http.Request) bool {
	switch r.URL.Path {
	case "/livez", "/readyz", "/api/paypal/webhook":
		return true
	}
	return false
}
