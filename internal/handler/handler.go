// Package handler exposes the storefront and back-office JSON API over
// net/http.
package handler

import (
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/xenking/cardshop/internal/domain/analytics"
	"github.com/xenking/cardshop/internal/domain/auth"
	"github.com/xenking/cardshop/internal/domain/cart"
	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/order"
	"github.com/xenking/cardshop/internal/domain/payment"
	"github.com/xenking/cardshop/internal/domain/product"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// SessionName is the storefront cookie name.
	SessionName string
	// ClientIP extracts the visitor address used by tracking.
	ClientIP func(*http.Request) string
}

// Services are the domain dependencies of the Handler.
type Services struct {
	Products  product.Repository
	Carts     *cart.Service
	Orders    *order.Service
	Coupons   *coupon.Service
	Analytics *analytics.Service
	Tracker   *analytics.Tracker
	Webhooks  *payment.Processor
	Auth      *auth.Authenticator
	Sessions  sessions.Store
}

// Handler serves the HTTP API, delegating business logic to the domain
// services.
type Handler struct {
	products    product.Repository
	carts       *cart.Service
	orders      *order.Service
	coupons     *coupon.Service
	analytics   *analytics.Service
	tracker     *analytics.Tracker
	webhooks    *payment.Processor
	auth        *auth.Authenticator
	sessions    sessions.Store
	sessionName string
	clientIP    func(*http.Request) string
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, svc Services) *Handler {
	h := &Handler{
		products:    svc.Products,
		carts:       svc.Carts,
		orders:      svc.Orders,
		coupons:     svc.Coupons,
		analytics:   svc.Analytics,
		tracker:     svc.Tracker,
		webhooks:    svc.Webhooks,
		auth:        svc.Auth,
		sessions:    svc.Sessions,
		sessionName: cfg.SessionName,
		clientIP:    cfg.ClientIP,
	}
	if h.sessionName == "" {
		h.sessionName = defaultSession
	}
	if h.clientIP == nil {
		h.clientIP = func(r *http.Request) string { return r.RemoteAddr }
	}
	return h
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)

	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("POST /api/cart/items", h.AddCartItem)
	mux.HandleFunc("POST /api/cart/items/{id}", h.UpdateCartItem)
	mux.HandleFunc("PATCH /api/cart/items/{id}", h.UpdateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{id}", h.RemoveCartItem)
	mux.HandleFunc("POST /api/cart/items/{id}/remove", h.RemoveCartItem)
	mux.HandleFunc("POST /api/cart/shipping", h.SetShipping)
	mux.HandleFunc("POST /api/cart/coupon", h.ApplyCoupon)
	mux.HandleFunc("DELETE /api/cart/coupon", h.RemoveCoupon)
	mux.HandleFunc("POST /api/cart/coupon/remove", h.RemoveCoupon)

	mux.HandleFunc("GET /api/checkout/config", h.CheckoutConfig)
	mux.HandleFunc("POST /api/checkout", h.Checkout)
	mux.HandleFunc("POST /api/paypal/webhook", h.PayPalWebhook)

	mux.HandleFunc("POST /api/track", h.Track)
	mux.HandleFunc("POST /api/clicks/{partner}", h.TrackClick)
	mux.HandleFunc("POST /api/subscribe", h.Subscribe)

	admin := func(f http.HandlerFunc) http.Handler {
		return h.RequireAPIKey(auth.ScopeAdmin, f)
	}
	mux.Handle("GET /api/admin/orders", admin(h.ListOrders))
	mux.Handle("GET /api/admin/orders/{reference}", admin(h.GetOrder))
	mux.Handle("POST /api/admin/orders/{reference}/status", admin(h.UpdateOrderStatus))
	mux.Handle("GET /api/admin/coupons", admin(h.ListCoupons))
	mux.Handle("POST /api/admin/coupons", admin(h.CreateCoupon))
	mux.Handle("POST /api/admin/coupons/{code}/deactivate", admin(h.DeactivateCoupon))
	mux.Handle("GET /api/admin/analytics", admin(h.Analytics))
}
