package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/cardshop/internal/domain/analytics"
	"github.com/xenking/cardshop/internal/domain/auth"
	"github.com/xenking/cardshop/internal/domain/cart"
	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/order"
	"github.com/xenking/cardshop/internal/domain/payment"
	"github.com/xenking/cardshop/internal/domain/product"
	"github.com/xenking/cardshop/internal/domain/settings"
)

// --- Mock implementations ---

type mockProductRepo struct {
	products []product.Product
	listErr  error
}

func (m *mockProductRepo) List(_ context.Context, f product.Filter) ([]product.Product, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []product.Product
	for _, p := range m.products {
		if p.Active && (f.Category == "" || p.Category == f.Category) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) GetActive(_ context.Context, id string) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].ID == id && m.products[i].Active {
			p := m.products[i]
			return &p, nil
		}
	}
	return nil, product.ErrNotFound
}

type mockCouponRepo struct {
	mu    sync.Mutex
	rules map[string]*coupon.Rule
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[coupon.NormalizeCode(code)]
	if !ok {
		return nil, &coupon.InvalidError{Code: code, Reason: coupon.ReasonNotFound}
	}
	cp := *r
	return &cp, nil
}

func (m *mockCouponRepo) List(_ context.Context) ([]coupon.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]coupon.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b coupon.Rule) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (m *mockCouponRepo) LatestID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rules)), nil
}

func (m *mockCouponRepo) ListCodes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rules))
	for code := range m.rules {
		out = append(out, code)
	}
	return out, nil
}

func (m *mockCouponRepo) Create(_ context.Context, r *coupon.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.Code]; ok {
		return coupon.ErrCodeTaken
	}
	r.ID = int64(len(m.rules) + 1)
	cp := *r
	m.rules[r.Code] = &cp
	return nil
}

func (m *mockCouponRepo) Deactivate(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[code]
	if !ok {
		return &coupon.InvalidError{Code: code, Reason: coupon.ReasonNotFound}
	}
	r.Active = false
	return nil
}

type mockGateway struct {
	captured []string
	status   string
	paid     string
	err      error
}

func (m *mockGateway) Capture(_ context.Context, id string) (*order.PaymentCapture, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.captured = append(m.captured, id)
	status := m.status
	if status == "" {
		status = order.CaptureCompleted
	}
	c := &order.PaymentCapture{ID: "CAP-" + id, Status: status, Currency: "USD"}
	if m.paid != "" {
		c.Amount = decimal.RequireFromString(m.paid)
	}
	return c, nil
}

type mockOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	placeErr error
}

func (m *mockOrderRepo) Place(_ context.Context, o *order.Order) (*order.PlaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	for _, existing := range m.orders {
		if existing.PayPalOrderID == o.PayPalOrderID {
			return nil, order.ErrPaymentReused
		}
	}
	o.ID = int64(len(m.orders) + 1)
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.orders[o.Reference] = &cp
	return &order.PlaceResult{}, nil
}

func (m *mockOrderRepo) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if f.Status == "" || o.Status == f.Status {
			out = append(out, *o)
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int { return strings.Compare(a.Reference, b.Reference) })
	return out, nil
}

func (m *mockOrderRepo) GetByReference(_ context.Context, ref string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, ref string, s order.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = s
	return nil
}

func (m *mockOrderRepo) UpdatePayment(_ context.Context, paypalID string, u order.PaymentUpdate) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PayPalOrderID != paypalID {
			continue
		}
		if u.PaymentStatus.Rank() <= o.PaymentStatus.Rank() {
			return o.Reference, false, nil
		}
		o.PaymentStatus = u.PaymentStatus
		if u.Status != "" && (u.FromStatus == "" || o.Status == u.FromStatus) {
			o.Status = u.Status
		}
		return o.Reference, true, nil
	}
	return "", false, order.ErrNotFound
}

type mockAnalyticsRepo struct {
	agg    *analytics.VisitAggregates
	orders *analytics.OrderStats
	clicks map[analytics.Partner]int64
	err    error
}

func (m *mockAnalyticsRepo) VisitAggregates(_ context.Context, _ analytics.Range) (*analytics.VisitAggregates, error) {
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.agg
	return &cp, nil
}

func (m *mockAnalyticsRepo) ClickCount(_ context.Context, p analytics.Partner, _ analytics.Range) (int64, error) {
	return m.clicks[p], m.err
}

func (m *mockAnalyticsRepo) OrderStats(_ context.Context, _ analytics.Range) (*analytics.OrderStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.orders
	return &cp, nil
}

type mockVisitRecorder struct {
	mu          sync.Mutex
	hits        []analytics.Hit
	clicks      []analytics.Click
	subscribers map[string]bool
}

func (m *mockVisitRecorder) RecordHit(_ context.Context, h analytics.Hit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prev := range m.hits {
		if prev.SessionID == h.SessionID {
			m.hits = append(m.hits, h)
			return false, nil
		}
	}
	m.hits = append(m.hits, h)
	return true, nil
}

func (m *mockVisitRecorder) RecordClick(_ context.Context, c analytics.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, c)
	return nil
}

func (m *mockVisitRecorder) Subscribe(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers[email] {
		return false, nil
	}
	m.subscribers[email] = true
	return true, nil
}

type mockAPIKeyRepo struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// --- Helpers ---

const (
	adminKey  = "admin-key"
	readerKey = "reader-key"
)

var testPepper = []byte("test-pepper")

type testEnv struct {
	srv      *httptest.Server
	client   *http.Client
	products *mockProductRepo
	coupons  *mockCouponRepo
	gateway  *mockGateway
	orders   *mockOrderRepo
	stats    *mockAnalyticsRepo
	visits   *mockVisitRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		products: &mockProductRepo{products: []product.Product{
			{ID: "p1", SKU: "SKU-1", Title: "Charizard Holo", Category: "singles", Price: decimal.RequireFromString("10.00"), Inventory: 5, Active: true},
			{ID: "p2", SKU: "SKU-2", Title: "Booster Box", Category: "sealed", Price: decimal.RequireFromString("120.00"), Inventory: 0, Active: true},
			{ID: "p3", SKU: "SKU-3", Title: "Retired Promo", Category: "singles", Price: decimal.RequireFromString("3.00"), Inventory: 9, Active: false},
		}},
		coupons: &mockCouponRepo{rules: map[string]*coupon.Rule{
			"SAVE10": {ID: 1, Code: "SAVE10", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true},
		}},
		gateway: &mockGateway{},
		orders:  &mockOrderRepo{orders: map[string]*order.Order{}},
		stats: &mockAnalyticsRepo{
			agg: &analytics.VisitAggregates{
				Total:  4,
				Unique: 3,
				ByHour: []analytics.HourCount{{Hour: 10, Visits: 3}, {Hour: 22, Visits: 1}},
				ByReferrer: []analytics.ReferrerCount{
					{Referrer: "https://www.google.com/search", Visits: 3},
					{Referrer: "", Visits: 1},
				},
			},
			orders: &analytics.OrderStats{Count: 2, Revenue: decimal.RequireFromString("45.50")},
			clicks: map[analytics.Partner]int64{analytics.PartnerEbay: 2, analytics.PartnerWhatnot: 1},
		},
		visits: &mockVisitRecorder{subscribers: map[string]bool{}},
	}

	keys := &mockAPIKeyRepo{byHash: map[string]*auth.APIKeyInfo{}}
	for _, k := range []auth.APIKeyInfo{
		{ID: "k-admin", Name: "admin", KeyHash: auth.HashKey(testPepper, adminKey), Scopes: []string{auth.ScopeAdmin}},
		{ID: "k-reader", Name: "reader", KeyHash: auth.HashKey(testPepper, readerKey), Scopes: []string{"orders:read"}},
	} {
		keys.byHash[k.KeyHash] = &k
	}

	validator := coupon.NewRepoValidator(env.coupons, nil)
	carts := cart.NewService(cart.NewMemoryStore(time.Hour), env.products, validator, settings.Default())
	orders, err := order.NewService(carts, validator, env.gateway, env.orders, metricnoop.NewMeterProvider(), "CS")
	require.NoError(t, err)

	h := NewHandler(Config{}, Services{
		Products:  env.products,
		Carts:     carts,
		Orders:    orders,
		Coupons:   coupon.NewService(env.coupons, nil),
		Analytics: analytics.NewService(env.stats, tracenoop.NewTracerProvider()),
		Tracker:   analytics.NewTracker(env.visits),
		Webhooks:  payment.NewProcessor(env.orders, nil),
		Auth:      auth.NewAuthenticator(keys, testPepper),
		Sessions:  NewCookieStore([]byte("0123456789abcdef0123456789abcdef"), false),
	})
	mux := http.NewServeMux()
	h.Register(mux)

	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	env.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return env
}

type reply struct {
	status int
	header http.Header
	body   map[string]any
	list   []any
}

func (e *testEnv) do(t *testing.T, req *http.Request) reply {
	t.Helper()

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := reply{status: resp.StatusCode, header: resp.Header}
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if data[0] == '[' {
			require.NoError(t, json.Unmarshal(data, &out.list))
		} else {
			require.NoError(t, json.Unmarshal(data, &out.body))
		}
	}
	return out
}

func (e *testEnv) json(t *testing.T, method, path, body string, headers ...string) reply {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return e.do(t, req)
}

func (e *testEnv) form(t *testing.T, path string, values url.Values, referer string) reply {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, e.srv.URL+path, strings.NewReader(values.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return e.do(t, req)
}

func (e *testEnv) seedOrder(ref, paypalID string, status order.Status) {
	e.orders.orders[ref] = &order.Order{
		Reference:     ref,
		PayPalOrderID: paypalID,
		Status:        status,
		PaymentStatus: order.PaymentPending,
		Totals:        cart.Totals{Total: decimal.RequireFromString("25.00")},
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func cartOf(t *testing.T, r reply) map[string]any {
	t.Helper()
	c, ok := r.body["cart"].(map[string]any)
	require.True(t, ok, "missing cart in %v", r.body)
	return c
}

func totalsOf(t *testing.T, r reply) map[string]any {
	t.Helper()
	totals, ok := cartOf(t, r)["totals"].(map[string]any)
	require.True(t, ok)
	return totals
}

// --- Tests ---

func TestProducts(t *testing.T) {
	env := newTestEnv(t)

	r := env.json(t, http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, r.status)
	require.Len(t, r.list, 2)

	r = env.json(t, http.MethodGet, "/api/products?category=singles", "")
	require.Equal(t, http.StatusOK, r.status)
	require.Len(t, r.list, 1)
	first := r.list[0].(map[string]any)
	assert.Equal(t, "p1", first["id"])
	assert.Equal(t, 10.0, first["price"])
	assert.Equal(t, true, first["in_stock"])

	r = env.json(t, http.MethodGet, "/api/products/p3", "")
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, false, r.body["success"])
	assert.Equal(t, "Product not found.", r.body["message"])
}

func TestProducts_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.products.listErr = errors.New("db down")

	r := env.json(t, http.MethodGet, "/api/products", "")
	assert.Equal(t, http.StatusInternalServerError, r.status)
	assert.Equal(t, genericFailure, r.body["message"])
}

func TestCart_JSONFlow(t *testing.T) {
	env := newTestEnv(t)

	r := env.json(t, http.MethodPost, "/api/cart/items", `{"product_id":"p1","quantity":2,"options":{"grade":"PSA 10"}}`)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, true, r.body["success"])
	assert.Equal(t, 2.0, r.body["cart_count"])
	totals := totalsOf(t, r)
	assert.Equal(t, 20.0, totals["subtotal"])
	assert.Equal(t, 5.0, totals["shipping"])
	assert.Equal(t, 25.0, totals["total"])

	items := cartOf(t, r)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"grade": "PSA 10"}, items[0].(map[string]any)["options"])

	r = env.json(t, http.MethodPost, "/api/cart/coupon", `{"code":"save10"}`)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, "Coupon SAVE10 applied. You save $2.00.", r.body["message"])
	totals = totalsOf(t, r)
	assert.Equal(t, 2.0, totals["discount"])
	assert.Equal(t, 23.0, totals["total"])

	r = env.json(t, http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, 2.0, r.body["cart_count"])
	applied := cartOf(t, r)["coupon"].(map[string]any)
	assert.Equal(t, "SAVE10", applied["code"])

	r = env.json(t, http.MethodDelete, "/api/cart/coupon", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Nil(t, cartOf(t, r)["coupon"])

	r = env.json(t, http.MethodPatch, "/api/cart/items/p1", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, 0.0, r.body["cart_count"])
	assert.Equal(t, 0.0, totalsOf(t, r)["total"])
}

func TestCart_Errors(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		status  int
		message string
	}{
		{"out of stock", http.MethodPost, "/api/cart/items", `{"product_id":"p2"}`, http.StatusConflict, "This product is out of stock."},
		{"inactive product", http.MethodPost, "/api/cart/items", `{"product_id":"p3"}`, http.StatusNotFound, "Product not found."},
		{"missing product", http.MethodPost, "/api/cart/items", `{}`, http.StatusBadRequest, "product_id is required"},
		{"bad quantity", http.MethodPost, "/api/cart/items", `{"product_id":"p1","quantity":"many"}`, http.StatusBadRequest, "quantity must be an integer"},
		{"quantity overflows int", http.MethodPost, "/api/cart/items", `{"product_id":"p1","quantity":9223372036854775807}`, http.StatusBadRequest, "quantity is out of range"},
		{"quantity overflows as float", http.MethodPost, "/api/cart/items", `{"product_id":"p1","quantity":1e20}`, http.StatusBadRequest, "quantity is out of range"},
		{"quantity above line limit", http.MethodPost, "/api/cart/items", `{"product_id":"p1","quantity":1000}`, http.StatusBadRequest, "You can add at most 999 of a card."},
		{"update above line limit", http.MethodPatch, "/api/cart/items/p1", `{"quantity":5000}`, http.StatusBadRequest, "You can add at most 999 of a card."},
		{"malformed body", http.MethodPost, "/api/cart/items", `[1,2]`, http.StatusBadRequest, "request body must be a JSON object"},
		{"update missing line", http.MethodPatch, "/api/cart/items/p9", `{"quantity":1}`, http.StatusNotFound, "Item is not in your cart."},
		{"update without quantity", http.MethodPatch, "/api/cart/items/p1", `{}`, http.StatusBadRequest, "quantity is required"},
		{"unknown shipping", http.MethodPost, "/api/cart/shipping", `{"shipping_method":"teleport"}`, http.StatusBadRequest, "Unknown shipping method."},
		{"unknown coupon", http.MethodPost, "/api/cart/coupon", `{"code":"NOPE"}`, http.StatusUnprocessableEntity, "Invalid coupon code."},
		{"empty coupon", http.MethodPost, "/api/cart/coupon", `{}`, http.StatusBadRequest, "code is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			r := env.json(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, r.status)
			assert.Equal(t, false, r.body["success"])
			assert.Equal(t, tt.message, r.body["message"])
		})
	}
}

func TestCart_FormRedirectsWithFlash(t *testing.T) {
	env := newTestEnv(t)
	referer := env.srv.URL + "/products/p1"

	r := env.form(t, "/api/cart/items", url.Values{"product_id": {"p1"}, "quantity": {"3"}, "options[finish]": {"foil"}}, referer)
	require.Equal(t, http.StatusSeeOther, r.status)
	assert.Equal(t, "/products/p1", r.header.Get("Location"))

	r = env.form(t, "/api/cart/items", url.Values{"product_id": {"p2"}}, "https://evil.example/phish")
	require.Equal(t, http.StatusSeeOther, r.status)
	assert.Equal(t, "/cart", r.header.Get("Location"))

	r = env.json(t, http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, 3.0, r.body["cart_count"])
	assert.Equal(t, []any{"Item added to your cart.", "This product is out of stock."}, r.body["flashes"])

	items := cartOf(t, r)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"finish": "foil"}, items[0].(map[string]any)["options"])

	r = env.json(t, http.MethodGet, "/api/cart", "")
	assert.NotContains(t, r.body, "flashes")
}

func TestCheckoutConfig(t *testing.T) {
	env := newTestEnv(t)

	r := env.json(t, http.MethodGet, "/api/checkout/config", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, false, r.body["paypal_enabled"])
	assert.Equal(t, "USD", r.body["currency"])
	assert.Equal(t, "sandbox", r.body["mode"])
	methods := r.body["shipping_methods"].([]any)
	require.Len(t, methods, 1)
	assert.Equal(t, "standard", methods[0].(map[string]any)["name"])
}

const checkoutBody = `{"paypal_order_id":"PP-123","name":"Ash Ketchum","email":"ash@example.com",
	"address_line1":"1 Route","city":"Pallet","postal_code":"00001","country":"us"}`

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)

	r := env.json(t, http.MethodPost, "/api/cart/items", `{"product_id":"p1","quantity":2}`)
	require.Equal(t, http.StatusOK, r.status)
	r = env.json(t, http.MethodPost, "/api/cart/coupon", `{"code":"SAVE10"}`)
	require.Equal(t, http.StatusOK, r.status)
	env.gateway.paid = "23.00"

	r = env.json(t, http.MethodPost, "/api/checkout", checkoutBody)
	require.Equal(t, http.StatusCreated, r.status, r.body)
	assert.Equal(t, true, r.body["success"])
	assert.Equal(t, 0.0, r.body["cart_count"])

	o := r.body["order"].(map[string]any)
	ref := o["reference"].(string)
	assert.True(t, strings.HasPrefix(ref, "CS-"), ref)
	assert.Equal(t, "processing", o["status"])
	assert.Equal(t, "completed", o["payment_status"])
	assert.Equal(t, "SAVE10", o["coupon_code"])
	assert.Equal(t, 23.0, o["totals"].(map[string]any)["total"])
	assert.Equal(t, "US", o["shipping_address"].(map[string]any)["country"])
	require.Len(t, o["items"], 1)

	assert.Equal(t, []string{"PP-123"}, env.gateway.captured)
	stored, ok := env.orders.orders[ref]
	require.True(t, ok)
	require.NotNil(t, stored.CouponID)
	assert.Equal(t, int64(1), *stored.CouponID)

	r = env.json(t, http.MethodGet, "/api/cart", "")
	assert.Equal(t, 0.0, r.body["cart_count"])
}

func TestCheckout_Failures(t *testing.T) {
	tests := []struct {
		name     string
		fill     bool
		body     string
		setup    func(env *testEnv)
		status   int
		keepCart bool
		message  string
	}{
		{name: "empty cart", body: checkoutBody, status: http.StatusBadRequest},
		{name: "missing email", fill: true, body: `{"paypal_order_id":"PP-1","name":"A","address_line1":"x","city":"y","postal_code":"z","country":"US"}`, status: http.StatusBadRequest, keepCart: true},
		{
			name: "payment declined", fill: true, body: checkoutBody, status: http.StatusPaymentRequired, keepCart: true,
			setup:   func(env *testEnv) { env.gateway.err = errors.New("INSTRUMENT_DECLINED") },
			message: "Your payment could not be completed. You have not been charged.",
		},
		{
			name: "capture not completed", fill: true, body: checkoutBody, status: http.StatusPaymentRequired, keepCart: true,
			setup:   func(env *testEnv) { env.gateway.status = "PENDING" },
			message: "Your payment could not be confirmed. Please contact us before trying again.",
		},
		{
			name: "paypal not configured", fill: true, body: checkoutBody, status: http.StatusServiceUnavailable, keepCart: true,
			setup: func(env *testEnv) { env.gateway.err = payment.ErrNotConfigured },
		},
		{
			name: "order write fails", fill: true, body: checkoutBody, status: http.StatusInternalServerError, keepCart: true,
			setup: func(env *testEnv) {
				env.gateway.paid = "15.00"
				env.orders.placeErr = errors.New("connection reset")
			},
		},
		{
			name: "underpaid", fill: true, body: checkoutBody, status: http.StatusPaymentRequired, keepCart: true,
			setup:   func(env *testEnv) { env.gateway.paid = "0.01" },
			message: "Your payment could not be confirmed. Please contact us before trying again.",
		},
		{
			name: "paypal order already used", fill: true, body: checkoutBody, status: http.StatusConflict, keepCart: true,
			setup: func(env *testEnv) {
				env.gateway.paid = "15.00"
				env.seedOrder("CS-20260301-PAID01", "PP-123", order.StatusProcessing)
			},
			message: "This PayPal payment has already been used for an order.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.fill {
				r := env.json(t, http.MethodPost, "/api/cart/items", `{"product_id":"p1"}`)
				require.Equal(t, http.StatusOK, r.status)
			}
			if tt.setup != nil {
				tt.setup(env)
			}

			r := env.json(t, http.MethodPost, "/api/checkout", tt.body)
			assert.Equal(t, tt.status, r.status, r.body)
			assert.Equal(t, false, r.body["success"])
			if tt.message != "" {
				assert.Equal(t, tt.message, r.body["message"])
			}

			if tt.keepCart {
				r = env.json(t, http.MethodGet, "/api/cart", "")
				assert.Equal(t, 1.0, r.body["cart_count"])
			}
		})
	}
}

func TestPayPalWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder("CS-20260301-AAAAAA", "PP-9", order.StatusPending)

	r := env.json(t, http.MethodPost, "/api/paypal/webhook",
		`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","supplementary_data":{"related_ids":{"order_id":"PP-9"}}}}`)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, "WH-1", r.body["event_id"])
	assert.Equal(t, false, r.body["ignored"])
	assert.Equal(t, "CS-20260301-AAAAAA", r.body["reference"])

	stored := env.orders.orders["CS-20260301-AAAAAA"]
	assert.Equal(t, order.StatusProcessing, stored.Status)
	assert.Equal(t, order.PaymentCompleted, stored.PaymentStatus)

	// An approval delivered after the capture does not roll the payment back.
	r = env.json(t, http.MethodPost, "/api/paypal/webhook",
		`{"id":"WH-0","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"PP-9"}}`)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, true, r.body["ignored"])
	assert.Equal(t, order.PaymentCompleted, stored.PaymentStatus)

	r = env.json(t, http.MethodPost, "/api/paypal/webhook", `{"id":"WH-2","event_type":"BILLING.PLAN.CREATED","resource":{}}`)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, true, r.body["ignored"])

	r = env.json(t, http.MethodPost, "/api/paypal/webhook",
		`{"id":"WH-3","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"PP-unknown"}}`)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, true, r.body["ignored"])

	r = env.json(t, http.MethodPost, "/api/paypal/webhook", `not json`)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestTracking(t *testing.T) {
	env := newTestEnv(t)

	r := env.json(t, http.MethodPost, "/api/track", `{"page":"/products","referrer":"https://google.com","time_on_site":12}`)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, true, r.body["new_visit"])

	r = env.json(t, http.MethodPost, "/api/track", `{"page":"/cart"}`, "User-Agent", "test-agent")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, false, r.body["new_visit"])
	require.Len(t, env.visits.hits, 2)
	assert.Equal(t, env.visits.hits[0].SessionID, env.visits.hits[1].SessionID)
	assert.Equal(t, "test-agent", env.visits.hits[1].UserAgent)

	r = env.json(t, http.MethodPost, "/api/clicks/ebay", `{"url":"https://ebay.com/itm/1"}`)
	require.Equal(t, http.StatusOK, r.status)
	require.Len(t, env.visits.clicks, 1)
	assert.Equal(t, analytics.PartnerEbay, env.visits.clicks[0].Partner)

	r = env.json(t, http.MethodPost, "/api/clicks/amazon", `{}`)
	assert.Equal(t, http.StatusNotFound, r.status)

	r = env.json(t, http.MethodPost, "/api/subscribe", `{"email":"Misty@Example.com"}`)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "Thanks for subscribing!", r.body["message"])

	r = env.json(t, http.MethodPost, "/api/subscribe", `{"email":"misty@example.com"}`)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "You are already subscribed.", r.body["message"])

	r = env.json(t, http.MethodPost, "/api/subscribe", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"unknown key", "nope", http.StatusUnauthorized},
		{"insufficient scope", readerKey, http.StatusForbidden},
		{"admin", adminKey, http.StatusOK},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.key != "" {
				headers = []string{APIKeyHeader, tt.key}
			}
			r := env.json(t, http.MethodGet, "/api/admin/orders", "", headers...)
			assert.Equal(t, tt.status, r.status)
		})
	}
}

func TestAdminOrders(t *testing.T) {
	env := newTestEnv(t)
	env.seedOrder("CS-20260301-AAAAAA", "PP-1", order.StatusProcessing)
	env.seedOrder("CS-20260301-BBBBBB", "PP-2", order.StatusPending)

	r := env.json(t, http.MethodGet, "/api/admin/orders?status=pending", "", APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, r.status)
	orders := r.body["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "CS-20260301-BBBBBB", orders[0].(map[string]any)["reference"])

	r = env.json(t, http.MethodGet, "/api/admin/orders?status=lost", "", APIKeyHeader, adminKey)
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = env.json(t, http.MethodGet, "/api/admin/orders/CS-20260301-AAAAAA", "", APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "2026-03-01T12:00:00Z", r.body["created_at"])

	r = env.json(t, http.MethodGet, "/api/admin/orders/CS-missing", "", APIKeyHeader, adminKey)
	assert.Equal(t, http.StatusNotFound, r.status)

	tests := []struct {
		name   string
		ref    string
		body   string
		status int
	}{
		{"ship", "CS-20260301-AAAAAA", `{"status":"shipped"}`, http.StatusOK},
		{"back to pending", "CS-20260301-AAAAAA", `{"status":"pending"}`, http.StatusConflict},
		{"unknown status", "CS-20260301-AAAAAA", `{"status":"teleported"}`, http.StatusBadRequest},
		{"missing order", "CS-missing", `{"status":"shipped"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := env.json(t, http.MethodPost, "/api/admin/orders/"+tt.ref+"/status", tt.body, APIKeyHeader, adminKey)
			assert.Equal(t, tt.status, r.status, r.body)
		})
	}
	assert.Equal(t, order.StatusShipped, env.orders.orders["CS-20260301-AAAAAA"].Status)
}

func TestAdminCoupons(t *testing.T) {
	env := newTestEnv(t)

	r := env.json(t, http.MethodPost, "/api/admin/coupons",
		`{"code":"spring5","discount_type":"fixed","value":"5","min_purchase":20,"max_uses":100,"start_date":"2026-03-01","end_date":"2026-03-31"}`,
		APIKeyHeader, adminKey)
	require.Equal(t, http.StatusCreated, r.status, r.body)
	c := r.body["coupon"].(map[string]any)
	assert.Equal(t, "SPRING5", c["code"])
	assert.Equal(t, 5.0, c["value"])
	assert.Equal(t, true, c["active"])
	assert.Equal(t, "2026-03-31T00:00:00Z", c["end_date"])

	tests := []struct {
		name string
		body string
		code int
	}{
		{"duplicate", `{"code":"SPRING5","discount_type":"fixed","value":5}`, http.StatusConflict},
		{"unknown type", `{"code":"X1","discount_type":"bogo","value":5}`, http.StatusBadRequest},
		{"percentage over 100", `{"code":"X2","discount_type":"percentage","value":150}`, http.StatusBadRequest},
		{"bad date", `{"code":"X3","discount_type":"fixed","value":5,"end_date":"tomorrow"}`, http.StatusBadRequest},
		{"bad value", `{"code":"X4","discount_type":"fixed","value":"five"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := env.json(t, http.MethodPost, "/api/admin/coupons", tt.body, APIKeyHeader, adminKey)
			assert.Equal(t, tt.code, r.status, r.body)
		})
	}

	r = env.json(t, http.MethodGet, "/api/admin/coupons", "", APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, r.status)
	assert.Len(t, r.body["coupons"], 2)

	r = env.json(t, http.MethodPost, "/api/admin/coupons/spring5/deactivate", "", APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, r.status)
	assert.False(t, env.coupons.rules["SPRING5"].Active)

	r = env.json(t, http.MethodPost, "/api/admin/coupons/NOPE/deactivate", "", APIKeyHeader, adminKey)
	assert.Equal(t, http.StatusNotFound, r.status)
}

func TestAdminAnalytics(t *testing.T) {
	env := newTestEnv(t)

	r := env.json(t, http.MethodGet, "/api/admin/analytics?period=week&compare=true", "", APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, false, r.body["fallback"])
	assert.Equal(t, "week", r.body["period"])

	visits := r.body["visits"].(map[string]any)
	assert.Equal(t, 4.0, visits["total"])
	hourly := visits["hourly"].([]any)
	require.Len(t, hourly, 24)
	assert.Equal(t, 3.0, hourly[10])
	assert.Equal(t, 1.0, hourly[22])

	referrers := visits["referrers"].([]any)
	require.Len(t, referrers, len(analytics.ReferrerBuckets))
	assert.Equal(t, map[string]any{"name": "google", "count": 3.0}, referrers[0])

	clicks := r.body["clicks"].(map[string]any)
	assert.Equal(t, 3.0, clicks["total"])
	assert.Equal(t, 45.5, r.body["orders"].(map[string]any)["revenue"])
	assert.NotNil(t, r.body["growth"])
	assert.Contains(t, r.body, "previous")

	r = env.json(t, http.MethodGet, "/api/admin/analytics", "", APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "month", r.body["period"])
	assert.Nil(t, r.body["growth"])

	r = env.json(t, http.MethodGet, "/api/admin/analytics?period=fortnight", "", APIKeyHeader, adminKey)
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = env.json(t, http.MethodGet, "/api/admin/analytics?compare=maybe", "", APIKeyHeader, adminKey)
	assert.Equal(t, http.StatusBadRequest, r.status)

	env.stats.err = errors.New("db down")
	r = env.json(t, http.MethodGet, "/api/admin/analytics?start_date=2026-03-01&end_date=2026-03-07", "", APIKeyHeader, adminKey)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, true, r.body["fallback"])
	assert.Equal(t, "custom", r.body["period"])
	assert.Len(t, r.body["visits"].(map[string]any)["hourly"], 24)
}
