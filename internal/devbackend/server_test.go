package devbackend

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/catalog"
)

const (
	demoEmail    = "demo@agrostore.test"
	demoPassword = "demo-password"
)

func testConfig() Config {
	return Config{
		SigningSecret: "test-secret",
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
	}
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	seed, err := DefaultSeed()
	require.NoError(t, err)
	s, err := NewServer(cfg, seed, zerolog.Nop())
	require.NoError(t, err)
	return s
}

type reply struct {
	status int
	header http.Header
	body   []byte
}

func (r reply) json(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func (r reply) fields(t *testing.T) map[string][]string {
	t.Helper()
	var f map[string][]string
	r.json(t, &f)
	return f
}

func call(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) reply {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return reply{status: resp.StatusCode, header: resp.Header, body: data}
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func login(t *testing.T, app *fiber.App, headers ...string) tokenPair {
	t.Helper()
	r := call(t, app, http.MethodPost, "/api/auth/token/", map[string]string{"email": demoEmail, "password": demoPassword}, headers...)
	require.Equal(t, http.StatusOK, r.status, string(r.body))
	var p tokenPair
	r.json(t, &p)
	require.NotEmpty(t, p.Access)
	require.NotEmpty(t, p.Refresh)
	return p
}

func TestNewServer_RequiresSecret(t *testing.T) {
	seed, err := DefaultSeed()
	require.NoError(t, err)
	_, err = NewServer(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour}, seed, zerolog.Nop())
	assert.Error(t, err)
}

func TestServer_HealthzAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig())

	r := call(t, s.App(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, string(r.body), `"seed"`)

	call(t, s.App(), http.MethodGet, "/api/categories/", nil)
	r = call(t, s.App(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, string(r.body), `devbackend_requests_total{code="200",method="GET"} 1`)
}

func TestServer_RequestIDEchoed(t *testing.T) {
	s := newTestServer(t, testConfig())

	r := call(t, s.App(), http.MethodGet, "/api/categories/", nil, "X-Request-ID", "req-7")
	assert.Equal(t, "req-7", r.header.Get("X-Request-ID"))

	r = call(t, s.App(), http.MethodGet, "/api/categories/", nil)
	assert.NotEmpty(t, r.header.Get("X-Request-ID"))
}

func TestObtainToken(t *testing.T) {
	s := newTestServer(t, testConfig())
	pair := login(t, s.App())

	cl, err := s.tokens.parse(pair.Access, tokenAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cl.UserID)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.tokens.WithLabelValues("password")))
}

func TestObtainToken_BadCredentials(t *testing.T) {
	s := newTestServer(t, testConfig())

	r := call(t, s.App(), http.MethodPost, "/api/auth/token/", map[string]string{"email": demoEmail, "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, r.status)
	assert.Contains(t, string(r.body), "No active account")

	r = call(t, s.App(), http.MethodPost, "/api/auth/token/", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, r.status)
	f := r.fields(t)
	assert.Contains(t, f, "email")
	assert.Contains(t, f, "password")
}

func TestRegister(t *testing.T) {
	s := newTestServer(t, testConfig())
	reg := map[string]string{
		"email":            "olga@farm.ru",
		"password":         "long-enough",
		"password_confirm": "long-enough",
		"first_name":       "Olga",
	}

	r := call(t, s.App(), http.MethodPost, "/api/auth/register/", reg)
	require.Equal(t, http.StatusCreated, r.status, string(r.body))
	var body struct {
		Access string `json:"access"`
		User   struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	r.json(t, &body)
	assert.NotEmpty(t, body.Access)
	assert.Equal(t, "olga@farm.ru", body.User.Email)

	r = call(t, s.App(), http.MethodPost, "/api/auth/register/", reg)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, []string{"User with this email already exists."}, r.fields(t)["email"])

	reg["password_confirm"] = "different"
	reg["email"] = "other@farm.ru"
	r = call(t, s.App(), http.MethodPost, "/api/auth/register/", reg)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Contains(t, r.fields(t), "password_confirm")
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t, testConfig())
	pair := login(t, s.App())

	r := call(t, s.App(), http.MethodPost, "/api/auth/token/refresh/", map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusOK, r.status)
	var out tokenPair
	r.json(t, &out)
	assert.NotEmpty(t, out.Access)
	assert.Empty(t, out.Refresh, "no rotation by default")

	r = call(t, s.App(), http.MethodPost, "/api/auth/token/refresh/", map[string]string{"refresh": pair.Access})
	assert.Equal(t, http.StatusUnauthorized, r.status, "access token is not a refresh token")

	r = call(t, s.App(), http.MethodPost, "/api/auth/token/refresh/", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestRefresh_Rotation(t *testing.T) {
	cfg := testConfig()
	cfg.RotateRefresh = true
	s := newTestServer(t, cfg)
	pair := login(t, s.App())

	r := call(t, s.App(), http.MethodPost, "/api/auth/token/refresh/", map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusOK, r.status)
	var out tokenPair
	r.json(t, &out)
	assert.NotEmpty(t, out.Refresh)

	r = call(t, s.App(), http.MethodPost, "/api/auth/token/refresh/", map[string]string{"refresh": pair.Refresh})
	assert.Equal(t, http.StatusUnauthorized, r.status, "rotated token is blacklisted")
}

func TestLogout_BlacklistsRefresh(t *testing.T) {
	s := newTestServer(t, testConfig())
	pair := login(t, s.App())

	r := call(t, s.App(), http.MethodPost, "/api/auth/logout/", map[string]string{"refresh": pair.Refresh}, bearer(pair.Access)...)
	require.Equal(t, http.StatusOK, r.status)

	r = call(t, s.App(), http.MethodPost, "/api/auth/token/refresh/", map[string]string{"refresh": pair.Refresh})
	assert.Equal(t, http.StatusUnauthorized, r.status)
}

func TestLogout_WithoutBearer(t *testing.T) {
	s := newTestServer(t, testConfig())
	pair := login(t, s.App())

	r := call(t, s.App(), http.MethodPost, "/api/auth/logout/", map[string]string{"refresh": pair.Refresh})
	require.Equal(t, http.StatusOK, r.status)

	r = call(t, s.App(), http.MethodPost, "/api/auth/logout/", map[string]string{"refresh": "garbage"})
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestAuth_ProtectedAndExpired(t *testing.T) {
	s := newTestServer(t, testConfig())

	r := call(t, s.App(), http.MethodGet, "/api/auth/me/", nil)
	assert.Equal(t, http.StatusUnauthorized, r.status)

	pair := login(t, s.App())
	r = call(t, s.App(), http.MethodGet, "/api/auth/me/", nil, bearer(pair.Access)...)
	require.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, string(r.body), demoEmail)

	s.tokens.advance(10 * time.Minute)
	r = call(t, s.App(), http.MethodGet, "/api/auth/me/", nil, bearer(pair.Access)...)
	assert.Equal(t, http.StatusUnauthorized, r.status)
	assert.Contains(t, string(r.body), "token_not_valid")

	r = call(t, s.App(), http.MethodGet, "/api/cart/", nil, bearer(pair.Access)...)
	assert.Equal(t, http.StatusUnauthorized, r.status, "a stale token on an optional route is still rejected")
}

func TestProducts_FilterAndPaginate(t *testing.T) {
	s := newTestServer(t, testConfig())

	var page api.Page[struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Price string `json:"price"`
	}]
	r := call(t, s.App(), http.MethodGet, "/api/products/?category=1&ordering=-price", nil)
	require.Equal(t, http.StatusOK, r.status)
	r.json(t, &page)
	require.Equal(t, 3, page.Count, "seeds include the vegetable seeds subcategory")
	assert.Equal(t, "145.50", page.Results[0].Price)

	r = call(t, s.App(), http.MethodGet, "/api/products/?page_size=2&page=2", nil)
	r.json(t, &page)
	assert.Equal(t, 7, page.Count)
	assert.Len(t, page.Results, 2)
	assert.Contains(t, page.Next, "page=3")
	assert.Contains(t, page.Previous, "page=1")

	r = call(t, s.App(), http.MethodGet, "/api/products/?in_stock=true&search=FUNGICIDE", nil)
	r.json(t, &page)
	assert.Equal(t, 0, page.Count)

	r = call(t, s.App(), http.MethodGet, "/api/products/?ordering=color", nil)
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = call(t, s.App(), http.MethodGet, "/api/products/4/", nil)
	assert.Equal(t, http.StatusOK, r.status)
	r = call(t, s.App(), http.MethodGet, "/api/products/999/", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
}

func TestProducts_PageBeyondEnd(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, q := range []string{"page=9223372036854775807&page_size=100", "page=4611686018427387904&page_size=2", "page=5"} {
		var page api.Page[catalog.Product]
		r := call(t, s.App(), http.MethodGet, "/api/products/?"+q, nil)
		require.Equal(t, http.StatusOK, r.status, q)
		r.json(t, &page)
		assert.Equal(t, 7, page.Count, q)
		assert.Empty(t, page.Results, q)
		assert.Empty(t, page.Next, q)
	}
}

func TestPageWindow(t *testing.T) {
	tests := []struct {
		page, size, total int
		start, end        int
	}{
		{0, 0, 7, 0, 7},
		{1, 2, 7, 0, 2},
		{4, 2, 7, 6, 7},
		{5, 2, 7, 7, 7},
		{2, 1000, 250, 100, 200},
		{math.MaxInt, 100, 7, 7, 7},
		{1, 20, 0, 0, 0},
	}
	for _, tt := range tests {
		start, end := pageWindow(tt.page, tt.size, tt.total)
		assert.Equal(t, tt.start, start, "page %d size %d", tt.page, tt.size)
		assert.Equal(t, tt.end, end, "page %d size %d", tt.page, tt.size)
	}
}

func TestCart_GuestMergedOnLogin(t *testing.T) {
	s := newTestServer(t, testConfig())
	guest := []string{api.SessionKeyHeader, "guest-1"}

	r := call(t, s.App(), http.MethodPost, "/api/cart/items/", map[string]any{"product_id": 1, "quantity": 2}, guest...)
	require.Equal(t, http.StatusCreated, r.status, string(r.body))
	var c struct {
		TotalItems int    `json:"total_items"`
		TotalPrice string `json:"total_price"`
	}
	r.json(t, &c)
	assert.Equal(t, 2, c.TotalItems)
	assert.Equal(t, "178.00", c.TotalPrice)

	pair := login(t, s.App(), guest...)

	r = call(t, s.App(), http.MethodGet, "/api/cart/", nil, bearer(pair.Access)...)
	r.json(t, &c)
	assert.Equal(t, 2, c.TotalItems)

	r = call(t, s.App(), http.MethodGet, "/api/cart/", nil, guest...)
	r.json(t, &c)
	assert.Equal(t, 0, c.TotalItems, "guest cart is consumed by the merge")
}

func TestCart_Lines(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := []string{api.SessionKeyHeader, "guest-2"}

	r := call(t, s.App(), http.MethodPost, "/api/cart/items/", map[string]any{"product_id": 5, "quantity": 4}, h...)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, []string{"Only 3 left in stock."}, r.fields(t)["quantity"])

	r = call(t, s.App(), http.MethodPost, "/api/cart/items/", map[string]any{"product_id": 6}, h...)
	assert.Equal(t, []string{"Product is out of stock."}, r.fields(t)["quantity"])

	r = call(t, s.App(), http.MethodPost, "/api/cart/items/", map[string]any{"product_id": 5}, h...)
	require.Equal(t, http.StatusCreated, r.status)
	r = call(t, s.App(), http.MethodPost, "/api/cart/items/", map[string]any{"product_id": 5, "quantity": 1}, h...)
	var c struct {
		Items []struct {
			ID       int64 `json:"id"`
			Quantity int   `json:"quantity"`
		} `json:"items"`
	}
	r.json(t, &c)
	require.Len(t, c.Items, 1, "same product merges into one line")
	assert.Equal(t, 2, c.Items[0].Quantity)
	lineID := c.Items[0].ID

	r = call(t, s.App(), http.MethodPatch, "/api/cart/items/"+itoa(lineID)+"/", map[string]int{"quantity": 3}, h...)
	require.Equal(t, http.StatusOK, r.status)
	r = call(t, s.App(), http.MethodPatch, "/api/cart/items/"+itoa(lineID)+"/", map[string]int{"quantity": 0}, h...)
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = call(t, s.App(), http.MethodDelete, "/api/cart/items/"+itoa(lineID)+"/", nil, h...)
	require.Equal(t, http.StatusOK, r.status)
	r = call(t, s.App(), http.MethodDelete, "/api/cart/items/"+itoa(lineID)+"/", nil, h...)
	assert.Equal(t, http.StatusNotFound, r.status)

	r = call(t, s.App(), http.MethodPost, "/api/cart/items/", map[string]any{"product_id": 1})
	assert.Equal(t, http.StatusBadRequest, r.status, "no owner")
}

func TestFavorites(t *testing.T) {
	s := newTestServer(t, testConfig())
	auth := bearer(login(t, s.App()).Access)

	r := call(t, s.App(), http.MethodGet, "/api/favorites/check/3/", nil, auth...)
	assert.JSONEq(t, `{"is_favorited":false,"favorite_id":0}`, string(r.body))

	r = call(t, s.App(), http.MethodPost, "/api/favorites/", map[string]int64{"product_id": 3}, auth...)
	require.Equal(t, http.StatusCreated, r.status)
	var fav struct {
		ID int64 `json:"id"`
	}
	r.json(t, &fav)

	r = call(t, s.App(), http.MethodPost, "/api/favorites/", map[string]int64{"product_id": 3}, auth...)
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = call(t, s.App(), http.MethodGet, "/api/favorites/check/3/", nil, auth...)
	assert.JSONEq(t, `{"is_favorited":true,"favorite_id":`+itoa(fav.ID)+`}`, string(r.body))

	r = call(t, s.App(), http.MethodGet, "/api/favorites/", nil, auth...)
	assert.Contains(t, string(r.body), "Winter wheat")

	r = call(t, s.App(), http.MethodDelete, "/api/favorites/"+itoa(fav.ID)+"/", nil, auth...)
	assert.Equal(t, http.StatusNoContent, r.status)

	r = call(t, s.App(), http.MethodGet, "/api/favorites/", nil)
	assert.Equal(t, http.StatusUnauthorized, r.status)
}

func TestCheckout(t *testing.T) {
	s := newTestServer(t, testConfig())
	auth := bearer(login(t, s.App()).Access)
	form := map[string]string{
		"full_name":       "Demo Farmer",
		"phone":           "+79990000000",
		"delivery_method": "pickup",
		"payment_method":  "cash",
	}

	r := call(t, s.App(), http.MethodPost, "/api/orders/", form, auth...)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, []string{"Cart is empty."}, r.fields(t)["items"])

	call(t, s.App(), http.MethodPost, "/api/cart/items/", map[string]any{"product_id": 5, "quantity": 3}, auth...)
	r = call(t, s.App(), http.MethodPost, "/api/orders/", form, auth...)
	require.Equal(t, http.StatusCreated, r.status, string(r.body))
	assert.Contains(t, string(r.body), `"number":"AG-0001"`)
	assert.Contains(t, string(r.body), `"total_price":"960.00"`)

	p, _ := s.state.product(5)
	assert.Equal(t, 0, p.Stock)
	assert.False(t, p.InStock)

	r = call(t, s.App(), http.MethodGet, "/api/cart/", nil, auth...)
	assert.Contains(t, string(r.body), `"total_items":0`)

	r = call(t, s.App(), http.MethodGet, "/api/orders/", nil, auth...)
	assert.Contains(t, string(r.body), `"count":1`)
	r = call(t, s.App(), http.MethodGet, "/api/orders/1/", nil, auth...)
	assert.Equal(t, http.StatusOK, r.status)
	r = call(t, s.App(), http.MethodGet, "/api/orders/2/", nil, auth...)
	assert.Equal(t, http.StatusNotFound, r.status)

	form["delivery_method"] = "courier"
	r = call(t, s.App(), http.MethodPost, "/api/orders/", form, auth...)
	assert.Contains(t, r.fields(t), "address")
}

func TestCourses(t *testing.T) {
	s := newTestServer(t, testConfig())

	r := call(t, s.App(), http.MethodGet, "/api/courses/", nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Contains(t, string(r.body), "Soil basics")

	app := map[string]any{"course": 1, "full_name": "Olga", "phone": "+79990001122"}
	r = call(t, s.App(), http.MethodPost, "/api/courses/applications/", app)
	require.Equal(t, http.StatusCreated, r.status, string(r.body))
	assert.Contains(t, string(r.body), `"status":"pending"`)

	c, err := s.state.course(1)
	require.NoError(t, err)
	assert.Equal(t, 11, c.SeatsLeft)

	app["course"] = 2
	r = call(t, s.App(), http.MethodPost, "/api/courses/applications/", app)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, []string{"No seats left on this course."}, r.fields(t)[nonFieldErrors])
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	s := newTestServer(t, cfg)

	r := call(t, s.App(), http.MethodGet, "/api/categories/", nil)
	assert.Equal(t, http.StatusOK, r.status)
	r = call(t, s.App(), http.MethodGet, "/api/categories/", nil)
	assert.Equal(t, http.StatusTooManyRequests, r.status)
	assert.Equal(t, "1", r.header.Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.throttled))

	r = call(t, s.App(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, r.status, "probes are not limited")
}

func TestInjectFault(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.InjectFault(http.MethodGet, "/api/categories/", http.StatusTooManyRequests, 2)

	for i := 0; i < 2; i++ {
		r := call(t, s.App(), http.MethodGet, "/api/categories", nil)
		assert.Equal(t, http.StatusTooManyRequests, r.status)
		assert.Equal(t, "0", r.header.Get("Retry-After"))
	}
	r := call(t, s.App(), http.MethodGet, "/api/categories/", nil)
	assert.Equal(t, http.StatusOK, r.status)
}

func TestParseSeed_UnknownCategory(t *testing.T) {
	_, err := ParseSeed([]byte("products:\n  - {id: 1, name: x, category: 9, price: \"1.00\"}\n"))
	assert.ErrorContains(t, err, "unknown category 9")
}

func TestParseSeed_BadPrice(t *testing.T) {
	_, err := ParseSeed([]byte("categories: [{id: 1, name: c}]\nproducts:\n  - {id: 1, name: x, category: 1, price: cheap}\n"))
	assert.Error(t, err)
}

func TestPasswords(t *testing.T) {
	hash, err := hashPassword("s3cret")
	require.NoError(t, err)

	ok, err := verifyPassword("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("other", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = verifyPassword("s3cret", "plain")
	assert.Error(t, err)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
