package devbackend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/agrostore/internal/account"
	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/auth"
	"github.com/p-blackswan/agrostore/internal/cart"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/favorites"
	"github.com/p-blackswan/agrostore/internal/notify"
	"github.com/p-blackswan/agrostore/internal/retry"
	"github.com/p-blackswan/agrostore/internal/store"
	"github.com/p-blackswan/agrostore/pkg/tokenstore"
)

// stack is a storefront client wired the way cmd/storefront wires it,
// talking to a listening dev backend.
type stack struct {
	srv       *Server
	client    *api.Client
	tokens    *tokenstore.MemoryStore
	session   *account.Session
	recorder  *notify.Recorder
	redirects chan string
}

func newStack(t *testing.T, cfg Config) *stack {
	t.Helper()
	srv := newTestServer(t, cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.App().Listener(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	base := "http://" + ln.Addr().String() + APIPrefix

	db, err := store.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens := tokenstore.NewMemoryStore()
	redirects := make(chan string, 8)
	coord := auth.NewCoordinator(tokens, auth.NewHTTPRefresher(base, 2*time.Second),
		auth.WithRedirector(auth.RedirectFunc(func(_ context.Context, u string) { redirects <- u })))
	session := account.NewSession(nil, tokens, db, time.Minute, zerolog.Nop())
	client := api.NewClient(api.Config{
		BaseURL: base,
		Timeout: 2 * time.Second,
		Retry:   retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, tokens, coord, zerolog.Nop(), api.WithSessionKeys(session))
	session.SetClient(client)

	return &stack{
		srv:       srv,
		client:    client,
		tokens:    tokens,
		session:   session,
		recorder:  notify.NewRecorder(16, nil),
		redirects: redirects,
	}
}

func (s *stack) login(t *testing.T) {
	t.Helper()
	require.NoError(t, s.session.Login(context.Background(), account.Credentials{Email: demoEmail, Password: demoPassword}))
}

func (s *stack) refreshes() float64 {
	return testutil.ToFloat64(s.srv.metrics.tokens.WithLabelValues("refresh"))
}

func TestE2E_ExpiredAccessRefreshesOnceForConcurrentCalls(t *testing.T) {
	st := newStack(t, testConfig())
	st.login(t)
	ctx := context.Background()

	st.srv.tokens.advance(10 * time.Minute)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.client.Do(ctx, "me", api.Request{Method: http.MethodGet, Path: account.ProfilePath}, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1.0, st.refreshes())

	p, err := st.session.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Demo Farmer", p.FullName())
}

func TestE2E_RevokedRefreshLogsOut(t *testing.T) {
	st := newStack(t, testConfig())
	st.login(t)
	ctx := context.Background()

	pair, err := st.tokens.Get(ctx)
	require.NoError(t, err)
	cl, err := st.srv.tokens.parse(pair.Refresh, tokenRefresh)
	require.NoError(t, err)
	st.srv.tokens.revoke(cl)
	st.srv.tokens.advance(10 * time.Minute)

	_, err = favorites.NewAPI(st.client).List(auth.WithReturnTo(ctx, "/favorites"))
	assert.ErrorIs(t, err, perrors.ErrAuth)

	select {
	case u := <-st.redirects:
		assert.Equal(t, "/login?next=%2Ffavorites", u)
	case <-time.After(time.Second):
		t.Fatal("no login redirect")
	}
	_, err = st.tokens.Get(ctx)
	assert.ErrorIs(t, err, tokenstore.ErrNoTokens)
	assert.False(t, st.session.LoggedIn(ctx))
}

func TestE2E_RotatedRefreshIsStored(t *testing.T) {
	cfg := testConfig()
	cfg.RotateRefresh = true
	st := newStack(t, cfg)
	st.login(t)
	ctx := context.Background()

	before, err := st.tokens.Get(ctx)
	require.NoError(t, err)
	st.srv.tokens.advance(10 * time.Minute)

	_, err = st.session.Profile(ctx)
	require.NoError(t, err)

	after, err := st.tokens.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.Refresh, after.Refresh)
}

func TestE2E_GuestCartFollowsLogin(t *testing.T) {
	st := newStack(t, testConfig())
	ctx := context.Background()
	c := cart.NewContainer(cart.NewAPI(st.client), nil, cart.WithNotifier(st.recorder))

	_, err := c.Add(ctx, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Count())

	st.login(t)
	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalItems)
	assert.Equal(t, "210.00", got.TotalPrice.String())
}

func TestE2E_RateLimitedAddRollsBack(t *testing.T) {
	st := newStack(t, testConfig())
	st.login(t)
	ctx := context.Background()
	c := cart.NewContainer(cart.NewAPI(st.client), nil, cart.WithNotifier(st.recorder))

	_, err := c.Add(ctx, 1, 1)
	require.NoError(t, err)
	before := c.Snapshot()
	st.recorder.Drain()

	st.srv.InjectFault(http.MethodPost, APIPrefix+"/cart/items/", http.StatusTooManyRequests, 3)
	_, err = c.Add(ctx, 2, 1)
	assert.ErrorIs(t, err, perrors.ErrRateLimit)
	assert.Equal(t, before, c.Snapshot())

	notes := st.recorder.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, perrors.KindRateLimit, notes[0].Kind)
}

func TestE2E_StockErrorSurfacesFields(t *testing.T) {
	st := newStack(t, testConfig())
	ctx := context.Background()
	c := cart.NewContainer(cart.NewAPI(st.client), nil, cart.WithNotifier(st.recorder))

	_, err := c.Add(ctx, 5, 4)
	assert.ErrorIs(t, err, perrors.ErrValidation)
	assert.Equal(t, []string{"Only 3 left in stock."}, perrors.FieldErrors(err)["quantity"])
	assert.Equal(t, 0, c.Count())
}

func TestE2E_FavoriteToggle(t *testing.T) {
	st := newStack(t, testConfig())
	st.login(t)
	ctx := context.Background()
	f := favorites.NewContainer(favorites.NewAPI(st.client), nil, favorites.WithNotifier(st.recorder))

	s, err := f.Toggle(ctx, 4)
	require.NoError(t, err)
	assert.True(t, s.IsFavorited)
	assert.NotZero(t, s.FavoriteID)

	s, err = f.Toggle(ctx, 4)
	require.NoError(t, err)
	assert.False(t, s.IsFavorited)

	list, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestE2E_AnonymousFavoritesNeedLogin(t *testing.T) {
	st := newStack(t, testConfig())
	ctx := context.Background()

	_, err := favorites.NewAPI(st.client).List(ctx)
	assert.True(t, errors.Is(err, perrors.ErrAuth))
	assert.Equal(t, 0.0, st.refreshes(), "no tokens, so nothing to refresh")
}
