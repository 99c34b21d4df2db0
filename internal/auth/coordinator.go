// Package auth coordinates access-token refresh for the API client.
//
// The Coordinator guarantees that at most one refresh request is in flight
// client-wide. Callers that hit a 401 while a refresh is running are queued
// and resumed in FIFO order with the new token, or all rejected if the
// refresh fails. A failed refresh clears the token store and sends the user
// to the login entry point.
package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/metrics"
	"github.com/p-blackswan/agrostore/pkg/tokenstore"
)

// State of the refresh state machine.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// ErrNoRefreshToken is the cause reported when a 401 arrives with no refresh
// token stored; no refresh call is made in that case.
var ErrNoRefreshToken = errors.New("no refresh token")

// pendingRequest is a caller blocked on the in-flight refresh.
type pendingRequest struct {
	resolve func(access string)
	reject  func(err error)
}

// Coordinator owns the Idle/Refreshing state and the pending queue.
type Coordinator struct {
	mu    sync.Mutex
	state State
	queue []pendingRequest

	tokens    tokenstore.Store
	refresher Refresher
	redirect  Redirector
	loginPath string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRedirector sets where the user is sent after an unrecoverable refresh failure.
func WithRedirector(r Redirector) Option {
	return func(c *Coordinator) { c.redirect = r }
}

// WithLoginPath sets the login entry point used in redirects.
func WithLoginPath(path string) Option {
	return func(c *Coordinator) { c.loginPath = path }
}

// WithMetrics records refresh outcomes and queue depth.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger.With().Str("component", "refresh_coordinator").Logger() }
}

// NewCoordinator creates a coordinator in the Idle state.
func NewCoordinator(tokens tokenstore.Store, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		tokens:    tokens,
		refresher: refresher,
		redirect:  RedirectFunc(func(context.Context, string) {}),
		loginPath: DefaultLoginPath,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued callers.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Await returns an access token newer than stale, the token the failed
// request was sent with. If another caller already refreshed since then, the
// stored token is returned without a refresh call. Otherwise the caller joins
// the current refresh, starting one if none is running. Errors are *perrors.Error
// of kind auth, network when ctx ends first, or unknown when the token store
// cannot be read.
func (c *Coordinator) Await(ctx context.Context, stale string) (string, error) {
	ch := make(chan awaitResult, 1)
	p := pendingRequest{
		resolve: func(access string) { ch <- awaitResult{access: access} },
		reject:  func(err error) { ch <- awaitResult{err: err} },
	}

	if !c.enqueue(p) {
		access, joined, err := c.begin(ctx, stale, p)
		if !joined {
			return access, err
		}
	}

	select {
	case r := <-ch:
		return r.access, r.err
	case <-ctx.Done():
		return "", perrors.FromTransport("auth.refresh", ctx.Err())
	}
}

type awaitResult struct {
	access string
	err    error
}

func (c *Coordinator) enqueueLocked(p pendingRequest) {
	c.queue = append(c.queue, p)
	c.metrics.SetRefreshQueued(len(c.queue))
}

// enqueue adds p to the running refresh. It reports false when idle.
func (c *Coordinator) enqueue(p pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRefreshing {
		return false
	}
	c.enqueueLocked(p)
	return true
}

// begin starts a refresh with p as its first caller, unless the stored token
// is already newer than stale. joined is false when the caller is answered
// without waiting.
func (c *Coordinator) begin(ctx context.Context, stale string, p pendingRequest) (access string, joined bool, err error) {
	c.mu.Lock()
	if c.state == StateRefreshing {
		c.enqueueLocked(p)
		c.mu.Unlock()
		return "", true, nil
	}
	pair, err := c.tokens.Get(ctx)
	if err != nil && !errors.Is(err, tokenstore.ErrNoTokens) {
		c.mu.Unlock()
		return "", false, &perrors.Error{Kind: perrors.KindUnknown, Op: "auth.refresh", Message: "reading tokens", Err: err}
	}
	if pair.Access != "" && pair.Access != stale {
		c.mu.Unlock()
		return pair.Access, false, nil
	}
	c.state = StateRefreshing
	c.enqueueLocked(p)
	c.mu.Unlock()

	c.logger.Debug().Msg("starting token refresh")
	// Detached so a cancelled leader does not fail the queued callers.
	go c.run(context.WithoutCancel(ctx), pair.Refresh, ReturnToFromContext(ctx))
	return "", true, nil
}

func (c *Coordinator) run(ctx context.Context, refreshToken, returnTo string) {
	if refreshToken == "" {
		c.metrics.RecordRefresh("skipped")
		c.fail(ctx, ErrNoRefreshToken, returnTo)
		return
	}

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		c.metrics.RecordRefresh("failure")
		c.fail(ctx, err, returnTo)
		return
	}
	if pair.Refresh == "" {
		pair.Refresh = refreshToken
	}
	if err := c.tokens.Set(ctx, pair); err != nil {
		c.metrics.RecordRefresh("failure")
		c.fail(ctx, err, returnTo)
		return
	}
	c.metrics.RecordRefresh("success")

	queue := c.settle()
	c.logger.Info().Int("resumed", len(queue)).Msg("token refreshed")
	for _, p := range queue {
		p.resolve(pair.Access)
	}
}

func (c *Coordinator) fail(ctx context.Context, cause error, returnTo string) {
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear tokens after refresh failure")
	}

	authErr := &perrors.Error{
		Kind:    perrors.KindAuth,
		Op:      "auth.refresh",
		Message: "session expired",
		Err:     cause,
	}
	c.redirect.RedirectToLogin(ctx, LoginURL(c.loginPath, returnTo))

	queue := c.settle()
	c.logger.Warn().Err(cause).Int("rejected", len(queue)).Msg("token refresh failed, logging out")
	for _, p := range queue {
		p.reject(authErr)
	}
}

// settle returns to Idle and hands back the queue in arrival order.
func (c *Coordinator) settle() []pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.queue
	c.queue = nil
	c.state = StateIdle
	c.metrics.SetRefreshQueued(0)
	return queue
}
