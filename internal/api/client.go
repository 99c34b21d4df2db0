// Package api is the storefront's HTTP client. Every request carries the
// current bearer token; a 401 is recovered once through the refresh
// coordinator, a 429 is retried with backoff, and every failure leaves this
// package as a *perrors.Error.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/agrostore/internal/auth"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/metrics"
	"github.com/p-blackswan/agrostore/internal/requestid"
	"github.com/p-blackswan/agrostore/internal/retry"
	"github.com/p-blackswan/agrostore/pkg/tokenstore"
)

// SessionKeyHeader identifies an anonymous cart.
const SessionKeyHeader = "X-Session-Key"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionKeySource supplies the anonymous session key sent with every request.
type SessionKeySource interface {
	SessionKey(ctx context.Context) (string, error)
}

// Request describes one API call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// Anonymous requests are sent without a bearer token and never trigger a
	// refresh (login, registration).
	Anonymous bool
}

// Config holds client settings.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	Retry         retry.Config
	RefreshLeeway time.Duration
}

// Client wraps the storefront REST API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient HTTPClient
	tokens     tokenstore.Store
	coord      *auth.Coordinator
	sessions   SessionKeySource
	retry      retry.Config
	leeway     time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSessionKeys attaches the anonymous session key to requests.
func WithSessionKeys(s SessionKeySource) Option {
	return func(c *Client) { c.sessions = s }
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new API client.
func NewClient(cfg Config, tokens tokenstore.Store, coord *auth.Coordinator, logger zerolog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		coord:      coord,
		retry:      cfg.Retry,
		leeway:     cfg.RefreshLeeway,
		now:        time.Now,
		logger:     logger.With().Str("component", "api_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the token store the client reads from.
func (c *Client) Tokens() tokenstore.Store {
	return c.tokens
}

// Do executes req and decodes a JSON response into out (which may be nil).
// op names the operation in errors and logs, e.g. "cart.add".
func (c *Client) Do(ctx context.Context, op string, req Request, out any) error {
	// Pin one request id across the 429 retries and the post-refresh replay.
	ctx = requestid.WithRequestID(ctx, requestid.FromContext(ctx))
	return c.doAuthed(ctx, op, req, out)
}

func (c *Client) doAuthed(ctx context.Context, op string, req Request, out any) error {
	if req.Anonymous {
		return c.sendRetrying(ctx, op, req, "", out)
	}

	access, err := c.accessToken(ctx, op)
	if err != nil {
		return err
	}

	err = c.sendRetrying(ctx, op, req, access, out)
	if perrors.KindOf(err) != perrors.KindAuth || c.coord == nil {
		return err
	}

	c.logger.Debug().Str("op", op).Msg("unauthorized, waiting for token refresh")
	fresh, rerr := c.coord.Await(ctx, access)
	if rerr != nil {
		return rerr
	}
	// Replayed once; whatever this returns is final.
	return c.sendRetrying(ctx, op, req, fresh, out)
}

// sendRetrying sends with one bearer token, retrying rate-limited responses.
// A 401 ends the loop at once so a request never refreshes more than once.
func (c *Client) sendRetrying(ctx context.Context, op string, req Request, access string, out any) error {
	attempt := 0
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.metrics.RecordRateLimitRetry()
			c.logger.Debug().Str("op", op).Int("attempt", attempt).Msg("retrying after rate limit")
		}
		return c.send(ctx, op, req, access, out)
	})
	if err != nil {
		// Cancellation during a backoff surfaces as a bare context error.
		return perrors.FromTransport(op, err)
	}
	return nil
}

// accessToken returns the stored access token, refreshing first when its exp
// claim says it is already expired and a refresh token is available.
func (c *Client) accessToken(ctx context.Context, op string) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	pair, err := c.tokens.Get(ctx)
	if errors.Is(err, tokenstore.ErrNoTokens) {
		return "", nil
	}
	if err != nil {
		return "", &perrors.Error{Kind: perrors.KindUnknown, Op: op, Message: "reading tokens", Err: err}
	}
	if c.coord != nil && pair.Refresh != "" && pair.AccessExpired(c.now(), c.leeway) {
		c.logger.Debug().Str("op", op).Msg("access token expired, refreshing before send")
		return c.coord.Await(ctx, pair.Access)
	}
	return pair.Access, nil
}

func (c *Client) send(ctx context.Context, op string, req Request, access string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req, access)
	if err != nil {
		return &perrors.Error{Kind: perrors.KindUnknown, Op: op, Message: "building request", Err: err}
	}
	reqID := requestid.Apply(httpReq)

	start := c.now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordRequest(req.Method, "network", time.Since(start).Seconds())
		c.logger.Warn().Err(err).Str("op", op).Str("request_id", reqID).Msg("request failed without response")
		return perrors.FromTransport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.RecordRequest(req.Method, statusClass(resp.StatusCode), time.Since(start).Seconds())
	if err != nil {
		return perrors.FromTransport(op, err)
	}

	c.logger.Debug().
		Str("op", op).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Str("request_id", reqID).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return perrors.FromResponse(op, resp.StatusCode, resp.Header, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &perrors.Error{Kind: perrors.KindUnknown, Op: op, StatusCode: resp.StatusCode, Message: "decoding response", Err: err}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request, access string) (*http.Request, error) {
	u := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}
	if c.sessions != nil {
		key, err := c.sessions.SessionKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("session key: %w", err)
		}
		if key != "" {
			httpReq.Header.Set(SessionKeyHeader, key)
		}
	}
	return httpReq, nil
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
