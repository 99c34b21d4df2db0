package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/pkg/tokenstore"
)

// RefreshPath is the backend's token refresh endpoint.
const RefreshPath = "/auth/token/refresh/"

// Refresher exchanges a refresh token for a new pair. A response without a
// refresh token keeps the old one.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error)
}

// Doer abstracts HTTP calls for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPRefresher calls the refresh endpoint directly, bypassing the
// intercepting client so a 401 here can never recurse into another refresh.
type HTTPRefresher struct {
	baseURL    string
	httpClient Doer
}

// NewHTTPRefresher creates a refresher against baseURL.
func NewHTTPRefresher(baseURL string, timeout time.Duration) *HTTPRefresher {
	return &HTTPRefresher{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (r *HTTPRefresher) SetHTTPClient(hc Doer) {
	r.httpClient = hc
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error) {
	const op = "auth.refresh"

	body, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("encoding refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+RefreshPath, bytes.NewReader(body))
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return tokenstore.TokenPair{}, perrors.FromTransport(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenstore.TokenPair{}, perrors.FromTransport(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokenstore.TokenPair{}, perrors.FromResponse(op, resp.StatusCode, resp.Header, respBody)
	}

	var pair tokenstore.TokenPair
	if err := json.Unmarshal(respBody, &pair); err != nil {
		return tokenstore.TokenPair{}, &perrors.Error{Kind: perrors.KindUnknown, Op: op, Message: "malformed refresh response", Err: err}
	}
	if pair.Access == "" {
		return tokenstore.TokenPair{}, perrors.New(perrors.KindUnknown, op, "refresh response without access token")
	}
	return pair, nil
}
