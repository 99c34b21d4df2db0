package auth

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLoginPath is the login entry point when none is configured.
const DefaultLoginPath = "/login"

// ReturnParam carries the page to return to after signing in.
const ReturnParam = "next"

// Redirector sends the user to the login entry point.
type Redirector interface {
	RedirectToLogin(ctx context.Context, loginURL string)
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(ctx context.Context, loginURL string)

func (f RedirectFunc) RedirectToLogin(ctx context.Context, loginURL string) { f(ctx, loginURL) }

// LogRedirector only logs the redirect; used by the CLI, which has no pages.
type LogRedirector struct {
	logger zerolog.Logger
}

func NewLogRedirector(logger zerolog.Logger) *LogRedirector {
	return &LogRedirector{logger: logger}
}

func (l *LogRedirector) RedirectToLogin(_ context.Context, loginURL string) {
	l.logger.Warn().Str("login_url", loginURL).Msg("session ended, sign in again")
}

type returnToKey struct{}

// WithReturnTo records the location the user is on, so a forced logout can
// bring them back after signing in.
func WithReturnTo(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, returnToKey{}, location)
}

// ReturnToFromContext returns the location set by WithReturnTo, or "".
func ReturnToFromContext(ctx context.Context) string {
	v, _ := ctx.Value(returnToKey{}).(string)
	return v
}

// LoginURL builds loginPath?next=<returnTo>. An empty returnTo or one that
// already points at the login page yields the bare login path.
func LoginURL(loginPath, returnTo string) string {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	if returnTo == "" || strings.HasPrefix(returnTo, loginPath) {
		return loginPath
	}
	sep := "?"
	if strings.Contains(loginPath, "?") {
		sep = "&"
	}
	return loginPath + sep + ReturnParam + "=" + url.QueryEscape(returnTo)
}
