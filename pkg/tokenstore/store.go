// Package tokenstore holds the client's access/refresh token pair.
package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoTokens is returned by Get when no pair is stored.
var ErrNoTokens = errors.New("no tokens stored")

// TokenPair is the credential pair issued on login, registration or refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Empty reports whether neither token is set.
func (p TokenPair) Empty() bool {
	return p.Access == "" && p.Refresh == ""
}

// AccessExpiry reads the exp claim of the access token without verifying its
// signature. ok is false when the token is not a JWT or carries no exp.
func (p TokenPair) AccessExpiry() (exp time.Time, ok bool) {
	if p.Access == "" {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.Access, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// AccessExpired reports whether the access token is known to be expired at now,
// allowing for leeway of clock skew.
func (p TokenPair) AccessExpired(now time.Time, leeway time.Duration) bool {
	exp, ok := p.AccessExpiry()
	return ok && !now.Add(leeway).Before(exp)
}

// Store defines the token storage interface. There is no validation of
// token contents; writes replace the pair wholesale.
type Store interface {
	// Get returns the stored pair or ErrNoTokens.
	Get(ctx context.Context) (TokenPair, error)
	// Set replaces the stored pair.
	Set(ctx context.Context, pair TokenPair) error
	// Clear removes the pair.
	Clear(ctx context.Context) error
}
