package devbackend

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var errTokenRevoked = errors.New("token is blacklisted")

// claims mirror what the storefront's auth backend puts in its JWTs.
type claims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"`
}

// issuer signs and verifies HS256 tokens. Revoked refresh tokens are kept
// until they would have expired anyway.
type issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	revoked    *cache.Cache
	skew       atomic.Int64
}

func newIssuer(secret string, accessTTL, refreshTTL time.Duration) *issuer {
	return &issuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		revoked:    cache.New(refreshTTL, 10*time.Minute),
	}
}

func (i *issuer) now() time.Time {
	return time.Now().Add(time.Duration(i.skew.Load()))
}

// advance moves the issuer's clock, expiring tokens early.
func (i *issuer) advance(d time.Duration) {
	i.skew.Add(int64(d))
}

func (i *issuer) pair(userID int64) (access, refresh string, err error) {
	if access, err = i.issue(userID, tokenAccess, i.accessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = i.issue(userID, tokenRefresh, i.refreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (i *issuer) issue(userID int64, typ string, ttl time.Duration) (string, error) {
	now := i.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    userID,
		TokenType: typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, nil
}

func (i *issuer) parse(token, typ string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if c.TokenType != typ {
		return nil, fmt.Errorf("expected %s token, got %q", typ, c.TokenType)
	}
	if _, found := i.revoked.Get(c.ID); found {
		return nil, errTokenRevoked
	}
	return &c, nil
}

func (i *issuer) revoke(c *claims) {
	ttl := c.ExpiresAt.Sub(i.now())
	if ttl <= 0 {
		return
	}
	i.revoked.Set(c.ID, struct{}{}, ttl)
}
