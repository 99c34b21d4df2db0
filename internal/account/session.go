// Package account implements sign-in, registration, sign-out and the user
// profile on top of the API client.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/agrostore/internal/api"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/store"
	"github.com/p-blackswan/agrostore/internal/validate"
	"github.com/p-blackswan/agrostore/pkg/tokenstore"
)

// Endpoints.
const (
	LoginPath    = "/auth/token/"
	RegisterPath = "/auth/register/"
	LogoutPath   = "/auth/logout/"
	ProfilePath  = "/auth/me/"
)

// State database keys.
const (
	KeyProfile    = "account.profile"
	KeySessionKey = "account.session_key"
)

// Credentials is the sign-in form.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration is the sign-up form.
type Registration struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	FirstName       string `json:"first_name" validate:"required,max=150"`
	LastName        string `json:"last_name,omitempty" validate:"max=150"`
	Phone           string `json:"phone,omitempty" validate:"omitempty,e164"`
}

// Profile is the signed-in user.
type Profile struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Session manages the signed-in state. It also supplies the anonymous
// session key the backend uses to keep a guest cart.
type Session struct {
	client     *api.Client
	tokens     tokenstore.Store
	db         *store.Store
	validator  *validate.Validator
	profileTTL time.Duration
	logger     zerolog.Logger

	mu         sync.Mutex
	sessionKey string
}

// NewSession creates a session manager. db holds the cached profile and the
// session key.
func NewSession(client *api.Client, tokens tokenstore.Store, db *store.Store, profileTTL time.Duration, logger zerolog.Logger) *Session {
	return &Session{
		client:     client,
		tokens:     tokens,
		db:         db,
		validator:  validate.New(),
		profileTTL: profileTTL,
		logger:     logger.With().Str("component", "account").Logger(),
	}
}

// SetClient attaches the API client. The client itself reads the session key
// from s, so the two are wired after construction.
func (s *Session) SetClient(c *api.Client) {
	s.client = c
}

// Login exchanges credentials for a token pair and stores it.
func (s *Session) Login(ctx context.Context, creds Credentials) error {
	const op = "account.login"
	if err := s.validator.Struct(op, creds); err != nil {
		return err
	}
	return s.authenticate(ctx, op, LoginPath, creds)
}

// Register creates an account and signs in with the returned tokens.
func (s *Session) Register(ctx context.Context, reg Registration) error {
	const op = "account.register"
	if err := s.validator.Struct(op, reg); err != nil {
		return err
	}
	return s.authenticate(ctx, op, RegisterPath, reg)
}

func (s *Session) authenticate(ctx context.Context, op, path string, body any) error {
	var pair tokenstore.TokenPair
	req := api.Request{Method: http.MethodPost, Path: path, Body: body, Anonymous: true}
	if err := s.client.Do(ctx, op, req, &pair); err != nil {
		return err
	}
	if pair.Access == "" {
		return perrors.New(perrors.KindUnknown, op, "response without access token")
	}
	if err := s.tokens.Set(ctx, pair); err != nil {
		return fmt.Errorf("storing tokens: %w", err)
	}
	if err := s.db.Delete(ctx, KeyProfile); err != nil {
		s.logger.Warn().Err(err).Msg("failed to drop cached profile")
	}
	s.logger.Info().Str("op", op).Msg("signed in")
	return nil
}

// Logout tells the backend to blacklist the refresh token, then forgets the
// tokens and the cached profile whatever the backend answered.
func (s *Session) Logout(ctx context.Context) error {
	const op = "account.logout"
	pair, err := s.tokens.Get(ctx)
	if errors.Is(err, tokenstore.ErrNoTokens) {
		return s.forget(ctx)
	}
	if err != nil {
		return fmt.Errorf("reading tokens: %w", err)
	}

	if pair.Refresh != "" {
		// Anonymous so a dead session signs out without a refresh attempt.
		req := api.Request{Method: http.MethodPost, Path: LogoutPath, Body: map[string]string{"refresh": pair.Refresh}, Anonymous: true}
		if err := s.client.Do(ctx, op, req, nil); err != nil {
			s.logger.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}
	return s.forget(ctx)
}

func (s *Session) forget(ctx context.Context) error {
	if err := s.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	if err := s.db.Delete(ctx, KeyProfile); err != nil {
		return fmt.Errorf("clearing profile: %w", err)
	}
	s.logger.Info().Msg("signed out")
	return nil
}

// LoggedIn reports whether a token pair is stored.
func (s *Session) LoggedIn(ctx context.Context) bool {
	_, err := s.tokens.Get(ctx)
	return err == nil
}

// Profile returns the signed-in user, from the state database when cached.
func (s *Session) Profile(ctx context.Context) (Profile, error) {
	const op = "account.profile"
	if !s.LoggedIn(ctx) {
		return Profile{}, perrors.New(perrors.KindAuth, op, "not signed in")
	}

	if raw, err := s.db.Get(ctx, KeyProfile); err == nil {
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return p, nil
		}
		s.logger.Warn().Msg("discarding unreadable cached profile")
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn().Err(err).Msg("reading cached profile")
	}

	var p Profile
	if err := s.client.Do(ctx, op, api.Request{Method: http.MethodGet, Path: ProfilePath}, &p); err != nil {
		return Profile{}, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return p, nil
	}
	if err := s.db.Set(ctx, KeyProfile, string(data), s.profileTTL); err != nil {
		s.logger.Warn().Err(err).Msg("caching profile")
	}
	return p, nil
}

// SessionKey returns the persistent anonymous session key, creating it on
// first use.
func (s *Session) SessionKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionKey != "" {
		return s.sessionKey, nil
	}

	key, err := s.db.Get(ctx, KeySessionKey)
	if errors.Is(err, store.ErrNotFound) {
		key = uuid.NewString()
		if err := s.db.Set(ctx, KeySessionKey, key, 0); err != nil {
			return "", fmt.Errorf("saving session key: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("reading session key: %w", err)
	}
	s.sessionKey = key
	return key, nil
}
