// Package devbackend is an in-memory stand-in for the storefront REST API.
// It issues real JWTs with short lifetimes and rate-limits clients, so the
// refresh and backoff paths of the client can be exercised locally.
package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/agrostore/internal/config"
	"github.com/p-blackswan/agrostore/internal/health"
	"github.com/p-blackswan/agrostore/internal/validate"
)

// APIPrefix is where the REST API is mounted; clients use
// http://host/api as their base URL.
const APIPrefix = "/api"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Config holds backend behavior.
type Config struct {
	SigningSecret  string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	RotateRefresh  bool
	RateLimitRPS   int // 0 disables rate limiting
	RateLimitBurst int
	GuestCartTTL   time.Duration
}

// ConfigFrom maps the environment configuration.
func ConfigFrom(c config.DevBackend) Config {
	return Config{
		SigningSecret:  c.SigningSecret,
		AccessTTL:      c.AccessTTL,
		RefreshTTL:     c.RefreshTTL,
		RotateRefresh:  c.RotateRefresh,
		RateLimitRPS:   c.RateLimitRPS,
		RateLimitBurst: c.RateLimitBurst,
		GuestCartTTL:   c.GuestCartTTL,
	}
}

// Server is the dev backend Fiber application.
type Server struct {
	app       *fiber.App
	state     *state
	tokens    *issuer
	faults    *faults
	metrics   *backendMetrics
	checker   *health.Checker
	validator *validate.Validator
	config    Config
	logger    zerolog.Logger
}

// NewServer builds the backend around seed.
func NewServer(cfg Config, seed Seed, logger zerolog.Logger) (*Server, error) {
	if cfg.SigningSecret == "" {
		return nil, errors.New("signing secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.GuestCartTTL <= 0 {
		cfg.GuestCartTTL = 7 * 24 * time.Hour
	}
	if cfg.RateLimitBurst < cfg.RateLimitRPS {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}

	st, err := newState(seed, cfg.GuestCartTTL)
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "devbackend").Logger()
	s := &Server{
		state:     st,
		tokens:    newIssuer(cfg.SigningSecret, cfg.AccessTTL, cfg.RefreshTTL),
		faults:    &faults{},
		metrics:   newBackendMetrics(),
		checker:   health.NewChecker(logger),
		validator: validate.New(),
		config:    cfg,
		logger:    logger,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s.checker.Register("seed", func(context.Context) error {
		if len(s.state.listCategories()) == 0 {
			return errors.New("catalog has no categories")
		}
		return nil
	})
	s.checker.Register("tokens", func(context.Context) error {
		tok, err := s.tokens.issue(0, tokenAccess, time.Minute)
		if err != nil {
			return err
		}
		_, err = s.tokens.parse(tok, tokenAccess)
		return err
	})

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestIDMiddleware())
	s.app.Use(accessLog(s.logger, s.metrics))
	s.app.Use(s.faults.middleware())
	if s.config.RateLimitRPS > 0 {
		s.app.Use(newRateLimitMiddleware(s.config.RateLimitRPS, s.config.RateLimitBurst, s.metrics))
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.checker.Handler())
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	optional := s.authenticate(false)
	required := s.authenticate(true)

	v := s.app.Group(APIPrefix)

	v.Post("/auth/token", s.obtainToken)
	v.Post("/auth/token/refresh", s.refreshToken)
	v.Post("/auth/register", s.register)
	v.Post("/auth/logout", s.logout)
	v.Get("/auth/me", required, s.me)

	v.Get("/categories", s.listCategories)
	v.Get("/products", s.listProducts)
	v.Get("/products/:id", s.getProduct)

	v.Get("/cart", optional, s.getCart)
	v.Delete("/cart", optional, s.clearCart)
	v.Post("/cart/items", optional, s.addCartItem)
	v.Patch("/cart/items/:id", optional, s.updateCartItem)
	v.Delete("/cart/items/:id", optional, s.removeCartItem)

	v.Get("/favorites", required, s.listFavorites)
	v.Post("/favorites", required, s.addFavorite)
	v.Get("/favorites/check/:product", required, s.checkFavorite)
	v.Delete("/favorites/:id", required, s.removeFavorite)

	v.Get("/orders", required, s.listOrders)
	v.Post("/orders", required, s.checkout)
	v.Get("/orders/:id", required, s.getOrder)

	v.Get("/courses", s.listCourses)
	v.Get("/courses/:id", s.getCourse)
	v.Post("/courses/applications", optional, s.applyToCourse)
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "A server error occurred."
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Str("request_id", requestIDOf(c)).Msg("request failed")
	}
	return detail(c, code, msg)
}

// App exposes the Fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Checker returns the backend's health checks.
func (s *Server) Checker() *health.Checker {
	return s.checker
}

// InjectFault makes the next times requests to method path answer status.
func (s *Server) InjectFault(method, path string, status, times int) {
	s.faults.add(method, path, status, times)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("dev backend listening")
	if err := s.app.Listen(addr); err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
