package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/agrostore/internal/account"
	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/auth"
	"github.com/p-blackswan/agrostore/internal/cart"
	"github.com/p-blackswan/agrostore/internal/catalog"
	"github.com/p-blackswan/agrostore/internal/config"
	"github.com/p-blackswan/agrostore/internal/courses"
	"github.com/p-blackswan/agrostore/internal/favorites"
	"github.com/p-blackswan/agrostore/internal/health"
	"github.com/p-blackswan/agrostore/internal/metrics"
	"github.com/p-blackswan/agrostore/internal/notify"
	"github.com/p-blackswan/agrostore/internal/orders"
	"github.com/p-blackswan/agrostore/internal/retry"
	"github.com/p-blackswan/agrostore/internal/store"
	"github.com/p-blackswan/agrostore/pkg/tokenstore"
)

// environment is everything a command needs, built once per invocation.
type environment struct {
	ctx    context.Context
	stop   context.CancelFunc
	cfg    *config.Config
	logger zerolog.Logger
	w      io.Writer
	e      io.Writer
	json   bool

	db        *store.Store
	metrics   *metrics.Metrics
	recorder  *notify.Recorder
	session   *account.Session
	client    *api.Client
	catalog   *catalog.Catalog
	cart      *cart.Container
	favorites *favorites.Container
	orders    *orders.Service
	courses   *courses.Service
	health    *health.Checker
}

func newLogger(cfg *config.Config, e io.Writer, verbose bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(e).With().Timestamp().Logger()
	if cfg.Development() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: e})
	}
	log.Logger = logger

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return logger.Level(level)
}

func newEnvironment(w, e io.Writer, verbose, asJSON bool) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, e, verbose)

	db, err := store.New(cfg.StateDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if _, err := db.RunRetention(ctx); err != nil {
		logger.Warn().Err(err).Msg("state retention failed")
	}

	m := metrics.New()
	recorder := notify.NewRecorder(cfg.NotificationBuffer, m)
	var notifier notify.Notifier = recorder
	if verbose {
		notifier = notify.NewMultiNotifier(recorder, notify.NewLogNotifier(logger))
	}

	tokens := tokenstore.NewPersistentStore(db)
	coord := auth.NewCoordinator(tokens, auth.NewHTTPRefresher(cfg.APIBaseURL, cfg.APITimeout),
		auth.WithRedirector(loginPrompt(e, logger)),
		auth.WithLoginPath(cfg.LoginPath),
		auth.WithMetrics(m),
		auth.WithLogger(logger),
	)

	session := account.NewSession(nil, tokens, db, cfg.ProfileCacheTTL, logger)
	client := api.NewClient(api.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Retry: retry.Config{
			MaxAttempts: cfg.RateLimitAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		RefreshLeeway: cfg.RefreshLeeway,
	}, tokens, coord, logger, api.WithSessionKeys(session), api.WithMetrics(m))
	session.SetClient(client)

	products := catalog.New(client, cfg.CatalogCacheSize, cfg.CatalogCacheTTL, logger)
	cartC := cart.NewContainer(cart.NewAPI(client), m,
		cart.WithNotifier(notifier),
		cart.WithProducts(products),
		cart.WithMaxQuantity(cfg.MaxCartQuantity),
		cart.WithLogger(logger),
	)

	checker := health.NewChecker(logger)
	checker.SetTimeout(cfg.APITimeout)
	checker.Register("api", health.HTTPCheck(&http.Client{Timeout: cfg.APITimeout}, cfg.APIBaseURL+"/categories/"))
	checker.Register("state", health.PingCheck(db))

	return &environment{
		ctx:       ctx,
		stop:      stop,
		cfg:       cfg,
		logger:    logger,
		w:         w,
		e:         e,
		json:      asJSON,
		db:        db,
		metrics:   m,
		recorder:  recorder,
		session:   session,
		client:    client,
		catalog:   products,
		cart:      cartC,
		favorites: favorites.NewContainer(favorites.NewAPI(client), m, favorites.WithNotifier(notifier), favorites.WithLogger(logger)),
		orders:    orders.NewService(client, cartC, notifier, logger),
		courses:   courses.NewService(client, notifier, logger),
		health:    checker,
	}, nil
}

// at returns the command context, tagged with the location a login
// redirect should send the user back to.
func (env *environment) at(location string) context.Context {
	return auth.WithReturnTo(env.ctx, location)
}

// close prints pending notifications, writes the metrics textfile and
// releases the state database.
func (env *environment) close() error {
	defer env.stop()
	printNotifications(env.e, env.recorder.Drain())

	var errs []error
	if env.cfg.MetricsFile != "" {
		if err := env.metrics.WriteTextfile(env.cfg.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	if err := env.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing state database: %w", err))
	}
	return errors.Join(errs...)
}

// loginPrompt tells the user to sign in again when the session cannot be
// refreshed.
func loginPrompt(e io.Writer, logger zerolog.Logger) auth.Redirector {
	return auth.RedirectFunc(func(_ context.Context, loginURL string) {
		logger.Debug().Str("login_url", loginURL).Msg("session ended")
		fmt.Fprintf(e, "Your session has ended. Sign in again with: storefront login (%s)\n", loginURL)
	})
}
