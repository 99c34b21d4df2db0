// Package health runs named dependency checks: API reachability and the
// local state database for the CLI, and the seed data for the dev backend.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Status represents the health of one dependency or of all of them.
type Status string

const (
	StatusOK   Status = "ok"
	StatusDown Status = "down"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// CheckFunc reports a dependency problem as an error.
type CheckFunc func(ctx context.Context) error

// Result is the outcome of one check.
type Result struct {
	Status  Status        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Report aggregates all checks.
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]Result `json:"checks"`
}

// Names returns the check names in sorted order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for n := range r.Checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Checker manages named health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a checker with no checks.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: DefaultTimeout,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// SetTimeout changes the per-check timeout.
func (c *Checker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.timeout = d
	}
}

// Register adds a named health check, replacing one with the same name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Run executes all checks concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	timeout := c.timeout
	c.mu.RUnlock()

	report := Report{Status: StatusOK, Checks: make(map[string]Result, len(checks))}
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := f(checkCtx)
			res := Result{Status: StatusOK, Latency: time.Since(start)}
			if err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
				c.logger.Warn().Err(err).Str("check", n).Msg("health check failed")
			}

			mu.Lock()
			report.Checks[n] = res
			if res.Status == StatusDown {
				report.Status = StatusDown
			}
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()
	return report
}

// Ready reports whether every check passes.
func (c *Checker) Ready(ctx context.Context) bool {
	return c.Run(ctx).Status == StatusOK
}

// Pinger is satisfied by the state database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a database-like dependency.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// Doer abstracts HTTP calls for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPCheck issues GET url and expects a status below 500. A 4xx still
// proves the server is up.
func HTTPCheck(hc Doer, url string) CheckFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}

// Handler serves the report as JSON: 200 when ready, 503 otherwise.
func (c *Checker) Handler() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		report := c.Run(ctx.UserContext())
		code := fiber.StatusOK
		if report.Status != StatusOK {
			code = fiber.StatusServiceUnavailable
		}
		return ctx.Status(code).JSON(report)
	}
}
