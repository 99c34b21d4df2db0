package devbackend

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/requestid"
)

const (
	localUserID    = "user_id"
	localRequestID = "request_id"
)

func isProbe(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// requestIDMiddleware keeps the caller's X-Request-ID so client logs and
// backend logs correlate, and assigns one otherwise.
func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestid.Header)
		if id == "" {
			_, id = requestid.New(c.UserContext())
		}
		c.Set(requestid.Header, id)
		c.Locals(localRequestID, id)
		c.SetUserContext(requestid.WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}

// accessLog logs every API request and records it in metrics.
func accessLog(logger zerolog.Logger, m *backendMetrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		path := c.Path()
		if isProbe(path) {
			return err
		}
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		m.observe(c.Method(), status, time.Since(start))
		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Str("ip", c.IP()).
			Str("request_id", requestIDOf(c)).
			Dur("took", time.Since(start)).
			Msg("request")
		return err
	}
}

func requestIDOf(c *fiber.Ctx) string {
	id, _ := c.Locals(localRequestID).(string)
	return id
}

// newRateLimitMiddleware keeps one token bucket per client. Idle buckets
// expire out of the cache.
func newRateLimitMiddleware(rps, burst int, m *backendMetrics) fiber.Handler {
	limiters := cache.New(10*time.Minute, 5*time.Minute)
	var mu sync.Mutex

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if v, ok := limiters.Get(key); ok {
			limiters.SetDefault(key, v)
			return v.(*rate.Limiter)
		}
		l := rate.NewLimiter(rate.Limit(rps), burst)
		limiters.SetDefault(key, l)
		return l
	}

	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		key := c.IP()
		if sk := c.Get(api.SessionKeyHeader); sk != "" {
			key += "|" + sk
		}
		// fasthttp reuses header buffers after the handler returns.
		r := limiterFor(strings.Clone(key)).Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			m.throttled.Inc()
			return throttle(c, d)
		}
		return c.Next()
	}
}

func throttle(c *fiber.Ctx, wait time.Duration) error {
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	return detail(c, fiber.StatusTooManyRequests, "Request was throttled.")
}

// fault makes the next matching requests fail with a fixed status.
type fault struct {
	method    string
	path      string
	status    int
	remaining int
}

type faults struct {
	mu   sync.Mutex
	list []*fault
}

func (f *faults) add(method, path string, status, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, &fault{method: method, path: normalizePath(path), status: status, remaining: times})
}

func (f *faults) take(method, path string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path = normalizePath(path)
	for i, ft := range f.list {
		if ft.method != method || ft.path != path {
			continue
		}
		ft.remaining--
		if ft.remaining <= 0 {
			f.list = append(f.list[:i:i], f.list[i+1:]...)
		}
		return ft.status, true
	}
	return 0, false
}

func (f *faults) middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		status, ok := f.take(c.Method(), c.Path())
		if !ok {
			return c.Next()
		}
		if status == fiber.StatusTooManyRequests {
			c.Set(fiber.HeaderRetryAfter, "0")
			return detail(c, status, "Request was throttled.")
		}
		return detail(c, status, "Injected failure.")
	}
}

func normalizePath(p string) string {
	return strings.TrimSuffix(p, "/")
}

// authenticate resolves the bearer token. With required false a request
// without Authorization passes as a guest, but a bad token is still a 401
// so clients refresh instead of silently losing their identity.
func (s *Server) authenticate(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			if required {
				return detail(c, fiber.StatusUnauthorized, "Authentication credentials were not provided.")
			}
			return c.Next()
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return detail(c, fiber.StatusUnauthorized, "Authorization header must use Bearer scheme.")
		}
		cl, err := s.tokens.parse(token, tokenAccess)
		if err != nil {
			s.logger.Debug().Err(err).Str("path", c.Path()).Msg("rejected access token")
			return tokenInvalid(c)
		}
		if _, ok := s.state.profile(cl.UserID); !ok {
			return tokenInvalid(c)
		}
		c.Locals(localUserID, cl.UserID)
		return c.Next()
	}
}

func tokenInvalid(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"detail": "Given token not valid for any token type",
		"code":   "token_not_valid",
	})
}

func userIDOf(c *fiber.Ctx) int64 {
	id, _ := c.Locals(localUserID).(int64)
	return id
}
