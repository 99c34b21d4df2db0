package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name, e.g. AGROSTORE_API_BASE_URL.
const Prefix = "AGROSTORE"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Backend API
	APIBaseURL        string        `envconfig:"API_BASE_URL" default:"http://localhost:8000/api"`
	APITimeout        time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	RateLimitAttempts int           `envconfig:"API_RATE_LIMIT_ATTEMPTS" default:"3"`
	RetryBaseDelay    time.Duration `envconfig:"API_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay     time.Duration `envconfig:"API_RETRY_MAX_DELAY" default:"10s"`
	RefreshLeeway     time.Duration `envconfig:"REFRESH_LEEWAY" default:"10s"` // refresh this long before exp

	// Client state
	StateDBPath        string        `envconfig:"STATE_DB_PATH" default:"storefront.db"`
	LoginPath          string        `envconfig:"LOGIN_PATH" default:"/login"`
	MaxCartQuantity    int           `envconfig:"MAX_CART_QUANTITY" default:"99"`
	NotificationBuffer int           `envconfig:"NOTIFICATION_BUFFER" default:"32"`
	ProfileCacheTTL    time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"1h"`

	// Catalog cache
	CatalogCacheSize int           `envconfig:"CATALOG_CACHE_SIZE" default:"256"`
	CatalogCacheTTL  time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"5m"`

	// Prometheus textfile written when the CLI exits (empty disables)
	MetricsFile string `envconfig:"METRICS_FILE"`

	DevBackend DevBackend
}

// DevBackend configures the in-memory development backend.
type DevBackend struct {
	ListenAddr     string        `envconfig:"DEV_LISTEN_ADDR" default:":8000"`
	SigningSecret  string        `envconfig:"DEV_SIGNING_SECRET" default:"dev-secret-change-me"`
	AccessTTL      time.Duration `envconfig:"DEV_ACCESS_TTL" default:"5m"`
	RefreshTTL     time.Duration `envconfig:"DEV_REFRESH_TTL" default:"24h"`
	RateLimitRPS   int           `envconfig:"DEV_RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int           `envconfig:"DEV_RATE_LIMIT_BURST" default:"40"`
	RotateRefresh  bool          `envconfig:"DEV_ROTATE_REFRESH" default:"false"`
	GuestCartTTL   time.Duration `envconfig:"DEV_GUEST_CART_TTL" default:"168h"`
	SeedPath       string        `envconfig:"DEV_SEED_PATH"` // YAML catalog; embedded seed when empty
}

// Development reports whether console logging should be used.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL %q", c.APIBaseURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}
	if c.MaxCartQuantity < 1 {
		return fmt.Errorf("MAX_CART_QUANTITY must be >= 1")
	}
	if c.RateLimitAttempts < 1 {
		return fmt.Errorf("API_RATE_LIMIT_ATTEMPTS must be >= 1")
	}
	return nil
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
