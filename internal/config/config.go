package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppEnv          = "development"
	defaultLogLevel        = "info"
	defaultHTTPListenAddr  = ":8090"
	defaultStorePath       = "digigold.db"
	defaultRefreshInterval = time.Hour
	defaultBackendTimeout  = 15 * time.Second
	defaultPriceCacheTTL   = time.Hour
	defaultCurrency        = "INR"
	defaultMerchantName    = "Ponnudurai Schemes"
)

// Config captures runtime configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	LogLevel string

	// Backend is the base URL of the savings-scheme REST API.
	BackendBaseURL string
	BackendTimeout time.Duration

	// Payment gateway checkout parameters.
	GatewayKeyID string
	Currency     string
	MerchantName string

	// DatabaseURL selects the local store backend: a postgres:// URL uses
	// the shared Postgres store, anything else is treated as a SQLite path.
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PriceRefreshInterval time.Duration
	PriceCacheTTL        time.Duration

	HTTPListenAddr   string
	MetricsNamespace string
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:               getEnv("APP_ENV", defaultAppEnv),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		BackendBaseURL:       strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/"),
		BackendTimeout:       defaultBackendTimeout,
		GatewayKeyID:         os.Getenv("GATEWAY_KEY_ID"),
		Currency:             getEnv("PAYMENT_CURRENCY", defaultCurrency),
		MerchantName:         getEnv("MERCHANT_NAME", defaultMerchantName),
		DatabaseURL:          getEnv("DATABASE_URL", defaultStorePath),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		PriceRefreshInterval: defaultRefreshInterval,
		PriceCacheTTL:        defaultPriceCacheTTL,
		HTTPListenAddr:       getEnv("HTTP_LISTEN_ADDR", defaultHTTPListenAddr),
		MetricsNamespace:     getEnv("METRICS_NAMESPACE", "digigold"),
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	if v := os.Getenv("BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BACKEND_TIMEOUT: %w", err)
		}
		cfg.BackendTimeout = d
	}

	// The refresh cadence is configured in milliseconds to mirror the
	// backend contract; a duration string is accepted as well.
	if v := os.Getenv("PRICE_REFRESH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRICE_REFRESH_INTERVAL_MS: %w", err)
		}
		cfg.PriceRefreshInterval = time.Duration(ms) * time.Millisecond
	} else if v := os.Getenv("PRICE_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRICE_REFRESH_INTERVAL: %w", err)
		}
		cfg.PriceRefreshInterval = d
	}

	if v := os.Getenv("PRICE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRICE_CACHE_TTL: %w", err)
		}
		cfg.PriceCacheTTL = d
	}

	if cfg.BackendBaseURL == "" {
		return Config{}, fmt.Errorf("BACKEND_BASE_URL must be set")
	}
	if cfg.PriceRefreshInterval <= 0 {
		return Config{}, fmt.Errorf("price refresh interval must be positive")
	}

	return cfg, nil
}

// UsesPostgres reports whether the configured database URL selects the
// Postgres store backend.
func (c Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
