package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Listen string // HTTP listen address
	Env    string // "production" switches the logger to JSON output

	DBDriver string // sqlite, postgres or clickhouse
	DBDSN    string // file path for sqlite, connection URL otherwise

	// Cache settings; an empty RedisAddr disables caching
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CachePrefix     string
	SummaryCacheTTL time.Duration
	SeriesCacheTTL  time.Duration

	QueryTimeout time.Duration // upper bound for one report computation

	// Tenant settings
	TenantsFile         string // optional YAML file with per-tenant overrides
	DefaultMonthlyQuota int64
	DefaultCurrency     string
	DefaultTimezone     string
	Tenants             *Tenants

	MetricsHtpasswd string // optional htpasswd file guarding /metrics
}

// Load reads configuration from environment variables and applies defaults
func Load() (*Config, error) {
	cfg := &Config{
		Listen:          getEnvOrDefault("TALLY_LISTEN", ":8080"),
		Env:             getEnvOrDefault("TALLY_ENV", "development"),
		DBDriver:        getEnvOrDefault("TALLY_DB_DRIVER", "sqlite"),
		DBDSN:           getEnvOrDefault("TALLY_DB_DSN", "/data/tally.db"),
		RedisAddr:       os.Getenv("TALLY_REDIS_ADDR"),
		RedisPassword:   os.Getenv("TALLY_REDIS_PASSWORD"),
		CachePrefix:     getEnvOrDefault("TALLY_CACHE_PREFIX", "analytics"),
		TenantsFile:     os.Getenv("TALLY_TENANTS_FILE"),
		DefaultCurrency: getEnvOrDefault("TALLY_DEFAULT_CURRENCY", "KRW"),
		DefaultTimezone: getEnvOrDefault("TALLY_DEFAULT_TIMEZONE", "Asia/Seoul"),
		MetricsHtpasswd: os.Getenv("TALLY_METRICS_HTPASSWD"),
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres", "clickhouse":
	default:
		return nil, fmt.Errorf("invalid TALLY_DB_DRIVER %q: want sqlite, postgres or clickhouse", cfg.DBDriver)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("TALLY_REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid TALLY_REDIS_DB: %w", err)
	}
	if redisDB < 0 {
		return nil, fmt.Errorf("TALLY_REDIS_DB must not be negative, got %d", redisDB)
	}
	cfg.RedisDB = redisDB

	if cfg.SummaryCacheTTL, err = positiveDuration("TALLY_SUMMARY_CACHE_TTL", "60s"); err != nil {
		return nil, err
	}
	if cfg.SeriesCacheTTL, err = positiveDuration("TALLY_SERIES_CACHE_TTL", "30s"); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = positiveDuration("TALLY_QUERY_TIMEOUT", "15s"); err != nil {
		return nil, err
	}

	quota, err := strconv.ParseInt(getEnvOrDefault("TALLY_DEFAULT_MONTHLY_QUOTA", "100000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TALLY_DEFAULT_MONTHLY_QUOTA: %w", err)
	}
	if quota <= 0 {
		return nil, fmt.Errorf("TALLY_DEFAULT_MONTHLY_QUOTA must be positive, got %d", quota)
	}
	cfg.DefaultMonthlyQuota = quota

	defaults := TenantSettings{
		MonthlyQuota: cfg.DefaultMonthlyQuota,
		Currency:     cfg.DefaultCurrency,
		Timezone:     cfg.DefaultTimezone,
	}
	if cfg.TenantsFile != "" {
		cfg.Tenants, err = LoadTenants(cfg.TenantsFile, defaults)
	} else {
		cfg.Tenants, err = NewTenants(defaults, nil)
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// positiveDuration parses a Go duration from key, falling back to def
func positiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

// getEnvOrDefault returns the environment variable value or the default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
