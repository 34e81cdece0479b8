package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SscSPs/mma_exchange/internal/core/domain"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port         string
	IsProduction bool
	LogLevel     slog.Level

	// Rate cache
	RateCache   string
	DataDir     string
	DatabaseURL string

	// Rate source
	ECBBaseURL     string
	ECBHTTPTimeout time.Duration
	ECBMaxRetries  int

	// Engine lifecycle
	RefreshInterval   time.Duration // 0 disables the periodic reload
	AllowStaleRates   bool
	TrackedCurrencies []domain.Currency

	// HTTP surface
	AdminJWTSecret     string // empty disables the refresh endpoint
	RateLimit          string
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("IS_PRODUCTION", false)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	v.SetDefault("RATE_CACHE", DefaultRateCache)
	v.SetDefault("DATA_DIR", DefaultDataDir)
	v.SetDefault("PGSQL_URL", "")
	v.SetDefault("ECB_BASE_URL", DefaultECBBaseURL)
	v.SetDefault("ECB_HTTP_TIMEOUT", DefaultECBHTTPTimeout.String())
	v.SetDefault("ECB_MAX_RETRIES", DefaultECBMaxRetries)
	v.SetDefault("REFRESH_INTERVAL", DefaultRefreshInterval.String())
	v.SetDefault("ALLOW_STALE_RATES", false)
	v.SetDefault("TRACKED_CURRENCIES", "")
	v.SetDefault("ADMIN_JWT_SECRET", "")
	v.SetDefault("RATE_LIMIT", DefaultRateLimit)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	// Actual environment variables override .env values, which override the defaults above.
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:            v.GetString("PORT"),
		IsProduction:    v.GetBool("IS_PRODUCTION"),
		RateCache:       strings.ToLower(strings.TrimSpace(v.GetString("RATE_CACHE"))),
		DataDir:         v.GetString("DATA_DIR"),
		DatabaseURL:     v.GetString("PGSQL_URL"),
		ECBBaseURL:      v.GetString("ECB_BASE_URL"),
		ECBMaxRetries:   v.GetInt("ECB_MAX_RETRIES"),
		AllowStaleRates: v.GetBool("ALLOW_STALE_RATES"),
		AdminJWTSecret:  v.GetString("ADMIN_JWT_SECRET"),
		RateLimit:       v.GetString("RATE_LIMIT"),
	}

	if cfg.Port == "" {
		cfg.Port = DefaultPort
		slog.Warn("PORT environment variable not set, using default", slog.String("port", cfg.Port))
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.ECBHTTPTimeout, err = duration(v, "ECB_HTTP_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.ECBHTTPTimeout <= 0 {
		return nil, fmt.Errorf("ECB_HTTP_TIMEOUT must be positive, got %s", cfg.ECBHTTPTimeout)
	}
	if cfg.RefreshInterval, err = duration(v, "REFRESH_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval < 0 {
		return nil, fmt.Errorf("REFRESH_INTERVAL cannot be negative, got %s", cfg.RefreshInterval)
	}
	if cfg.ECBMaxRetries < 0 {
		return nil, fmt.Errorf("ECB_MAX_RETRIES cannot be negative, got %d", cfg.ECBMaxRetries)
	}

	switch cfg.RateCache {
	case RateCacheFile:
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("DATA_DIR must be set when RATE_CACHE=%s", RateCacheFile)
		}
	case RateCachePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("PGSQL_URL must be set when RATE_CACHE=%s", RateCachePostgres)
		}
	default:
		return nil, fmt.Errorf("unknown RATE_CACHE %q, want %q or %q", cfg.RateCache, RateCacheFile, RateCachePostgres)
	}

	if cfg.TrackedCurrencies, err = currencies(v.GetString("TRACKED_CURRENCIES")); err != nil {
		return nil, err
	}
	cfg.CORSAllowedOrigins = list(v.GetString("CORS_ALLOWED_ORIGINS"))

	if cfg.AdminJWTSecret == "" {
		slog.Warn("ADMIN_JWT_SECRET not set. The refresh endpoint is disabled.")
	}

	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s ('%s'): %w", key, raw, err)
	}
	return d, nil
}

// currencies parses a comma separated list of codes; an empty list tracks every foreign currency.
func currencies(raw string) ([]domain.Currency, error) {
	codes := list(raw)
	if len(codes) == 0 {
		return domain.ForeignCurrencies(), nil
	}
	out := make([]domain.Currency, 0, len(codes))
	seen := map[domain.Currency]bool{}
	for _, code := range codes {
		c, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("invalid TRACKED_CURRENCIES: %w", err)
		}
		if c == domain.Base || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

func list(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
