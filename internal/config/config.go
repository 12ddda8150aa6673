// Package config loads service configuration from environment variables,
// with a .env file fallback for local development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the portfolio service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	LogLevel    slog.Level

	QuoteBaseURL   string
	QuoteTimeout   time.Duration
	QuoteRateLimit float64
	QuoteCacheTTL  time.Duration
}

// Load reads configuration from the environment. A missing .env file is
// fine — production supplies real environment variables.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    getDuration("CACHE_TTL", 30*time.Second),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),

		QuoteBaseURL:   getEnv("QUOTE_BASE_URL", "https://query1.finance.yahoo.com"),
		QuoteTimeout:   getDuration("QUOTE_TIMEOUT", 5*time.Second),
		QuoteRateLimit: getFloat("QUOTE_RATE_LIMIT", 5),
		QuoteCacheTTL:  getDuration("QUOTE_CACHE_TTL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		slog.Warn("invalid number, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
