package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults applied when the environment leaves a knob unset.
const (
	DefaultAddr            = ":8600"
	DefaultCacheExpireDays = 30
	DefaultProviderTimeout = 8 * time.Second
)

// Config captures everything main needs to wire the service.
type Config struct {
	Addr string

	// DatabaseURL selects the postgres record store; empty falls back to the
	// in-memory store (dev and tests only).
	DatabaseURL string

	// AuthKey protects the query endpoints via the AuthKey request header.
	AuthKey string

	// Provider credentials. An absent key silently disables that provider.
	ChinazAPIKey     string
	TianyanchaAPIKey string

	// Base URL overrides, used by tests to point clients at local fakes.
	ChinazBaseURL             string
	TianyanchaSearchBaseURL   string
	TianyanchaICPQueryBaseURL string

	// CacheExpireDays bounds how long a cached record counts as fresh.
	CacheExpireDays int

	ProviderTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:                      envOr("ICP_ADDR", DefaultAddr),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		AuthKey:                   os.Getenv("AUTH_KEY"),
		ChinazAPIKey:              os.Getenv("CHINAZ_API_KEY"),
		TianyanchaAPIKey:          os.Getenv("TIANYANCHA_API_KEY"),
		ChinazBaseURL:             os.Getenv("CHINAZ_BASE_URL"),
		TianyanchaSearchBaseURL:   os.Getenv("TIANYANCHA_SEARCH_BASE_URL"),
		TianyanchaICPQueryBaseURL: os.Getenv("TIANYANCHA_ICP_BASE_URL"),
		CacheExpireDays:           DefaultCacheExpireDays,
		ProviderTimeout:           DefaultProviderTimeout,
	}

	if raw := os.Getenv("CACHE_EXPIRE_DAYS"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			cfg.CacheExpireDays = days
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
