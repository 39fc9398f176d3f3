package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort           = 8080
	defaultDefaultLimit   = 100
	defaultCacheTTL       = 10 * time.Second
	defaultPollInterval   = 5 * time.Second
	defaultPollMax        = 60 * time.Second
	defaultRequestTimeout = 15 * time.Second
)

// Config holds environment-driven settings for the telemetry API.
type Config struct {
	DatabaseURL  string
	Port         int
	IngestSecret string
	RedisURL     string
	CacheTTL     time.Duration
	DefaultLimit int
	LogLevel     string
	LogFormat    string
}

// WatcherConfig holds settings for the map reconciliation poller.
type WatcherConfig struct {
	APIBaseURL     string
	PollInterval   time.Duration
	PollMax        time.Duration
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
}

// Load reads API configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:         defaultPort,
		DefaultLimit: defaultDefaultLimit,
		CacheTTL:     defaultCacheTTL,
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "json"),
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	// Absence is not a startup error: the ingestion endpoint reports it as a
	// server configuration fault per request instead.
	cfg.IngestSecret = os.Getenv("INGEST_SECRET")

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
		cfg.Port = port
	}

	if limitStr := os.Getenv("API_DEFAULT_LIMIT"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return cfg, fmt.Errorf("invalid API_DEFAULT_LIMIT: %s", limitStr)
		}
		cfg.DefaultLimit = limit
	}

	if ttlStr := os.Getenv("CACHE_TTL"); ttlStr != "" {
		ttl, err := time.ParseDuration(ttlStr)
		if err != nil || ttl <= 0 {
			return cfg, fmt.Errorf("invalid CACHE_TTL: %s", ttlStr)
		}
		cfg.CacheTTL = ttl
	}

	return cfg, nil
}

// LoadWatcher reads poller configuration from environment variables.
func LoadWatcher() (WatcherConfig, error) {
	_ = godotenv.Load()

	cfg := WatcherConfig{
		PollInterval:   defaultPollInterval,
		PollMax:        defaultPollMax,
		RequestTimeout: defaultRequestTimeout,
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
	}

	cfg.APIBaseURL = strings.TrimSpace(os.Getenv("API_BASE_URL"))
	if cfg.APIBaseURL == "" {
		return cfg, errors.New("API_BASE_URL is required")
	}

	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid POLL_INTERVAL: %s", v)
		}
		cfg.PollInterval = d
	}

	if v := strings.TrimSpace(os.Getenv("POLL_MAX_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < cfg.PollInterval {
			return cfg, fmt.Errorf("invalid POLL_MAX_INTERVAL: %s", v)
		}
		cfg.PollMax = d
	}

	if v := strings.TrimSpace(os.Getenv("POLL_REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid POLL_REQUEST_TIMEOUT: %s", v)
		}
		cfg.RequestTimeout = d
	}

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
