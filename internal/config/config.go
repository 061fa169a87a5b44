package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	LogLevel  string
	LogFormat string

	BillingWebhookSecret string

	AuthIntrospectURL string

	GenerationAPIKey     string
	GenerationModel      string
	GenerationBaseURL    string
	GenerationCost       int64
	GenerationMaxRetries int
	GenerationRetryDelay time.Duration
	GenerationCallBudget time.Duration

	StaleAuthMaxAge time.Duration
	StaleAuthSweep  time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	secret := os.Getenv("BILLING_WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("BILLING_WEBHOOK_SECRET environment variable is required")
	}

	cost, err := envInt64("GENERATION_COST", 5)
	if err != nil {
		return nil, err
	}
	if cost <= 0 {
		return nil, fmt.Errorf("GENERATION_COST must be positive")
	}

	maxRetries, err := envInt64("GENERATION_MAX_RETRIES", 2)
	if err != nil {
		return nil, err
	}

	retryDelay, err := envDuration("GENERATION_RETRY_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}
	callBudget, err := envDuration("GENERATION_CALL_BUDGET", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	staleAge, err := envDuration("STALE_AUTH_MAX_AGE", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	staleSweep, err := envDuration("STALE_AUTH_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBSource:             dbSource,
		Port:                 envString("SERVER_PORT", "8080"),
		Env:                  envString("ENVIRONMENT", "development"),
		LogLevel:             envString("LOG_LEVEL", "info"),
		LogFormat:            envString("LOG_FORMAT", "auto"),
		BillingWebhookSecret: secret,
		AuthIntrospectURL:    envString("AUTH_INTROSPECT_URL", "http://localhost:9099/introspect"),
		GenerationAPIKey:     os.Getenv("GENERATION_API_KEY"),
		GenerationModel:      envString("GENERATION_MODEL", "gpt-4o"),
		GenerationBaseURL:    os.Getenv("GENERATION_BASE_URL"),
		GenerationCost:       cost,
		GenerationMaxRetries: int(maxRetries),
		GenerationRetryDelay: retryDelay,
		GenerationCallBudget: callBudget,
		StaleAuthMaxAge:      staleAge,
		StaleAuthSweep:       staleSweep,
	}, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
