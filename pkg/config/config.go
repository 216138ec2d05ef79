// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/genstudio/provider-core/pkg/ratelimit"
	"github.com/genstudio/provider-core/pkg/retry"
)

// Config holds all runtime settings, populated from environment variables.
type Config struct {
	// Cache
	CacheDir   string        `env:"CACHE_DIR" envDefault:".provider-cache"`
	DefaultTTL time.Duration `env:"DEFAULT_TTL" envDefault:"24h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// Daemon
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// HTTP client
	UserAgent      string        `env:"USER_AGENT" envDefault:"provider-core/0.1.0"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Retry
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"30s"`

	// Rate limiting
	DefaultRate  float64 `env:"DEFAULT_RATE" envDefault:"5"`
	DefaultBurst int     `env:"DEFAULT_BURST" envDefault:"5"`

	// Per-provider settings, e.g. PROVIDER_RATES="llm:2,tts:10"
	ProviderRates  map[string]string `env:"PROVIDER_RATES" envSeparator:"," envKeyValSeparator:":"`
	ProviderBursts map[string]string `env:"PROVIDER_BURSTS" envSeparator:"," envKeyValSeparator:":"`

	// Provider base URLs, e.g. PROVIDER_URLS="llm:https://api.example.com"
	ProviderURLs map[string]string `env:"PROVIDER_URLS" envSeparator:"," envKeyValSeparator:":"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Limits returns the default rate bucket.
func (c *Config) Limits() ratelimit.Limits {
	return ratelimit.Limits{Rate: c.DefaultRate, Burst: c.DefaultBurst}
}

// Overrides builds the per-provider rate overrides from PROVIDER_RATES and
// PROVIDER_BURSTS. Malformed values fail loudly rather than silently
// falling back to defaults.
func (c *Config) Overrides() (map[string]ratelimit.Limits, error) {
	overrides := make(map[string]ratelimit.Limits)

	for provider, raw := range c.ProviderRates {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("provider %s: invalid rate %q: %w", provider, raw, err)
		}
		limits := overrides[provider]
		limits.Rate = rate
		overrides[provider] = limits
	}

	for provider, raw := range c.ProviderBursts {
		burst, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("provider %s: invalid burst %q: %w", provider, raw, err)
		}
		limits := overrides[provider]
		limits.Burst = burst
		overrides[provider] = limits
	}

	if len(overrides) == 0 {
		return nil, nil
	}
	return overrides, nil
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	if c.MaxRetries > 0 {
		policy.MaxAttempts = c.MaxRetries
	}
	if c.InitialBackoff > 0 {
		policy.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		policy.MaxBackoff = c.MaxBackoff
	}
	return policy
}
