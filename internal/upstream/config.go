package upstream

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// The environment-variable names this package reads, mirroring the
// teacher's ingest config loader.
const (
	envBaseURL       = "UPSTREAM_BASE_URL"
	envToken         = "UPSTREAM_TOKEN"
	envMaxAttempts   = "UPSTREAM_MAX_ATTEMPTS"
	envRetryInterval = "UPSTREAM_RETRY_INTERVAL"
)

// LoadConfigFromEnv builds a Config from the process environment. Unset
// optional fields are left zero; NewHTTPClient applies its defaults to them.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: os.Getenv(envBaseURL),
		Token:   os.Getenv(envToken),
	}

	if v := os.Getenv(envMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envMaxAttempts, err)
		}
		cfg.MaxAttempts = n
	}

	if v := os.Getenv(envRetryInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envRetryInterval, err)
		}
		cfg.RetryInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether the config has the minimum fields required to
// reach the upstream control plane.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%s is required", envBaseURL)
	}
	if c.Token == "" {
		return fmt.Errorf("%s is required", envToken)
	}
	return nil
}
