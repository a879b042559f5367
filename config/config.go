/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One struct, loaded once at startup. Every field has a sane default so
  the server runs with zero environment; production overrides what it
  needs (PORT, DB_PATH in particular).

SEE ALSO:
  - cmd/server/main.go: the only consumer
*/
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// --- Server ---
	Port int `envconfig:"PORT" default:"8080"`

	// --- Database ---
	DBPath string `envconfig:"DB_PATH" default:"./settlement.db"`

	// --- Money ---
	Currency string `envconfig:"CURRENCY" default:"INR"`

	// --- Rides ---
	// Validity window for a redemption code; past it the ride expires.
	RideValidityWindow time.Duration `envconfig:"RIDE_VALIDITY_WINDOW" default:"24h"`

	// Cron spec for the expiry sweep. Top of every hour.
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"0 * * * *"`

	// How long a settlement waits on a contended ride lock before
	// giving up with a busy error.
	LockWait time.Duration `envconfig:"LOCK_WAIT" default:"3s"`

	// --- Events ---
	EventBuffer int `envconfig:"EVENT_BUFFER" default:"256"`

	// --- Logging ---
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.RideValidityWindow <= 0 {
		return fmt.Errorf("RIDE_VALIDITY_WINDOW must be positive, got %s", c.RideValidityWindow)
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be positive, got %s", c.LockWait)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.EventBuffer)
	}
	return nil
}

// Addr returns the listen address, e.g. ":8080".
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
