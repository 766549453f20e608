package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process-wide settings. The signing secret is deliberately a
// parameter rather than a constant so keys can be swapped without a code
// change.
type Config struct {
	Addr          string        `env:"SENTRA_ADDR"            envDefault:":8080"`
	PostgresDSN   string        `env:"SENTRA_PG_DSN"`
	SigningSecret string        `env:"SENTRA_AUTH_SECRET"`
	Issuer        string        `env:"SENTRA_ISSUER"          envDefault:"sentra"`
	AccessTTL     time.Duration `env:"SENTRA_ACCESS_TTL"      envDefault:"15m"`
	RefreshTTL    time.Duration `env:"SENTRA_REFRESH_TTL"     envDefault:"336h"`
	RateBurst     int           `env:"SENTRA_RATE_BURST"      envDefault:"20"`
	RatePerSecond int           `env:"SENTRA_RATE_PER_SECOND" envDefault:"10"`
}

// Load parses configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces invariants the issuer depends on.
func (c Config) Validate() error {
	if c.SigningSecret == "" {
		return errors.New("SENTRA_AUTH_SECRET is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.AccessTTL > c.RefreshTTL {
		return errors.New("access lifetime must not exceed refresh lifetime")
	}
	if c.RateBurst <= 0 || c.RatePerSecond <= 0 {
		return errors.New("rate limits must be positive")
	}
	return nil
}
