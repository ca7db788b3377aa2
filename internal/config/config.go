package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime configuration for the API server, loaded from
// environment variables.
type Config struct {
	Addr        string `env:"AUTHGATE_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"AUTHGATE_PG_DSN"`

	JWTSecret  string        `env:"AUTHGATE_JWT_SECRET"`
	JWTIssuer  string        `env:"AUTHGATE_JWT_ISSUER" envDefault:"authgate"`
	AccessTTL  time.Duration `env:"AUTHGATE_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"AUTHGATE_REFRESH_TTL" envDefault:"336h"`

	AdminEmail    string `env:"AUTHGATE_ADMIN_EMAIL" envDefault:"admin@admin.com"`
	AdminPassword string `env:"AUTHGATE_ADMIN_PASSWORD"`

	RateBurst      int `env:"AUTHGATE_RATE_BURST" envDefault:"20"`
	RatePerSec     int `env:"AUTHGATE_RATE_PER_SEC" envDefault:"10"`
	AuditBufferLen int `env:"AUTHGATE_AUDIT_BUFFER" envDefault:"256"`

	MigrationsDir string `env:"AUTHGATE_MIGRATIONS_DIR" envDefault:"migrations/sql"`
	SeedsDir      string `env:"AUTHGATE_SEEDS_DIR" envDefault:"migrations/seeds"`
}

// Load parses configuration from the environment and validates the fields
// the service cannot run without.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("AUTHGATE_JWT_SECRET is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return Config{}, errors.New("token TTLs must be positive")
	}
	return cfg, nil
}
