package dbconfig

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"`
	Database string `envconfig:"DB_NAME" default:"pointdeck"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse database env: %w", err)
	}
	return cfg, nil
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}
