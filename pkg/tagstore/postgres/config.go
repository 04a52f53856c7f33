package postgres

import (
	"fmt"
	"time"
)

// Config holds the connection settings for the PostgreSQL tag store.
type Config struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode"`

	// Device namespaces this store's rows. Required.
	Device string `mapstructure:"-"`

	// TagSize is the per-unit tag width in bytes. Required.
	TagSize int `mapstructure:"-"`

	// Connection pool sizing. Tag traffic is one query per bio, so the
	// defaults stay small.
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`

	// AutoMigrate applies embedded migrations on open.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ApplyDefaults sets default values for unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 8
	}
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 1 * time.Hour
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if c.TagSize <= 0 {
		return fmt.Errorf("tag size must be positive, got %d", c.TagSize)
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}

	switch c.SSLMode {
	case "disable", "require", "verify-ca", "verify-full", "prefer":
	default:
		return fmt.Errorf("invalid ssl_mode: %s", c.SSLMode)
	}
	return nil
}

// ConnectionString builds a PostgreSQL connection string from the config.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
	)
}
