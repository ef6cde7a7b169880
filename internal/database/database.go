// Package database provides PostgreSQL connection management.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured is returned by Connect when no host is set.
var ErrNotConfigured = errors.New("database not configured")

// Config holds database connection configuration.
type Config struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"sslMode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"maxOpenConns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"maxIdleConns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" env:"CONN_MAX_LIFETIME"`
}

// DefaultConfig returns settings for a local development database. Host is
// left empty so history persistence stays off until configured.
func DefaultConfig() Config {
	return Config{
		Port:            5432,
		User:            "aqfusion",
		Password:        "localdev",
		Database:        "aqfusion",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Enabled reports whether a database host is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// ConnectionString returns the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Connect creates a new database connection pool.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // bounded by config validation
	poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // bounded by config validation
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
