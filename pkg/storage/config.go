package storage

import (
	"fmt"
	"time"
)

// Backend types
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Config for storage backend
type Config struct {
	Type string // "memory", "sqlite", "postgres"

	// DatabaseURL is a file path for sqlite or a connection URL for postgres
	DatabaseURL string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	// Redis config. An empty RedisURL keeps assignments in the database.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeMemory,
		MaxConns:        20,
		MinConns:        2,
		Timeout:         10 * time.Second,
		MaxLifetime:     30 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
	}
}

// Validate checks that the backend type is known and has what it needs
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
		return nil
	case TypeSQLite, TypePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for %s storage", c.Type)
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %q", c.Type)
	}
}

// driverName maps a backend type to its database/sql driver
func (c Config) driverName() string {
	if c.Type == TypeSQLite {
		return "sqlite3"
	}
	return "postgres"
}
