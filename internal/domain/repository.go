// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository persists ground-truth labels. Transaction history itself
// lives only in memory.
type Repository interface {
	SaveLabel(ctx context.Context, label *Label) error
	GetLabel(ctx context.Context, txID string) (*Label, error)

	// ListLabels returns up to limit labels, oldest first. limit <= 0 means all.
	ListLabels(ctx context.Context, limit int) ([]*Label, error)
	CountLabels(ctx context.Context) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
