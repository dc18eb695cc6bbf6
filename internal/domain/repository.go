// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Artifact is a stored model file: the classifier or the categorical encoder.
// Its internal format is owned by the training pipeline.
type Artifact struct {
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"` // "sha256:<hex>"
	Size      int64     `json:"size"`
	Data      []byte    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Well-known artifact names.
const (
	ArtifactModel   = "loan_model.json"
	ArtifactEncoder = "loan_encoder.json"
)

// ArtifactStore reads and writes model artifacts.
type ArtifactStore interface {
	// Get returns the artifact stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) (*Artifact, error)

	// Put stores data under name and returns the stored artifact metadata.
	Put(ctx context.Context, name string, data []byte) (*Artifact, error)

	// List returns metadata of all stored artifacts, without data.
	List(ctx context.Context) ([]*Artifact, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for artifact store initialization.
type RepositoryConfig struct {
	// Driver is the store driver: "file", "sqlite", "postgres" or "s3"
	Driver string `mapstructure:"driver"`

	// File specific
	Dir string `mapstructure:"dir"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// S3 specific
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"` // MinIO, LocalStack
	S3Prefix   string `mapstructure:"s3_prefix"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
