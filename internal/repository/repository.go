// Package repository provides model artifact stores.
package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates an artifact store based on configuration.
func New(ctx context.Context, cfg domain.RepositoryConfig) (domain.ArtifactStore, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileStore(cfg.Dir)
	case "s3":
		return NewS3Store(ctx, cfg)
	case "sqlite", "postgres":
		return NewSQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// Checksum returns the "sha256:<hex>" digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid artifact name %q", domain.ErrInvalidInput, name)
	}
	return nil
}

// SQLStore implements domain.ArtifactStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens the configured database and runs migrations.
func NewSQLStore(cfg domain.RepositoryConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := newSQLStore(db, cfg.Driver)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func newSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (r *SQLStore) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Put stores data under name, replacing any previous version.
func (r *SQLStore) Put(ctx context.Context, name string, data []byte) (*domain.Artifact, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	artifact := &domain.Artifact{
		Name:      name,
		Checksum:  Checksum(data),
		Size:      int64(len(data)),
		Data:      data,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO model_artifacts (name, checksum, size, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			checksum = excluded.checksum,
			size = excluded.size,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		artifact.Name, artifact.Checksum, artifact.Size, data, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store artifact %s: %w", name, err)
	}
	return artifact, nil
}

// Get retrieves an artifact by name.
func (r *SQLStore) Get(ctx context.Context, name string) (*domain.Artifact, error) {
	query := `
		SELECT name, checksum, size, data, updated_at
		FROM model_artifacts
		WHERE name = ?
	`

	var a domain.Artifact
	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(
		&a.Name, &a.Checksum, &a.Size, &a.Data, &a.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// List returns metadata of all artifacts ordered by name.
func (r *SQLStore) List(ctx context.Context) ([]*domain.Artifact, error) {
	query := `
		SELECT name, checksum, size, updated_at
		FROM model_artifacts
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.Name, &a.Checksum, &a.Size, &a.UpdatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, &a)
	}

	return artifacts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLStore) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLStore) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
