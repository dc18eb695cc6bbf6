package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FileStore keeps artifacts as plain files in one directory. It is the
// Community tier default: the training pipeline drops its exports there.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "./models"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Get reads an artifact file.
func (s *FileStore) Get(ctx context.Context, name string) (*domain.Artifact, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return &domain.Artifact{
		Name:      name,
		Checksum:  Checksum(data),
		Size:      int64(len(data)),
		Data:      data,
		UpdatedAt: info.ModTime().UTC(),
	}, nil
}

// Put writes an artifact atomically through a temporary file.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) (*domain.Artifact, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to store artifact %s: %w", name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return &domain.Artifact{
		Name:      name,
		Checksum:  Checksum(data),
		Size:      int64(len(data)),
		Data:      data,
		UpdatedAt: info.ModTime().UTC(),
	}, nil
}

// List returns all regular, non-hidden files.
func (s *FileStore) List(ctx context.Context) ([]*domain.Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var artifacts []*domain.Artifact
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		a, err := s.Get(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		a.Data = nil
		artifacts = append(artifacts, a)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

// Ping checks that the directory is still readable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
