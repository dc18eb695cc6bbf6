//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestPostgresStoreContainer(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "kestrel_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	store, err := New(ctx, domain.RepositoryConfig{
		Driver:           "postgres",
		PostgresHost:     host,
		PostgresPort:     port.Int(),
		PostgresUser:     "test",
		PostgresPassword: "test",
		PostgresDB:       "kestrel_test",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	data := []byte(`{"separator":"=","fields":[]}`)
	if _, err := store.Put(ctx, domain.ArtifactEncoder, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Put(ctx, domain.ArtifactEncoder, data); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := store.Get(ctx, domain.ArtifactEncoder)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(data) {
		t.Errorf("expected %q, got %q", data, got.Data)
	}
}
