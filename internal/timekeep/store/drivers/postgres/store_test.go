package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/drivers/postgres"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/storetest"
)

// startPostgres runs a throwaway PostgreSQL container and returns the URL of
// its admin database.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "timekeep",
			"POSTGRES_PASSWORD": "timekeep",
			"POSTGRES_DB":       "timekeep",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://timekeep:timekeep@%s:%s/%%s?sslmode=disable", host, port.Port())
}

func TestStore(t *testing.T) {
	urlTemplate := startPostgres(t)
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, fmt.Sprintf(urlTemplate, "timekeep"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close(ctx) })

	// Each subtest gets its own database so the suite starts empty.
	newStore := func(t *testing.T) store.Store {
		t.Helper()
		name := "t_" + uuid.NewString()[:8]
		_, err := admin.Exec(ctx, `CREATE DATABASE `+name)
		require.NoError(t, err)

		s, err := postgres.NewStore(ctx, fmt.Sprintf(urlTemplate, name), postgres.Options{MaxConns: 8})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.ApplyMigrations())
		return s
	}

	storetest.Run(t, newStore)
}
