package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	logx "remindbot/pkg/logx"
)

var (
	pgOnce    sync.Once
	pgDSN     string
	pgInitErr error
)

// startPostgres starts one container for the whole test run and returns its DSN.
func startPostgres() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("get mapped port: %w", err)
	}
	return fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port()), nil
}

func openTestPostgres(t *testing.T) Store {
	t.Helper()
	pgOnce.Do(func() { pgDSN, pgInitErr = startPostgres() })
	if pgInitErr != nil {
		t.Skipf("postgres container unavailable: %v", pgInitErr)
	}

	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "postgres", DSN: pgDSN}, logx.Nop())
	require.NoError(t, err)

	// Tests share one database; start each from empty tables.
	pg := st.(*postgresStore)
	_, err = pg.pool.Exec(ctx, `TRUNCATE reminders, reminder_log, users, logs, dedup`)
	require.NoError(t, err)

	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	runStoreContract(t, openTestPostgres)
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}
