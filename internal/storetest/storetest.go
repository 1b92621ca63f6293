// Package storetest spins up a shared Postgres testcontainer for
// integration tests that need a real database, applying the embedded
// migrations once per package run. Grounded on the teacher's
// test/util/database.go shared-container pattern, adapted from Ent's
// per-test schema isolation to a pgx pool with the same search_path trick.
package storetest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/axiscore/axiscore/internal/storemigrate"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewPool returns a pgx pool connected to a schema-isolated copy of the
// shared test database, with every migration applied. The schema is
// dropped when the test completes.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	connStr := sharedDatabase(t)
	schema := schemaName(t)

	base, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	_, err = base.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	base.Close()

	scopedConnStr := withSearchPath(connStr, schema)

	require.NoError(t, storemigrate.Apply(scopedConnStr, "schema_migrations"))

	pool, err := pgxpool.New(ctx, scopedConnStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx := context.Background()
		_, _ = pool.Exec(cleanupCtx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		pool.Close()
	})

	return pool
}

// sharedDatabase returns a connection string to the shared database: an
// external CI database if CI_DATABASE_URL is set, otherwise a
// once-per-package local testcontainer.
func sharedDatabase(t *testing.T) string {
	t.Helper()
	if ci := os.Getenv("CI_DATABASE_URL"); ci != "" {
		return ci
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("axiscore_test"),
			postgres.WithUsername("axiscore"),
			postgres.WithPassword("axiscore"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres testcontainer: %w", err)
			return
		}
		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to start shared test container")
	return sharedConnStr
}

// schemaName generates a unique, Postgres-safe schema for the calling
// test, so parallel tests sharing one container never see each other's
// rows.
func schemaName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(suffix))
}

func withSearchPath(connStr, schema string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, schema)
}
