package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// databaseURL returns TEST_DATABASE_URL, or starts one Postgres container per
// test binary when TEST_INTEGRATION is set. Tests are skipped otherwise.
func databaseURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("set TEST_DATABASE_URL or TEST_INTEGRATION to run database tests")
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"docker.io/postgres:17-alpine",
			tcpostgres.WithDatabase("knowledge_test"),
			tcpostgres.WithUsername("kb"),
			tcpostgres.WithPassword("test-password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr, "failed to start postgres container")
	return containerURL
}

// setupTestDB migrates the schema, empties every table and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := databaseURL(t)

	require.NoError(t, Migrate(url))

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err, "failed to connect to test database")
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE content_tags, tags, knowledge_content, users`)
	require.NoError(t, err, "failed to truncate tables")
	return pool
}
