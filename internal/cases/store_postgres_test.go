//go:build integration

package cases

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgres returns a DSN for a throwaway database. MODCONSOLE_TEST_PG_DSN
// reuses an existing server instead of starting a container.
func startPostgres(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("MODCONSOLE_TEST_PG_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("modconsole"),
		postgres.WithUsername("modconsole"),
		postgres.WithPassword("modconsole"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresRepository(t *testing.T) {
	dsn := startPostgres(t)

	newRepo := func(t *testing.T) Repository {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(pool.Close)

		repo := NewPostgresRepository(pool)
		require.NoError(t, repo.Migrate(ctx))
		_, err = pool.Exec(ctx, `TRUNCATE moderation_case_transitions, moderation_cases`)
		require.NoError(t, err)
		return repo
	}

	suite.Run(t, &RepositorySuite{newRepo: newRepo})
}
