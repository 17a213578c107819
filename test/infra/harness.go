package infra

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open returns a migrated pool for integration tests, trying in order an explicit DSN,
// REMINDFLOW_TEST_PG_DSN, a Docker container and a local Postgres. The test is skipped
// when none is reachable. Cleanup is registered on t.
func Open(t *testing.T, ctx context.Context, overrideDSN string) *pgxpool.Pool {
	t.Helper()

	var (
		pgC *PGContainer
		dsn string
		err error
	)
	switch {
	case overrideDSN != "" || os.Getenv(DSNEnv) != "":
		pgC, dsn, err = StartPostgres16(ctx, overrideDSN)
	case DockerAvailable(ctx):
		pgC, dsn, err = StartPostgres16(ctx, "")
	default:
		dsn, err = InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no postgres available: %v", err)
		}
		pgC = &PGContainer{}
	}
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := ApplyMigrations(ctx, dsn, pgC.Shared())
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}
