package registry

import (
	"os"
	"testing"

	"github.com/tvcwb/boardbridge/internal/infrastructure/database"
	_ "github.com/tvcwb/boardbridge/migrations"
)

// skipIfNoPostgres skips tests that need a live PostgreSQL server.
func skipIfNoPostgres(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("BOARDBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOARDBRIDGE_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func TestPostgresRepository_Contract(t *testing.T) {
	dsn := skipIfNoPostgres(t)

	pool, err := database.OpenPostgres(t.Context(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() }) //nolint:errcheck // Test cleanup

	if err := pool.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	testRepositoryContract(t, func(t *testing.T) Repository {
		if _, err := pool.Exec(t.Context(), `
			TRUNCATE error_reports, notification_users, connection_status, board_events,
				sensor_read_events, sensors, control_boards, broker_endpoints
			RESTART IDENTITY CASCADE`); err != nil {
			t.Fatalf("truncating registry: %v", err)
		}
		return NewPostgresRepository(pool.Pool)
	})
}
