package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/elektrorate/calendario-taller-jesus/internal/logging"
	"github.com/elektrorate/calendario-taller-jesus/internal/persistence/sqlstore"
)

// SQLiteHarness exposes repositories backed by a migrated SQLite file in a
// temporary directory.
type SQLiteHarness struct {
	Store     *sqlstore.Store
	Enrollees *sqlstore.EnrolleeRepository
	Sessions  *sqlstore.SessionRepository
	Links     *sqlstore.LinkRepository
}

// SQLiteDSN returns a DSN for path with foreign keys enforced.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// NewSQLiteHarness opens and migrates a fresh database. It is closed by
// tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       "sqlite",
		DSN:          SQLiteDSN(filepath.Join(tb.TempDir(), "taller.db")),
		MaxOpenConns: 1,
		Logger:       logging.Discard(),
	})
	if err != nil {
		tb.Fatalf("open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if _, err := store.Migrate(ctx); err != nil {
		tb.Fatalf("migrate sqlite store: %v", err)
	}

	return &SQLiteHarness{
		Store:     store,
		Enrollees: store.Enrollees(),
		Sessions:  store.Sessions(),
		Links:     store.Links(),
	}
}
