// Package dbtest opens throwaway, fully migrated stores for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
)

// Open returns a migrated database in a fresh temporary directory.
// It is closed when the test finishes.
func Open(t testing.TB) *db.DB {
	t.Helper()
	return OpenAt(t, filepath.Join(t.TempDir(), "ledgerlite.db"))
}

// OpenAt opens and migrates the database at path. Opening the same path
// twice in one test simulates a process restart.
func OpenAt(t testing.TB, path string) *db.DB {
	t.Helper()
	store, err := db.OpenPath(path)
	if err != nil {
		t.Fatalf("db.OpenPath(%s): %v", path, err)
	}
	t.Cleanup(func() { store.Close() })

	if err := db.Migrate(context.Background(), store, logging.Nop()); err != nil {
		t.Fatalf("db.Migrate: %v", err)
	}
	return store
}
