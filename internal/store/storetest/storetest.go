// Package storetest opens throwaway SQLite-backed row stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"murmur/api/internal/store"
)

// Open returns a migrated SQLStore in a temporary directory that is
// removed when the test ends.
func Open(t testing.TB) *store.SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "murmur.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir, err := store.Migrations(store.DialectSQLite)
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := store.ApplyMigrations(ctx, db, store.DialectSQLite, dir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store.NewSQLStore(db, store.DialectSQLite)
}
