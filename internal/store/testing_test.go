package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "murmur.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir, err := Migrations(DialectSQLite)
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, DialectSQLite, dir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewSQLStore(db, DialectSQLite)
}
