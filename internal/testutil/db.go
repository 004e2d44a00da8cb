package testutil

import (
	"database/sql"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
)

// migrationsURL points at the repository's migrations directory, resolved
// from this file so tests in any package depth find it.
func migrationsURL(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate testutil source file")
	}
	return "file://" + filepath.ToSlash(filepath.Join(filepath.Dir(file), "..", "..", "migrations"))
}

// SetupTestDB returns a private in-memory email database with the
// email_messages and attachments schema applied. It is closed when the test
// ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open email database: %v", err)
	}
	// A second pooled connection would see a different, empty database.
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	driver, err := sqlite3.WithInstance(database, &sqlite3.Config{})
	if err != nil {
		t.Fatalf("sqlite3 migration driver: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsURL(t), "sqlite3", driver)
	if err != nil {
		t.Fatalf("load email migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("apply email migrations: %v", err)
	}
	return database
}
