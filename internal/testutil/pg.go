// Package testutil provides shared helpers for integration tests.
package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// OpenDB opens the database named by POSTGRES_URL and brings the schema up
// to date via goose. Tests are skipped when POSTGRES_URL is unset, so the
// default `go test ./...` run stays hermetic.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	goose.SetLogger(goose.NopLogger())
	if err := goose.Up(db, migrationsDir(t)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Truncate empties the named tables between tests. TRUNCATE bypasses
// row-level triggers, so it works on the append-only ledger and audit tables.
func Truncate(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	if len(tables) == 0 {
		return
	}
	_, err := db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tables, ", ")))
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

// migrationsDir locates the repository's migrations directory relative to
// this source file, so tests work regardless of the package they run from.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to resolve caller path")
	}
	dir := filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatalf("Failed to resolve migrations dir: %v", err)
	}
	return abs
}
