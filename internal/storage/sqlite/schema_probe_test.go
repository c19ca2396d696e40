package sqlite

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProbeSchema_AllTablesPresent(t *testing.T) {
	db := openRaw(t)

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	result := probeSchema(db)
	if !result.Compatible {
		t.Errorf("expected schema to be compatible, got: %s", result.ErrorMessage)
	}
	if len(result.MissingTables) > 0 {
		t.Errorf("unexpected missing tables: %v", result.MissingTables)
	}
	if len(result.MissingColumns) > 0 {
		t.Errorf("unexpected missing columns: %v", result.MissingColumns)
	}
}

func TestProbeSchema_MissingTable(t *testing.T) {
	db := openRaw(t)

	// bug_records only, no metadata
	if _, err := db.Exec(`CREATE TABLE bug_records (ticket_id TEXT, sort_key TEXT)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	result := probeSchema(db)
	if result.Compatible {
		t.Error("expected schema to be incompatible (missing tables)")
	}
	found := false
	for _, table := range result.MissingTables {
		if table == "metadata" {
			found = true
		}
	}
	if !found {
		t.Errorf("MissingTables = %v, want metadata listed", result.MissingTables)
	}
}

func TestProbeSchema_MissingColumnBeforeMigrations(t *testing.T) {
	db := openRaw(t)

	// Base schema without migrations lacks linked_from, stale and extra
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	result := probeSchema(db)
	if result.Compatible {
		t.Fatal("expected schema to be incompatible before migrations")
	}
	cols := result.MissingColumns["bug_records"]
	want := map[string]bool{"linked_from": true, "stale": true, "extra": true}
	if len(cols) != len(want) {
		t.Fatalf("missing columns = %v, want linked_from, stale, extra", cols)
	}
	for _, c := range cols {
		if !want[c] {
			t.Errorf("unexpected missing column %q", c)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := openRaw(t)

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := RunMigrations(db); err != nil {
			t.Fatalf("RunMigrations pass %d failed: %v", i+1, err)
		}
	}
	if err := verifySchemaCompatibility(db); err != nil {
		t.Errorf("expected schema to be compatible, got error: %v", err)
	}
}

func TestVerifySchemaCompatibility_Incompatible(t *testing.T) {
	db := openRaw(t)

	if _, err := db.Exec(`CREATE TABLE bug_records (ticket_id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	err := verifySchemaCompatibility(db)
	if err == nil {
		t.Fatal("expected schema incompatibility error")
	}
	if !errors.Is(err, ErrSchemaIncompatible) {
		t.Errorf("expected ErrSchemaIncompatible, got %v", err)
	}
}
