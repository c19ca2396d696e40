package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateLinkageColumns adds linked_from and stale, used by the linker and stale scanner
func MigrateLinkageColumns(db *sql.DB) error {
	if err := addColumn(db, "bug_records", "linked_from", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumn(db, "bug_records", "stale", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	// Reconcile looks up copies by their old ticket id (idempotent)
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_bug_records_linked_from ON bug_records(linked_from) WHERE linked_from != ''`)
	if err != nil {
		return fmt.Errorf("failed to create index on linked_from: %w", err)
	}
	return nil
}
