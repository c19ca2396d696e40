package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateSortKeyIndex indexes sort_key so ingestion can find the ticket that
// currently holds a source record after it was linked
func MigrateSortKeyIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_bug_records_sort_key ON bug_records(sort_key)`)
	if err != nil {
		return fmt.Errorf("failed to create index on sort_key: %w", err)
	}
	return nil
}
