package migrations

import "database/sql"

// MigrateExtraColumn adds the JSON column holding source-specific passthrough attributes
func MigrateExtraColumn(db *sql.DB) error {
	return addColumn(db, "bug_records", "extra", "TEXT NOT NULL DEFAULT '{}'")
}
