// Package sqlite - schema compatibility probing
package sqlite

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// ErrSchemaIncompatible is returned when the database schema is incompatible with the current version
var ErrSchemaIncompatible = fmt.Errorf("database schema is incompatible")

// expectedSchema defines all expected tables and their required columns.
// Used to verify migrations completed successfully.
var expectedSchema = map[string][]string{
	"bug_records": {
		"ticket_id", "sort_key", "source_system", "source_record_id",
		"priority", "state", "status", "subject", "text", "assignee", "channel",
		"created_at", "updated_at", "source_updated_at", "synced_at",
		"linked_from", "stale", "extra",
	},
	"metadata": {"key", "value"},
}

// SchemaProbeResult contains the results of a schema compatibility check
type SchemaProbeResult struct {
	Compatible     bool
	MissingTables  []string
	MissingColumns map[string][]string // table -> missing columns
	ErrorMessage   string
}

// probeSchema verifies all expected tables and columns exist
func probeSchema(db *sql.DB) SchemaProbeResult {
	result := SchemaProbeResult{
		Compatible:     true,
		MissingTables:  []string{},
		MissingColumns: make(map[string][]string),
	}

	tables := make([]string, 0, len(expectedSchema))
	for table := range expectedSchema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		expectedCols := expectedSchema[table]
		query := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(expectedCols, ", "), table)
		_, err := db.Exec(query)
		if err == nil {
			continue
		}

		errMsg := err.Error()
		if strings.Contains(errMsg, "no such table") {
			result.Compatible = false
			result.MissingTables = append(result.MissingTables, table)
			continue
		}
		if strings.Contains(errMsg, "no such column") {
			result.Compatible = false
			if missingCols := findMissingColumns(db, table, expectedCols); len(missingCols) > 0 {
				result.MissingColumns[table] = missingCols
			}
		}
	}

	if !result.Compatible {
		var parts []string
		if len(result.MissingTables) > 0 {
			parts = append(parts, fmt.Sprintf("missing tables: %s", strings.Join(result.MissingTables, ", ")))
		}
		for _, table := range tables {
			if cols, ok := result.MissingColumns[table]; ok {
				parts = append(parts, fmt.Sprintf("missing columns in %s: %s", table, strings.Join(cols, ", ")))
			}
		}
		result.ErrorMessage = strings.Join(parts, "; ")
	}

	return result
}

// findMissingColumns determines which columns are missing from a table
func findMissingColumns(db *sql.DB, table string, expectedCols []string) []string {
	missing := []string{}
	for _, col := range expectedCols {
		query := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", col, table)
		if _, err := db.Exec(query); err != nil && strings.Contains(err.Error(), "no such column") {
			missing = append(missing, col)
		}
	}
	return missing
}

// verifySchemaCompatibility runs schema probe and returns detailed error on failure
func verifySchemaCompatibility(db *sql.DB) error {
	result := probeSchema(db)
	if !result.Compatible {
		return fmt.Errorf("%w: %s", ErrSchemaIncompatible, result.ErrorMessage)
	}
	return nil
}

// ProbeSchema exposes the probe result for diagnostics (bt doctor)
func (s *SQLiteStorage) ProbeSchema() SchemaProbeResult {
	return probeSchema(s.db)
}
