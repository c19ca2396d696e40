// Package migrations holds idempotent schema upgrades for the SQLite backend.
package migrations

import (
	"database/sql"
	"fmt"
)

// columnExists reports whether table has a column named column
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to check schema: %w", err)
	}

	found := false
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			found = true
			break
		}
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return false, fmt.Errorf("error reading column info: %w", err)
	}

	// Close rows before executing any statements to avoid deadlock with MaxOpenConns(1)
	rows.Close()
	return found, nil
}

// addColumn adds column to table unless it is already there
func addColumn(db *sql.DB, table, column, decl string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s column: %w", column, err)
	}
	return nil
}
