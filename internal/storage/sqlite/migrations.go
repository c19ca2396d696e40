package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/castifi/bugtracker/internal/storage/sqlite/migrations"
)

// Migration is a named, idempotent schema upgrade
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

var migrationsList = []Migration{
	{"linkage_columns", migrations.MigrateLinkageColumns},
	{"extra_column", migrations.MigrateExtraColumn},
	{"sort_key_index", migrations.MigrateSortKeyIndex},
}

// MigrationNames returns the registered migrations in order
func MigrationNames() []string {
	names := make([]string, len(migrationsList))
	for i, m := range migrationsList {
		names[i] = m.Name
	}
	return names
}

// RunMigrations applies every migration in order. Each one checks the current
// schema first, so running them against an up-to-date database is a no-op.
func RunMigrations(db *sql.DB) error {
	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}
