// Package workspace locates the .bugtracker directory and the database inside it.
//
// Search order for the database:
//  1. $BT_DIR (points to a .bugtracker directory)
//  2. $BT_DB (points directly to a database file)
//  3. .bugtracker/*.db in the current directory or an ancestor
package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/castifi/bugtracker/internal/configfile"
	"github.com/castifi/bugtracker/internal/storage/sqlite"
	"github.com/castifi/bugtracker/internal/utils"
)

// DirName is the per-project workspace directory
const DirName = ".bugtracker"

// CanonicalDatabaseName is the database filename written by `bt init`
const CanonicalDatabaseName = "bugtracker.db"

// Warnings receives ambiguity notices from the tree search
var Warnings io.Writer = os.Stderr

// FindDatabasePath returns the database path, or "" if none is found
func FindDatabasePath() string {
	if dir := os.Getenv("BT_DIR"); dir != "" {
		if db := databaseIn(utils.CanonicalizePath(dir)); db != "" {
			return db
		}
		// BT_DIR without a database is fine for --no-db
	}

	if envDB := os.Getenv("BT_DB"); envDB != "" {
		return utils.CanonicalizePath(envDB)
	}

	if found := findDatabaseInTree(); found != "" {
		return utils.CanonicalizePath(found)
	}
	return ""
}

// FindWorkspaceDir returns the nearest .bugtracker directory, or "".
// It does not require a database to exist.
func FindWorkspaceDir() string {
	if dir := os.Getenv("BT_DIR"); dir != "" {
		abs := utils.CanonicalizePath(dir)
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			return abs
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		ws := filepath.Join(dir, DirName)
		if info, err := os.Stat(ws); err == nil && info.IsDir() {
			return ws
		}
		if filepath.Dir(dir) == dir {
			return ""
		}
	}
}

// FindExportPath returns the JSONL export path for the workspace holding dbPath
func FindExportPath(dbPath string) string {
	if dbPath == "" {
		return ""
	}
	dir := filepath.Dir(dbPath)
	if cfg, err := configfile.Load(dir); err == nil && cfg != nil {
		return cfg.ExportPath(dir)
	}
	return filepath.Join(dir, configfile.DefaultExport)
}

// databaseIn resolves the database inside one workspace directory:
// metadata.json first, then the canonical name, then any *.db file.
func databaseIn(dir string) string {
	if cfg, err := configfile.Load(dir); err == nil && cfg != nil {
		dbPath := cfg.DatabasePath(dir)
		if _, err := os.Stat(dbPath); err == nil {
			return dbPath
		}
	}

	canonical := filepath.Join(dir, CanonicalDatabaseName)
	if _, err := os.Stat(canonical); err == nil {
		return canonical
	}

	dbs := candidateDatabases(dir)
	if len(dbs) > 1 {
		fmt.Fprintf(Warnings, "Warning: Multiple database files found in %s:\n", dir)
		for _, db := range dbs {
			fmt.Fprintf(Warnings, "  - %s\n", filepath.Base(db))
		}
		fmt.Fprintf(Warnings, "Run 'bt init' to create %s or remove the extra databases.\n\n", CanonicalDatabaseName)
	}
	if len(dbs) > 0 {
		return dbs[0]
	}
	return ""
}

// candidateDatabases lists *.db files, skipping backups
func candidateDatabases(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		if !strings.Contains(filepath.Base(m), ".backup") {
			out = append(out, m)
		}
	}
	return out
}

func findDatabaseInTree() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	for {
		ws := filepath.Join(dir, DirName)
		if info, err := os.Stat(ws); err == nil && info.IsDir() {
			if db := databaseIn(ws); db != "" {
				return db
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// DatabaseInfo describes one discovered workspace database
type DatabaseInfo struct {
	Path         string `json:"path"`
	WorkspaceDir string `json:"workspace_dir"`
	RecordCount  int    `json:"record_count"` // -1 if the database could not be opened
}

// FindAllDatabases lists workspace databases from the current directory up,
// closest first. Record counts are best effort.
func FindAllDatabases(ctx context.Context) []DatabaseInfo {
	var databases []DatabaseInfo

	dir, err := os.Getwd()
	if err != nil {
		return databases
	}

	for {
		ws := filepath.Join(dir, DirName)
		if info, err := os.Stat(ws); err == nil && info.IsDir() {
			if dbs := candidateDatabases(ws); len(dbs) > 0 {
				count := -1
				if store, err := sqlite.New(dbs[0]); err == nil {
					if n, err := store.Count(ctx); err == nil {
						count = n
					}
					_ = store.Close()
				}
				databases = append(databases, DatabaseInfo{Path: dbs[0], WorkspaceDir: ws, RecordCount: count})
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return databases
}
