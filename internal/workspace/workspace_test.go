package workspace

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/castifi/bugtracker/internal/configfile"
	"github.com/castifi/bugtracker/internal/storage/sqlite"
	"github.com/castifi/bugtracker/internal/utils"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
}

func clearEnv(t *testing.T) {
	t.Setenv("BT_DIR", "")
	t.Setenv("BT_DB", "")
}

func TestFindDatabasePathInAncestor(t *testing.T) {
	clearEnv(t)
	root := utils.CanonicalizePath(t.TempDir())
	db := filepath.Join(root, DirName, CanonicalDatabaseName)
	touch(t, db)
	sub := filepath.Join(root, "src", "pkg")
	if err := os.MkdirAll(sub, 0750); err != nil {
		t.Fatal(err)
	}
	chdir(t, sub)

	if got := FindDatabasePath(); got != db {
		t.Errorf("FindDatabasePath() = %q, want %q", got, db)
	}
	if got := FindWorkspaceDir(); got != filepath.Join(root, DirName) {
		t.Errorf("FindWorkspaceDir() = %q", got)
	}
}

func TestFindDatabasePathPrefersMetadata(t *testing.T) {
	clearEnv(t)
	root := utils.CanonicalizePath(t.TempDir())
	ws := filepath.Join(root, DirName)
	touch(t, filepath.Join(ws, CanonicalDatabaseName))
	custom := filepath.Join(ws, "custom.db")
	touch(t, custom)
	if err := (&configfile.Config{Database: "custom.db"}).Save(ws); err != nil {
		t.Fatal(err)
	}
	chdir(t, root)

	if got := FindDatabasePath(); got != custom {
		t.Errorf("FindDatabasePath() = %q, want %q", got, custom)
	}
	if got := FindExportPath(custom); got != filepath.Join(ws, configfile.DefaultExport) {
		t.Errorf("FindExportPath() = %q", got)
	}
}

func TestFindDatabasePathEnv(t *testing.T) {
	clearEnv(t)
	root := utils.CanonicalizePath(t.TempDir())
	chdir(t, root)

	ws := filepath.Join(root, "elsewhere")
	db := filepath.Join(ws, CanonicalDatabaseName)
	touch(t, db)
	t.Setenv("BT_DIR", ws)
	if got := FindDatabasePath(); got != db {
		t.Errorf("BT_DIR: FindDatabasePath() = %q, want %q", got, db)
	}
	if got := FindWorkspaceDir(); got != ws {
		t.Errorf("BT_DIR: FindWorkspaceDir() = %q, want %q", got, ws)
	}

	t.Setenv("BT_DIR", "")
	direct := filepath.Join(root, "direct.db")
	t.Setenv("BT_DB", direct)
	if got := FindDatabasePath(); got != direct {
		t.Errorf("BT_DB: FindDatabasePath() = %q, want %q", got, direct)
	}
}

func TestFindDatabasePathNone(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	if got := FindDatabasePath(); got != "" {
		t.Errorf("FindDatabasePath() = %q, want empty", got)
	}
}

func TestMultipleDatabasesWarn(t *testing.T) {
	clearEnv(t)
	root := utils.CanonicalizePath(t.TempDir())
	ws := filepath.Join(root, DirName)
	touch(t, filepath.Join(ws, "a.db"))
	touch(t, filepath.Join(ws, "b.db"))
	touch(t, filepath.Join(ws, "a.backup.db"))
	chdir(t, root)

	var buf bytes.Buffer
	old := Warnings
	Warnings = &buf
	t.Cleanup(func() { Warnings = old })

	if got := FindDatabasePath(); got != filepath.Join(ws, "a.db") {
		t.Errorf("FindDatabasePath() = %q", got)
	}
	if !strings.Contains(buf.String(), "Multiple database files") || strings.Contains(buf.String(), "backup") {
		t.Errorf("warning = %q", buf.String())
	}
}

func TestFindAllDatabases(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()
	root := utils.CanonicalizePath(t.TempDir())
	outerDB := filepath.Join(root, DirName, CanonicalDatabaseName)
	store, err := sqlite.New(outerDB)
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	_ = store.Close()

	inner := filepath.Join(root, "nested")
	touch(t, filepath.Join(inner, DirName, "broken.db"))
	if err := os.WriteFile(filepath.Join(inner, DirName, "broken.db"), []byte("not sqlite"), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, inner)

	all := FindAllDatabases(ctx)
	if len(all) != 2 {
		t.Fatalf("found %d databases: %+v", len(all), all)
	}
	if all[0].RecordCount != -1 {
		t.Errorf("broken database count = %d, want -1", all[0].RecordCount)
	}
	if all[1].Path != outerDB || all[1].RecordCount != 0 {
		t.Errorf("outer = %+v", all[1])
	}
}
