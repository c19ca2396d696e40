package configfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("0.3.0")

	if cfg.Database != "bugtracker.db" {
		t.Errorf("Database = %q, want bugtracker.db", cfg.Database)
	}
	if cfg.Export != "records.jsonl" {
		t.Errorf("Export = %q, want records.jsonl", cfg.Export)
	}
	if cfg.Version != "0.3.0" {
		t.Errorf("Version = %q", cfg.Version)
	}
}

func TestLoadSaveRoundtrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".bugtracker")
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("failed to create workspace directory: %v", err)
	}

	cfg := DefaultConfig("0.3.0")
	cfg.Namespace = "staging"
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() returned error for nonexistent config: %v", err)
	}
	if cfg != nil {
		t.Errorf("Load() = %v, want nil for nonexistent config", cfg)
	}
}

func TestLoadMigratesLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "workspace.json")
	if err := os.WriteFile(legacy, []byte(`{"database":"old.db"}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg == nil || cfg.Database != "old.db" {
		t.Fatalf("Load() = %+v", cfg)
	}
	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("legacy file was not removed")
	}
	if _, err := os.Stat(ConfigPath(dir)); err != nil {
		t.Errorf("metadata.json not written: %v", err)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(ConfigPath(dir), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestExportPath(t *testing.T) {
	dir := "/home/user/project/.bugtracker"

	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{"default", &Config{Export: "records.jsonl"}, filepath.Join(dir, "records.jsonl")},
		{"custom", &Config{Export: "custom.jsonl"}, filepath.Join(dir, "custom.jsonl")},
		{"empty falls back to default", &Config{}, filepath.Join(dir, "records.jsonl")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ExportPath(dir); got != tt.want {
				t.Errorf("ExportPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	dir := "/home/user/project/.bugtracker"
	if got, want := ConfigPath(dir), filepath.Join(dir, "metadata.json"); got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
	cfg := &Config{Database: "bugtracker.db"}
	if got, want := cfg.DatabasePath(dir), filepath.Join(dir, "bugtracker.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
}
