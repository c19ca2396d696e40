// Package configfile reads and writes the workspace metadata.json, which names
// the database and export files inside a .bugtracker directory.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const ConfigFileName = "metadata.json"

// DefaultExport is the JSONL snapshot written by `bt export`
const DefaultExport = "records.jsonl"

type Config struct {
	Database  string `json:"database"`
	Export    string `json:"export,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Version   string `json:"version,omitempty"`
}

func DefaultConfig(version string) *Config {
	return &Config{
		Database:  "bugtracker.db",
		Export:    DefaultExport,
		Namespace: "default",
		Version:   version,
	}
}

func ConfigPath(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// Load returns nil, nil when the workspace has no metadata file. A legacy
// workspace.json is migrated to metadata.json on first read.
func Load(dir string) (*Config, error) {
	configPath := ConfigPath(dir)

	data, err := os.ReadFile(configPath) // #nosec G304 - controlled path from config
	if os.IsNotExist(err) {
		legacyPath := filepath.Join(dir, "workspace.json")
		data, err = os.ReadFile(legacyPath) // #nosec G304 - controlled path from config
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading legacy config: %w", err)
		}

		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing legacy config: %w", err)
		}
		if err := cfg.Save(dir); err != nil {
			return nil, fmt.Errorf("migrating config to metadata.json: %w", err)
		}
		_ = os.Remove(legacyPath)
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Save(dir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(dir), data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) DatabasePath(dir string) string {
	return filepath.Join(dir, c.Database)
}

func (c *Config) ExportPath(dir string) string {
	if c.Export == "" {
		return filepath.Join(dir, DefaultExport)
	}
	return filepath.Join(dir, c.Export)
}
