// Package config loads bt settings from flags, environment and config files.
//
// Precedence is flags > BT_* environment > config file > defaults. The file
// is .bugtracker/config.yaml in the working directory or an ancestor, then
// $XDG_CONFIG_HOME/bt/config.yaml, then ~/.bugtracker/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// WorkspaceDirName is the per-project directory holding the database and config
const WorkspaceDirName = ".bugtracker"

var v *viper.Viper

var (
	overridesMu sync.Mutex
	overrides   = map[string]interface{}{} // values given to Set, replayed on Reload
)

// Initialize sets up the package viper instance. It is safe to call again
// (tests); it forgets earlier Set overrides.
func Initialize() error {
	overridesMu.Lock()
	overrides = map[string]interface{}{}
	overridesMu.Unlock()

	var err error
	v, err = newViper(findConfigFile())
	return err
}

// newViper builds a viper over defaults, BT_* environment and the config file
// at path (none when path is empty)
func newViper(path string) (*viper.Viper, error) {
	nv := viper.New()
	nv.SetConfigType("yaml")

	if path != "" {
		nv.SetConfigFile(path)
	}

	// BT_SLACK_TOKEN -> slack.token, BT_NO_DB -> no-db
	nv.SetEnvPrefix("BT")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	setDefaults(nv)

	if nv.ConfigFileUsed() != "" {
		if err := nv.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nv, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}
	return nv, nil
}

func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; dir = filepath.Dir(dir) {
			p := filepath.Join(dir, WorkspaceDirName, "config.yaml")
			if _, err := os.Stat(p); err == nil {
				return p
			}
			if filepath.Dir(dir) == dir {
				break
			}
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "bt", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, WorkspaceDirName, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("json", false)
	v.SetDefault("no-db", false)
	v.SetDefault("db", "")
	v.SetDefault("namespace", "default")

	v.SetDefault("sync.interval", "6h")
	v.SetDefault("sync.stale-window", "24h")
	v.SetDefault("sync.http-timeout", "10s")

	v.SetDefault("batch.size", 25)
	v.SetDefault("batch.delay", "100ms")

	v.SetDefault("flow.top-cards", 15)
	v.SetDefault("flow.min-owners", 3)
	v.SetDefault("flow.min-channels", 2)

	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.connect", "")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("slack.base-url", "https://slack.com")
	v.SetDefault("slack.channels", []string{})
	v.SetDefault("slack.limit", 50)
	v.SetDefault("zendesk.base-url", "")
	v.SetDefault("shortcut.base-url", "https://api.app.shortcut.com")
	v.SetDefault("shortcut.workflow-states", []string{})

	v.SetDefault("vocabulary", "")
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// ConfigFileUsed returns the config file path, or "" when running on defaults
func ConfigFileUsed() string { return ensure().ConfigFileUsed() }

// GetString retrieves a string configuration value
func GetString(key string) string { return ensure().GetString(key) }

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool { return ensure().GetBool(key) }

// GetInt retrieves an integer configuration value
func GetInt(key string) int { return ensure().GetInt(key) }

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration { return ensure().GetDuration(key) }

// GetStringSlice retrieves a list value; comma separated env values are split
func GetStringSlice(key string) []string { return splitList(ensure().GetStringSlice(key)) }

func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Set overrides a value (flags, tests)
func Set(key string, value interface{}) {
	overridesMu.Lock()
	overrides[key] = value
	overridesMu.Unlock()
	ensure().Set(key, value)
}

// AllSettings returns every resolved setting
func AllSettings() map[string]interface{} { return ensure().AllSettings() }
