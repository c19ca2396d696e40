package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/castifi/bugtracker/internal/correlate"
	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/sources"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// Config is the resolved process configuration. It is built once at start
// and passed down; library packages never read viper directly.
type Config struct {
	DBPath    string
	NoDB      bool
	JSON      bool
	Namespace string

	SyncInterval time.Duration
	StaleWindow  time.Duration
	HTTPTimeout  time.Duration

	BatchSize  int
	BatchDelay time.Duration

	Flow correlate.FlowConfig

	ServerAddr string

	LogFile     string
	LogRotation logging.RotationConfig

	Slack    sources.SlackConfig
	Zendesk  sources.ZendeskConfig
	Shortcut sources.ShortcutConfig

	// VocabularyPath points at an optional YAML state vocabulary
	VocabularyPath string
}

// Load resolves the current settings into a Config
func Load() (*Config, error) {
	return loadFrom(ensure())
}

// Reload reads the config file at path into a fresh Config without touching
// the package settings, so a watcher goroutine can call it while commands
// read config. Values given to Set are applied on top, as at startup.
func Reload(path string) (*Config, error) {
	nv, err := newViper(path)
	if err != nil {
		return nil, err
	}
	overridesMu.Lock()
	for key, value := range overrides {
		nv.Set(key, value)
	}
	overridesMu.Unlock()
	return loadFrom(nv)
}

func loadFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath:    v.GetString("db"),
		NoDB:      v.GetBool("no-db"),
		JSON:      v.GetBool("json"),
		Namespace: v.GetString("namespace"),

		SyncInterval: v.GetDuration("sync.interval"),
		StaleWindow:  v.GetDuration("sync.stale-window"),
		HTTPTimeout:  v.GetDuration("sync.http-timeout"),

		BatchSize:  v.GetInt("batch.size"),
		BatchDelay: v.GetDuration("batch.delay"),

		Flow: correlate.FlowConfig{
			TopCards:    v.GetInt("flow.top-cards"),
			MinOwners:   v.GetInt("flow.min-owners"),
			MinChannels: v.GetInt("flow.min-channels"),
		},

		ServerAddr: v.GetString("server.addr"),

		LogFile: v.GetString("log.file"),
		LogRotation: logging.RotationConfig{
			MaxSizeMB:  v.GetInt("log.max-size-mb"),
			MaxBackups: v.GetInt("log.max-backups"),
			MaxAgeDays: v.GetInt("log.max-age-days"),
			Compress:   v.GetBool("log.compress"),
		},

		VocabularyPath: v.GetString("vocabulary"),
	}

	cfg.Slack = sources.SlackConfig{
		BaseURL:  v.GetString("slack.base-url"),
		Token:    v.GetString("slack.token"),
		Channels: splitList(v.GetStringSlice("slack.channels")),
		Limit:    v.GetInt("slack.limit"),
		Timeout:  cfg.HTTPTimeout,
	}
	cfg.Zendesk = sources.ZendeskConfig{
		BaseURL:   v.GetString("zendesk.base-url"),
		Subdomain: v.GetString("zendesk.subdomain"),
		Email:     v.GetString("zendesk.email"),
		APIToken:  v.GetString("zendesk.api-token"),
		Timeout:   cfg.HTTPTimeout,
	}
	cfg.Shortcut = sources.ShortcutConfig{
		BaseURL:        v.GetString("shortcut.base-url"),
		APIToken:       v.GetString("shortcut.api-token"),
		WorkflowStates: splitList(v.GetStringSlice("shortcut.workflow-states")),
		PageSize:       v.GetInt("shortcut.page-size"),
		Timeout:        cfg.HTTPTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	if c.SyncInterval < 0 || c.StaleWindow < 0 || c.HTTPTimeout < 0 || c.BatchDelay < 0 {
		return fmt.Errorf("%w: durations must not be negative", types.ErrMalformedInput)
	}
	if c.BatchSize < 0 || c.BatchSize > storage.MaxBatchSize {
		return fmt.Errorf("%w: batch.size must be between 1 and %d, got %d", types.ErrMalformedInput, storage.MaxBatchSize, c.BatchSize)
	}
	return nil
}

// Batcher returns the store write chunker for these settings
func (c *Config) Batcher() *storage.Batcher {
	return storage.NewBatcher(c.BatchSize, c.BatchDelay)
}
