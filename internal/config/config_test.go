package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/castifi/bugtracker/internal/types"
)

// chdir moves into dir for the duration of the test
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

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	chdir(t, dir)
	return dir
}

func TestDefaults(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SyncInterval != 6*time.Hour || cfg.StaleWindow != 24*time.Hour || cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("durations = %v %v %v", cfg.SyncInterval, cfg.StaleWindow, cfg.HTTPTimeout)
	}
	if cfg.BatchSize != 25 || cfg.BatchDelay != 100*time.Millisecond {
		t.Errorf("batch = %d %v", cfg.BatchSize, cfg.BatchDelay)
	}
	if cfg.Flow.TopCards != 15 || cfg.Flow.MinOwners != 3 || cfg.Flow.MinChannels != 2 {
		t.Errorf("flow = %+v", cfg.Flow)
	}
	if cfg.Slack.Timeout != cfg.HTTPTimeout || cfg.Shortcut.BaseURL != "https://api.app.shortcut.com" {
		t.Errorf("sources = %+v / %+v", cfg.Slack, cfg.Shortcut)
	}
	if ConfigFileUsed() != "" {
		t.Errorf("unexpected config file %s", ConfigFileUsed())
	}
}

func TestConfigFileInAncestor(t *testing.T) {
	root := isolate(t)
	ws := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(ws, 0750); err != nil {
		t.Fatal(err)
	}
	yaml := "sync:\n  interval: 30m\nslack:\n  token: xoxb-file\n  channels: [C01, C02]\nflow:\n  top-cards: 5\n"
	if err := os.WriteFile(filepath.Join(ws, "config.yaml"), []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0750); err != nil {
		t.Fatal(err)
	}
	chdir(t, sub)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SyncInterval != 30*time.Minute || cfg.Flow.TopCards != 5 {
		t.Errorf("file values not applied: %v %d", cfg.SyncInterval, cfg.Flow.TopCards)
	}
	if cfg.Slack.Token != "xoxb-file" || len(cfg.Slack.Channels) != 2 {
		t.Errorf("slack = %+v", cfg.Slack)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t)
	t.Setenv("BT_SLACK_TOKEN", "xoxb-env")
	t.Setenv("BT_SLACK_CHANNELS", "C01, C02,C03")
	t.Setenv("BT_NO_DB", "true")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Slack.Token != "xoxb-env" || !cfg.NoDB {
		t.Errorf("env not applied: token=%q nodb=%v", cfg.Slack.Token, cfg.NoDB)
	}
	if len(cfg.Slack.Channels) != 3 || cfg.Slack.Channels[1] != "C02" {
		t.Errorf("channels = %q", cfg.Slack.Channels)
	}
}

func TestValidateRejectsBadBatch(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	Set("batch.size", 100)
	if _, err := Load(); !errors.Is(err, types.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func TestReloadUsesFreshSettings(t *testing.T) {
	root := isolate(t)
	ws := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(ws, 0750); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(ws, "config.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  interval: 1h\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Set("db", filepath.Join(root, "flag.db"))

	if err := os.WriteFile(path, []byte("sync:\n  interval: 45m\n  stale-window: 2h\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]*Config, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Reload(path)
		}(i)
	}
	startup, err := Load()
	wg.Wait()

	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if startup.SyncInterval != time.Hour {
		t.Errorf("package settings changed by Reload: interval %v", startup.SyncInterval)
	}
	for i, cfg := range results {
		if errs[i] != nil {
			t.Fatalf("Reload failed: %v", errs[i])
		}
		if cfg.SyncInterval != 45*time.Minute || cfg.StaleWindow != 2*time.Hour {
			t.Errorf("reloaded durations = %v %v", cfg.SyncInterval, cfg.StaleWindow)
		}
		if cfg.DBPath != filepath.Join(root, "flag.db") {
			t.Errorf("flag override lost on reload: db = %q", cfg.DBPath)
		}
	}

	if err := os.WriteFile(path, []byte("sync: [unclosed\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Reload(path); err == nil {
		t.Error("expected an error for unparseable config")
	}
}
