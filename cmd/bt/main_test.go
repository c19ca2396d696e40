package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/castifi/bugtracker/internal/config"
	"github.com/castifi/bugtracker/internal/storage/jsonl"
	"github.com/castifi/bugtracker/internal/storage/sqlite"
	"github.com/castifi/bugtracker/internal/types"
	"github.com/castifi/bugtracker/internal/workspace"
)

// inProcessMutex serializes rootCmd, viper and the package globals
var inProcessMutex sync.Mutex

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

// newTestDir returns an empty project directory with HOME and XDG isolated
func newTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("BT_DB", "")
	t.Setenv("BT_NO_DB", "")
	chdir(t, dir)
	return dir
}

// setupWorkspace runs `bt init` and seeds the database with recs
func setupWorkspace(t *testing.T, recs ...*types.BugRecord) string {
	t.Helper()
	dir := newTestDir(t)
	if out, err := runBT(t, "init", "--quiet"); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	if len(recs) > 0 {
		seedDatabase(t, filepath.Join(dir, workspace.DirName, workspace.CanonicalDatabaseName), time.Now(), recs...)
	}
	return dir
}

func seedDatabase(t *testing.T, path string, syncedAt time.Time, recs ...*types.BugRecord) {
	t.Helper()
	db, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	db.SetClock(func() time.Time { return syncedAt })
	for _, r := range recs {
		if err := db.Upsert(context.Background(), r); err != nil {
			t.Fatalf("Upsert %s failed: %v", r.TicketID, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
}

// resetFlags puts every flag back to its default so values from one run do
// not leak into the next
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runBT executes bt in-process in the current directory and returns stdout
func runBT(t *testing.T, args ...string) (string, error) {
	t.Helper()
	inProcessMutex.Lock()
	defer inProcessMutex.Unlock()

	if err := config.Initialize(); err != nil {
		t.Fatalf("config.Initialize failed: %v", err)
	}
	resetFlags(rootCmd)
	dbPath, jsonOutput, noDb, serverAddr, verbose = "", false, false, "", false
	cfg, mode, exportPath = nil, "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if cerr := closeStore(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	rootCmd.SetArgs(nil)
	return out.String(), err
}

func mustRunBT(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runBT(t, args...)
	if err != nil {
		t.Fatalf("bt %v failed: %v\n%s", args, err, out)
	}
	return out
}

func zendeskRecord(id, priority string, state types.State, created time.Time) *types.BugRecord {
	return &types.BugRecord{
		TicketID:       "ZD-" + id,
		SourceSystem:   types.SourceZendesk,
		SourceRecordID: id,
		Priority:       priority,
		State:          state,
		Subject:        "Checkout fails for ticket " + id,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func slackRecord(ticketID, ts, text string, created time.Time) *types.BugRecord {
	return &types.BugRecord{
		TicketID:       ticketID,
		SourceSystem:   types.SourceSlack,
		SourceRecordID: ts,
		Priority:       types.PriorityHigh,
		State:          types.StateOpen,
		Text:           text,
		Channel:        "C0BUGS",
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestInitCreatesWorkspace(t *testing.T) {
	dir := newTestDir(t)
	out := mustRunBT(t, "init")
	if !strings.Contains(out, "bt initialized") {
		t.Errorf("unexpected init output: %s", out)
	}

	ws := filepath.Join(dir, workspace.DirName)
	for _, name := range []string{workspace.CanonicalDatabaseName, "metadata.json", "config.yaml", ".gitignore"} {
		if _, err := os.Stat(filepath.Join(ws, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	// A second init keeps the workspace
	mustRunBT(t, "init", "--quiet")
}

func TestInitRefusesInsideWorkspace(t *testing.T) {
	dir := newTestDir(t)
	inner := filepath.Join(dir, workspace.DirName)
	if err := os.MkdirAll(inner, 0o750); err != nil {
		t.Fatal(err)
	}
	chdir(t, inner)
	if _, err := runBT(t, "init", "--quiet"); err == nil {
		t.Fatal("expected init inside .bugtracker to fail")
	}
}

func TestCommandWithoutWorkspace(t *testing.T) {
	newTestDir(t)
	_, err := runBT(t, "list")
	if err == nil || !strings.Contains(err.Error(), "bt init") {
		t.Fatalf("expected a 'bt init' hint, got %v", err)
	}
}

func TestQueryCommands(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	setupWorkspace(t,
		zendeskRecord("101", types.PriorityHigh, types.StateOpen, now.Add(-2*time.Hour)),
		zendeskRecord("102", types.PriorityLow, types.StateClosed, now.Add(-time.Hour)),
		slackRecord("SL-00aa11bb22cc33dd", "1700000000.000100", "AUTHOR: jane\ncart is empty", now),
	)

	t.Run("by-ticket resolves bare numbers", func(t *testing.T) {
		out := mustRunBT(t, "by-ticket", "101")
		if !strings.Contains(out, "ZD-101") || strings.Contains(out, "ZD-102") {
			t.Errorf("by-ticket output: %s", out)
		}
	})

	t.Run("unknown ticket is empty", func(t *testing.T) {
		out := mustRunBT(t, "by-ticket", "999")
		if !strings.Contains(out, "No records found") {
			t.Errorf("by-ticket output: %s", out)
		}
	})

	t.Run("by-priority json", func(t *testing.T) {
		out := mustRunBT(t, "--json", "by-priority", "high")
		var res struct {
			Success bool              `json:"success"`
			Count   int               `json:"count"`
			Items   []types.BugRecord `json:"items"`
		}
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("bad JSON: %v\n%s", err, out)
		}
		if !res.Success || res.Count != 2 {
			t.Errorf("by-priority High: success=%v count=%d", res.Success, res.Count)
		}
	})

	t.Run("list filtered by source", func(t *testing.T) {
		out := mustRunBT(t, "list", "--source", "slack")
		if !strings.Contains(out, "SL-00aa11bb22cc33dd") || strings.Contains(out, "ZD-101") {
			t.Errorf("list --source slack: %s", out)
		}
	})

	t.Run("list rejects two filters", func(t *testing.T) {
		if _, err := runBT(t, "list", "--source", "slack", "--priority", "High"); err == nil {
			t.Error("expected an error for --source with --priority")
		}
	})

	t.Run("list without filters", func(t *testing.T) {
		out := mustRunBT(t, "list")
		if !strings.Contains(out, "3 record(s)") {
			t.Errorf("list: %s", out)
		}
	})

	t.Run("summary", func(t *testing.T) {
		out := mustRunBT(t, "summary")
		if !strings.Contains(out, "Total bugs: 3") {
			t.Errorf("summary: %s", out)
		}
	})

	t.Run("by-source rejects unknown systems", func(t *testing.T) {
		if _, err := runBT(t, "by-source", "jira"); err == nil {
			t.Error("expected an error for an unknown source system")
		}
	})
}

func TestLinkCommands(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	setupWorkspace(t,
		zendeskRecord("7", types.PriorityHigh, types.StateOpen, now.Add(-time.Hour)),
		slackRecord("SL-0123456789abcdef", "1700000000.000200", "AUTHOR: sam\nlogin loop", now),
	)

	out := mustRunBT(t, "unlinked")
	if !strings.Contains(out, "SL-0123456789abcdef") {
		t.Fatalf("unlinked: %s", out)
	}

	out = mustRunBT(t, "link", "SL-0123456789abcdef", "7")
	if !strings.Contains(out, "Successfully linked 1 records to ZD-7") {
		t.Errorf("link: %s", out)
	}

	out = mustRunBT(t, "--json", "ticket", "7")
	var summary struct {
		TicketID string `json:"ticket_id"`
		Count    int    `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, out)
	}
	if summary.TicketID != "ZD-7" || summary.Count != 2 {
		t.Errorf("ticket summary = %+v", summary)
	}

	out = mustRunBT(t, "unlinked")
	if !strings.Contains(out, "Every Slack report is linked") {
		t.Errorf("unlinked after link: %s", out)
	}

	if _, err := runBT(t, "link", "SL-0123456789abcdef", "7"); err == nil {
		t.Error("expected relinking a moved ticket to fail")
	}
}

func TestCleanupSlack(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	dir := setupWorkspace(t,
		slackRecord("SL-aaaaaaaaaaaaaaaa", "1700000000.000300", "author: kim\nsearch is slow", now),
		slackRecord("SL-bbbbbbbbbbbbbbbb", "1700000000.000400", "Please fill in the bug template", now),
	)

	out := mustRunBT(t, "cleanup", "slack", "--dry-run")
	if !strings.Contains(out, "SL-bbbbbbbbbbbbbbbb") || strings.Contains(out, "SL-aaaaaaaaaaaaaaaa/") {
		t.Errorf("dry run listed the wrong records: %s", out)
	}
	if !strings.Contains(out, "would delete 1") {
		t.Errorf("dry run summary: %s", out)
	}

	mustRunBT(t, "cleanup", "slack")

	db, err := sqlite.New(filepath.Join(dir, workspace.DirName, workspace.CanonicalDatabaseName))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	n, err := db.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("records after cleanup = %d, want 1", n)
	}
}

func TestStaleCommand(t *testing.T) {
	dir := setupWorkspace(t)
	now := time.Now().UTC().Truncate(time.Second)
	seedDatabase(t, filepath.Join(dir, workspace.DirName, workspace.CanonicalDatabaseName), now.Add(-72*time.Hour),
		zendeskRecord("55", types.PriorityMedium, types.StateOpen, now.Add(-96*time.Hour)))

	out := mustRunBT(t, "--json", "stale", "--mark")
	var report struct {
		Count  int `json:"count"`
		Marked int `json:"marked"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, out)
	}
	if report.Count != 1 || report.Marked != 1 {
		t.Errorf("stale report = %+v", report)
	}

	// Already flagged records are reported but not marked again
	out = mustRunBT(t, "--json", "stale", "--mark")
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, out)
	}
	if report.Count != 1 || report.Marked != 0 {
		t.Errorf("second stale report = %+v", report)
	}

	out = mustRunBT(t, "stale", "--window", "100h")
	if !strings.Contains(out, "No records found") {
		t.Errorf("wide window should find nothing: %s", out)
	}
}

func TestExportImport(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	dir := setupWorkspace(t,
		zendeskRecord("1", types.PriorityHigh, types.StateOpen, now),
		zendeskRecord("2", types.PriorityLow, types.StateOpen, now),
	)

	out := mustRunBT(t, "export")
	if !strings.Contains(out, "Exported 2 records") {
		t.Errorf("export: %s", out)
	}
	exported := filepath.Join(dir, workspace.DirName, "records.jsonl")
	recs, err := jsonl.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].TicketID != "ZD-1" {
		t.Fatalf("exported records = %d", len(recs))
	}

	// Into a fresh workspace
	other := setupWorkspace(t)
	out = mustRunBT(t, "import", exported)
	if !strings.Contains(out, "Imported 2 records") {
		t.Errorf("import: %s", out)
	}
	out = mustRunBT(t, "list")
	if !strings.Contains(out, "ZD-2") {
		t.Errorf("list after import in %s: %s", other, out)
	}

	if _, err := runBT(t, "import", filepath.Join(other, "missing.jsonl")); err == nil {
		t.Error("expected importing a missing file to fail")
	}
}

func TestNoDbModeRoundTrip(t *testing.T) {
	dir := newTestDir(t)
	mustRunBT(t, "--no-db", "init", "--quiet")

	recordsFile := filepath.Join(dir, workspace.DirName, "records.jsonl")
	if _, err := os.Stat(recordsFile); err != nil {
		t.Fatalf("records file not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, workspace.DirName, workspace.CanonicalDatabaseName)); !os.IsNotExist(err) {
		t.Errorf("no-db init should not create a database (stat err %v)", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seed := filepath.Join(dir, "seed.jsonl")
	err := jsonl.WriteFileAtomic(seed, []*types.BugRecord{
		zendeskRecord("10", types.PriorityUrgent, types.StateOpen, now),
		slackRecord("ZD-10", "1700000000.000500", "AUTHOR: lee\nsame bug", now),
	})
	if err != nil {
		t.Fatal(err)
	}

	// config.yaml written by init turns on no-db for later commands
	out := mustRunBT(t, "import", seed)
	if !strings.Contains(out, "Imported 2 records") {
		t.Errorf("import: %s", out)
	}
	recs, err := jsonl.ReadFile(recordsFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records file holds %d records, want 2", len(recs))
	}

	out = mustRunBT(t, "by-ticket", "10")
	if !strings.Contains(out, "2 record(s)") {
		t.Errorf("by-ticket in no-db mode: %s", out)
	}

	out = mustRunBT(t, "--json", "info")
	var info map[string]interface{}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, out)
	}
	if info["mode"] != modeNoDB {
		t.Errorf("info mode = %v", info["mode"])
	}
}

func TestDoctor(t *testing.T) {
	setupWorkspace(t)
	out := mustRunBT(t, "--json", "doctor")
	var result doctorResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, out)
	}
	if !result.OverallOK {
		t.Errorf("doctor reported problems: %+v", result.Checks)
	}
	statuses := map[string]string{}
	for _, c := range result.Checks {
		statuses[c.Name] = c.Status
	}
	if statuses["Database"] != statusOK || statuses["Sources"] != statusWarning {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestDoctorWithoutWorkspace(t *testing.T) {
	newTestDir(t)
	out, err := runBT(t, "doctor")
	if err == nil {
		t.Fatal("expected doctor to fail without a workspace")
	}
	if !strings.Contains(out, "run 'bt init'") {
		t.Errorf("doctor output: %s", out)
	}
}

func TestVersion(t *testing.T) {
	newTestDir(t)
	out := mustRunBT(t, "version")
	if !strings.HasPrefix(out, "bt version "+Version) {
		t.Errorf("version: %s", out)
	}

	out = mustRunBT(t, "--json", "version")
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, out)
	}
	if v["version"] != Version {
		t.Errorf("version = %q", v["version"])
	}
}
