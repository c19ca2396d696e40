package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/config"
	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/storage/sqlite"
	"github.com/castifi/bugtracker/internal/workspace"
)

const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

type doctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // statusOK, statusWarning, or statusError
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Fix     string `json:"fix,omitempty"`
}

type doctorResult struct {
	Path       string        `json:"path"`
	Checks     []doctorCheck `json:"checks"`
	OverallOK  bool          `json:"overall_ok"`
	CLIVersion string        `json:"cli_version"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the workspace, database, config and sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		result := runDiagnostics(cmd.Context())
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := outputJSON(out, result); err != nil {
				return err
			}
		} else {
			printDiagnostics(out, result)
		}
		if !result.OverallOK {
			return fmt.Errorf("doctor found problems")
		}
		return nil
	},
}

func runDiagnostics(ctx context.Context) doctorResult {
	result := doctorResult{CLIVersion: Version, OverallOK: true}
	add := func(c doctorCheck) {
		if c.Status == statusError {
			result.OverallOK = false
		}
		result.Checks = append(result.Checks, c)
	}

	wsDir := workspace.FindWorkspaceDir()
	if wsDir == "" {
		add(doctorCheck{Name: "Workspace", Status: statusError, Message: "no .bugtracker directory found", Fix: "run 'bt init'"})
		return result
	}
	result.Path = filepath.Dir(wsDir)
	add(doctorCheck{Name: "Workspace", Status: statusOK, Message: wsDir})

	add(checkConfig())
	if noDb {
		add(doctorCheck{Name: "Database", Status: statusOK, Message: "no-db mode", Detail: workspace.FindExportPath(filepath.Join(wsDir, workspace.CanonicalDatabaseName))})
	} else {
		add(checkMultipleDatabases(wsDir))
		add(checkDatabase(ctx))
	}
	add(checkSources())
	add(checkServer(wsDir))
	return result
}

func checkConfig() doctorCheck {
	c := doctorCheck{Name: "Config", Status: statusOK, Message: "defaults"}
	if f := config.ConfigFileUsed(); f != "" {
		c.Message = f
	}
	if cfg.VocabularyPath != "" {
		if _, err := normalize.LoadVocabulary(cfg.VocabularyPath); err != nil {
			c.Status = statusError
			c.Detail = err.Error()
			c.Fix = "fix or remove the vocabulary file named by 'vocabulary'"
		}
	}
	return c
}

func checkMultipleDatabases(wsDir string) doctorCheck {
	matches, _ := filepath.Glob(filepath.Join(wsDir, "*.db"))
	var dbs []string
	for _, m := range matches {
		if !strings.Contains(filepath.Base(m), ".backup") {
			dbs = append(dbs, filepath.Base(m))
		}
	}
	if len(dbs) > 1 {
		return doctorCheck{
			Name:    "Database files",
			Status:  statusWarning,
			Message: fmt.Sprintf("%d databases in %s", len(dbs), wsDir),
			Detail:  strings.Join(dbs, ", "),
			Fix:     fmt.Sprintf("keep only %s, or name the one to use in metadata.json", workspace.CanonicalDatabaseName),
		}
	}

	c := doctorCheck{Name: "Database files", Status: statusOK, Message: "one database"}
	if nested := workspace.FindAllDatabases(context.Background()); len(nested) > 1 {
		c.Detail = fmt.Sprintf("%d workspaces above this directory also have databases; the closest wins", len(nested)-1)
	}
	return c
}

func checkDatabase(ctx context.Context) doctorCheck {
	path := dbPath
	if path == "" {
		path = workspace.FindDatabasePath()
	}
	if path == "" {
		return doctorCheck{Name: "Database", Status: statusError, Message: "no database found", Fix: "run 'bt init'"}
	}
	if _, err := os.Stat(path); err != nil {
		return doctorCheck{Name: "Database", Status: statusError, Message: "cannot read " + path, Detail: err.Error(), Fix: "run 'bt init'"}
	}

	db, err := sqlite.New(path)
	if err != nil {
		return doctorCheck{Name: "Database", Status: statusError, Message: "cannot open " + path, Detail: err.Error(),
			Fix: "move the file aside and run 'bt init', then 'bt import' a previous export"}
	}
	defer func() { _ = db.Close() }()

	if probe := db.ProbeSchema(); !probe.Compatible {
		return doctorCheck{Name: "Database", Status: statusError, Message: "schema incompatible", Detail: probe.ErrorMessage,
			Fix: "upgrade bt, or export with the older version and re-import"}
	}

	c := doctorCheck{Name: "Database", Status: statusOK, Message: path}
	if n, err := db.Count(ctx); err == nil {
		c.Detail = fmt.Sprintf("%d records", n)
	}
	if v, err := db.GetMetadata(ctx, versionMetadataKey); err == nil && v != "" && v != Version {
		c.Status = statusWarning
		c.Message = fmt.Sprintf("created by bt %s, running %s", v, Version)
		c.Fix = "run 'bt init' to record the current version"
	}
	return c
}

func checkSources() doctorCheck {
	srcs, err := buildSources(cfg, normalize.New(nil), nil)
	if err != nil {
		return doctorCheck{Name: "Sources", Status: statusError, Message: "invalid source settings", Detail: err.Error()}
	}
	if len(srcs) == 0 {
		return doctorCheck{Name: "Sources", Status: statusWarning, Message: "none configured",
			Fix: "set slack.token and slack.channels, zendesk.subdomain/email/api-token, or shortcut.api-token"}
	}
	names := make([]string, 0, len(srcs))
	for _, s := range srcs {
		names = append(names, string(s.System()))
	}
	return doctorCheck{Name: "Sources", Status: statusOK, Message: strings.Join(names, ", ")}
}

func checkServer(wsDir string) doctorCheck {
	pidFile := filepath.Join(wsDir, pidFileName)
	data, err := os.ReadFile(pidFile) // #nosec G304 - workspace path
	if os.IsNotExist(err) {
		return doctorCheck{Name: "Server", Status: statusOK, Message: "not running"}
	}
	if err != nil {
		return doctorCheck{Name: "Server", Status: statusWarning, Message: "cannot read pid file", Detail: err.Error()}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !processAlive(pid) {
		return doctorCheck{Name: "Server", Status: statusWarning, Message: "stale pid file", Fix: "remove " + pidFile}
	}
	return doctorCheck{Name: "Server", Status: statusOK, Message: fmt.Sprintf("running (pid %d)", pid)}
}

func printDiagnostics(w io.Writer, result doctorResult) {
	fmt.Fprintln(w, "\nDiagnostics")

	for i, check := range result.Checks {
		prefix := "├"
		if i == len(result.Checks)-1 {
			prefix = "└"
		}

		var statusIcon string
		switch check.Status {
		case statusWarning:
			statusIcon = color.YellowString(" ⚠")
		case statusError:
			statusIcon = color.RedString(" ✗")
		}
		fmt.Fprintf(w, " %s %s: %s%s\n", prefix, check.Name, check.Message, statusIcon)

		if check.Detail != "" {
			detailPrefix := "│"
			if i == len(result.Checks)-1 {
				detailPrefix = " "
			}
			fmt.Fprintf(w, " %s   %s\n", detailPrefix, color.New(color.Faint).Sprint(check.Detail))
		}
	}
	fmt.Fprintln(w)

	hasIssues := false
	for _, check := range result.Checks {
		if check.Status == statusOK || check.Fix == "" {
			continue
		}
		hasIssues = true
		switch check.Status {
		case statusWarning:
			fmt.Fprintln(w, color.YellowString("⚠ Warning: %s", check.Message))
		case statusError:
			fmt.Fprintln(w, color.RedString("✗ Error: %s", check.Message))
		}
		fmt.Fprintf(w, "  Fix: %s\n\n", check.Fix)
	}
	if !hasIssues {
		fmt.Fprintln(w, color.GreenString("✓ All checks passed"))
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
