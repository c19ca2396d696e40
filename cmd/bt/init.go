package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/configfile"
	"github.com/castifi/bugtracker/internal/storage/sqlite"
	"github.com/castifi/bugtracker/internal/workspace"
)

// versionMetadataKey records which bt created the database
const versionMetadataKey = "bt_version"

const gitignoreTemplate = `# bt runtime files
*.db
*.db-journal
*.db-wal
*.db-shm
*.log
bt.pid
records.jsonl.tmp.*
`

const configTemplate = `# bt configuration. Every key can also be set as BT_<KEY>, with dots and
# dashes turned into underscores (slack.token -> BT_SLACK_TOKEN).

# no-db: false
# sync:
#   interval: 6h
#   stale-window: 24h
# slack:
#   token: xoxb-...
#   channels: [C0123456789]
# zendesk:
#   subdomain: example
#   email: support@example.com
#   api-token: ...
# shortcut:
#   api-token: ...
#   workflow-states: []
# server:
#   addr: 127.0.0.1:8787
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .bugtracker workspace in the current directory",
	Long: `Create .bugtracker/ in the current directory with a database, metadata.json
and a commented config.yaml. Running it again is safe.

With --no-db: creates an empty records.jsonl instead of a database.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")
		out := cmd.OutOrStdout()

		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		sep := string(filepath.Separator)
		clean := filepath.Clean(cwd)
		if strings.Contains(clean, sep+workspace.DirName+sep) || strings.HasSuffix(clean, sep+workspace.DirName) {
			return errors.New("cannot initialize bt inside a .bugtracker directory")
		}

		wsDir := filepath.Join(cwd, workspace.DirName)
		if err := os.MkdirAll(wsDir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", wsDir, err)
		}

		meta, err := configfile.Load(wsDir)
		if err != nil {
			return err
		}
		if meta == nil {
			meta = configfile.DefaultConfig(Version)
		}
		meta.Version = Version
		if err := meta.Save(wsDir); err != nil {
			return err
		}

		if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(gitignoreTemplate), 0o600); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to write .gitignore: %v\n", err)
		}
		if err := createConfigYaml(wsDir, noDb); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to create config.yaml: %v\n", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		if noDb {
			exportFile := meta.ExportPath(wsDir)
			if _, err := os.Stat(exportFile); os.IsNotExist(err) {
				if err := os.WriteFile(exportFile, nil, 0o600); err != nil {
					return fmt.Errorf("failed to create %s: %w", exportFile, err)
				}
			}
			if !quiet {
				fmt.Fprintf(out, "\n%s bt initialized in --no-db mode\n\n", green("✓"))
				fmt.Fprintf(out, "  Records file: %s\n\n", cyan(exportFile))
			}
			return nil
		}

		initDBPath := dbPath
		if initDBPath == "" {
			initDBPath = meta.DatabasePath(wsDir)
		}
		if err := os.MkdirAll(filepath.Dir(initDBPath), 0o750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.New(initDBPath)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		if err := db.SetMetadata(cmd.Context(), versionMetadataKey, Version); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to store version metadata: %v\n", err)
		}
		if err := db.Close(); err != nil {
			return err
		}

		if !quiet {
			fmt.Fprintf(out, "\n%s bt initialized\n\n", green("✓"))
			fmt.Fprintf(out, "  Database: %s\n", cyan(initDBPath))
			fmt.Fprintf(out, "  Config:   %s\n\n", cyan(filepath.Join(wsDir, "config.yaml")))
			fmt.Fprintf(out, "Add source credentials to the config, then run %s.\n\n", cyan("bt ingest"))
		}
		return nil
	},
}

// createConfigYaml writes the commented template unless a config exists
func createConfigYaml(wsDir string, noDbMode bool) error {
	path := filepath.Join(wsDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	content := configTemplate
	if noDbMode {
		content = strings.Replace(content, "# no-db: false", "no-db: true", 1)
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func init() {
	initCmd.Flags().BoolP("quiet", "q", false, "Suppress output")
	rootCmd.AddCommand(initCmd)
}
