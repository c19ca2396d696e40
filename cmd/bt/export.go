package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/storage/jsonl"
	"github.com/castifi/bugtracker/internal/workspace"
)

// defaultExportPath is the workspace records.jsonl for the open database
func defaultExportPath() string {
	if mode == modeNoDB {
		return exportPath
	}
	return workspace.FindExportPath(dbPath)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every record to a JSONL file",
	Long: `Write every record to a JSONL file, one record per line, ordered by
ticket id. Defaults to .bugtracker/records.jsonl.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if store == nil {
			return errors.New("export needs direct database access; drop --server")
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = defaultExportPath()
		}
		n, err := jsonl.Export(cmd.Context(), store, out)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]interface{}{"path": out, "count": n})
		}
		printSuccess(cmd.OutOrStdout(), "Exported %d records to %s", n, out)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load records from a JSONL file",
	Long: `Load records from a JSONL export into the store unchanged. Records with
the same ticket id and sort key are replaced; sync times and stale flags are
kept as exported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if store == nil {
			return errors.New("import needs direct database access; drop --server")
		}
		in := defaultExportPath()
		if len(args) == 1 {
			in = args[0]
		}
		if abs, err := filepath.Abs(in); err == nil && mode == modeNoDB && abs == exportPath {
			return errors.New("in --no-db mode the records file is already loaded")
		}
		if _, err := os.Stat(in); err != nil {
			return err
		}
		n, err := jsonl.Import(cmd.Context(), store, in)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]interface{}{"path": in, "count": n})
		}
		printSuccess(cmd.OutOrStdout(), "Imported %d records from %s", n, in)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: .bugtracker/records.jsonl)")
	rootCmd.AddCommand(exportCmd, importCmd)
}
