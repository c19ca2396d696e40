package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/config"
	"github.com/castifi/bugtracker/internal/ingest"
	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/rpc"
	"github.com/castifi/bugtracker/internal/types"
)

// metadataReader is the part of the SQLite store info reads sync times from
type metadataReader interface {
	GetMetadata(ctx context.Context, key string) (string, error)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show which database, config and sources bt is using",
	Long: `Display the database path, connection mode, config file, configured
sources and when each source last synced. Useful when bt is reading an
unexpected workspace.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		info := map[string]interface{}{
			"mode":        mode,
			"config_file": config.ConfigFileUsed(),
		}

		switch mode {
		case modeServer:
			info["server"] = serverAddr
			var health rpc.HealthResponse
			if err := dispatch(ctx, rpc.OpHealth, nil, &health); err == nil {
				info["server_version"] = health.Version
				info["server_status"] = health.Status
				info["server_compatible"] = health.Compatible
			}
		case modeNoDB:
			info["records_file"] = exportPath
		default:
			if abs, err := filepath.Abs(dbPath); err == nil {
				info["database_path"] = abs
			} else {
				info["database_path"] = dbPath
			}
		}

		var res query.Result
		if err := dispatch(ctx, rpc.OpSummary, rpc.SummaryArgs{}, &res); err == nil && res.Summary != nil {
			info["record_count"] = res.Summary.TotalBugs
		}

		if app != nil {
			configured := make([]string, 0, len(app.sources))
			for _, s := range app.sources {
				configured = append(configured, string(s.System()))
			}
			sort.Strings(configured)
			info["sources"] = configured
		}

		if md, ok := store.(metadataReader); ok {
			lastSync := map[string]string{}
			for _, source := range []types.SourceSystem{types.SourceSlack, types.SourceZendesk, types.SourceShortcut} {
				if v, err := md.GetMetadata(ctx, ingest.LastSyncKey(source)); err == nil && v != "" {
					lastSync[string(source)] = v
				}
			}
			info["last_sync"] = lastSync
			if v, err := md.GetMetadata(ctx, versionMetadataKey); err == nil && v != "" {
				info["database_version"] = v
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, info)
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Fprintf(out, "\nbt information:\n\n")
		fmt.Fprintf(out, "  Mode: %s\n", cyan(mode))
		for _, key := range []string{"database_path", "records_file", "server", "server_version", "server_status"} {
			if v, ok := info[key]; ok {
				fmt.Fprintf(out, "  %s: %v\n", key, v)
			}
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Fprintf(out, "  Config: %s\n", f)
		} else {
			fmt.Fprintf(out, "  Config: (defaults)\n")
		}
		if n, ok := info["record_count"]; ok {
			fmt.Fprintf(out, "  Records: %v\n", n)
		}
		if srcs, ok := info["sources"].([]string); ok {
			if len(srcs) == 0 {
				fmt.Fprintf(out, "  Sources: %s\n", color.YellowString("none configured"))
			} else {
				fmt.Fprintf(out, "  Sources: %v\n", srcs)
			}
		}
		if lastSync, ok := info["last_sync"].(map[string]string); ok && len(lastSync) > 0 {
			fmt.Fprintf(out, "  Last sync:\n")
			for _, source := range []string{"slack", "zendesk", "shortcut"} {
				if v, ok := lastSync[source]; ok {
					fmt.Fprintf(out, "    %-9s %s\n", source, v)
				}
			}
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
