package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/ingest"
	"github.com/castifi/bugtracker/internal/rpc"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch bug reports from every configured source",
	Long: `Run one ingestion cycle: fetch from Slack, Zendesk and Shortcut in
parallel, normalize, and upsert into the store. Sources without credentials
are skipped. A failing source is reported and does not stop the others.

Credentials come from .bugtracker/config.yaml or BT_* variables, e.g.
BT_SLACK_TOKEN, BT_SLACK_CHANNELS, BT_ZENDESK_SUBDOMAIN, BT_ZENDESK_EMAIL,
BT_ZENDESK_API_TOKEN, BT_SHORTCUT_API_TOKEN.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		var report ingest.Report
		err := dispatch(cmd.Context(), rpc.OpIngest, rpc.IngestArgs{DryRun: dryRun}, &report)
		if err != nil && report.StartedAt.IsZero() {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			if jerr := outputJSON(w, report); jerr != nil {
				return jerr
			}
			return err
		}
		printIngestReport(w, &report, dryRun)
		return err
	},
}

func printIngestReport(w io.Writer, r *ingest.Report, dryRun bool) {
	verb := "Stored"
	if dryRun {
		verb = "Fetched (dry run)"
	}
	fmt.Fprintf(w, "%s %d records in %s: slack %d, zendesk %d, shortcut %d\n",
		verb, r.TotalRecords, r.Duration, r.SlackRecords, r.ZendeskRecords, r.ShortcutRecords)
	if r.Skipped > 0 {
		fmt.Fprintf(w, "  %d item(s) skipped as malformed\n", r.Skipped)
	}
	if r.Failed > 0 {
		fmt.Fprintf(w, "  %s\n", color.RedString("%d record(s) failed to store", r.Failed))
	}

	failed := make([]string, 0, len(r.SourceErrors))
	for source := range r.SourceErrors {
		failed = append(failed, source)
	}
	sort.Strings(failed)
	for _, source := range failed {
		fmt.Fprintf(w, "  %s %s: %s\n", color.RedString("✗"), source, r.SourceErrors[source])
	}
}

func init() {
	ingestCmd.Flags().Bool("dry-run", false, "Fetch and normalize without writing")
	rootCmd.AddCommand(ingestCmd)
}
