package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/linker"
	"github.com/castifi/bugtracker/internal/rpc"
	"github.com/castifi/bugtracker/internal/stale"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Remove duplicate copies left behind by an interrupted link",
	Long: `A link copies each record to the new ticket id and then deletes the old
copy. If it stops between the two, the same record exists twice. reconcile
keeps the linked copy (or, failing that, the most recently updated one) and
deletes the rest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		var res linker.ReconcileResult
		err := dispatch(cmd.Context(), rpc.OpReconcile, rpc.DryRunArgs{DryRun: dryRun}, &res)
		if err != nil && res.Scanned == 0 {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			if jerr := outputJSON(w, res); jerr != nil {
				return jerr
			}
			return err
		}

		verb := "Removed"
		if res.DryRun {
			verb = "Would remove"
		}
		for _, r := range res.Removed {
			line := fmt.Sprintf("  %s/%s (kept under %s: %s)", r.TicketID, r.SortKey, r.KeptTicketID, r.Reason)
			if r.Error != "" {
				line += "  " + color.RedString(r.Error)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "Scanned %d records, %d duplicated. %s %d copies", res.Scanned, res.Duplicates, verb, len(res.Removed)-res.Failed)
		if res.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", res.Failed)
		}
		fmt.Fprintln(w)
		return err
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete records that should never have been ingested",
}

var cleanupSlackCmd = &cobra.Command{
	Use:   "slack",
	Short: "Delete unlinked Slack reports that lack the required marker",
	Long: `Delete Slack reports still filed under a synthetic SL- id whose text does
not contain the marker (case-insensitive). Template posts and unfinished
forms from the bug channel end up here. Linked reports are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		marker, _ := cmd.Flags().GetString("require")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		var res linker.CleanupResult
		err := dispatch(cmd.Context(), rpc.OpCleanupSlack, rpc.CleanupArgs{Marker: marker, DryRun: dryRun}, &res)
		if err != nil && res.Marker == "" {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			if jerr := outputJSON(w, res); jerr != nil {
				return jerr
			}
			return err
		}

		for _, id := range res.Removed {
			fmt.Fprintf(w, "  %s\n", id)
		}
		verb := "deleted"
		if res.DryRun {
			verb = "would delete"
		}
		fmt.Fprintf(w, "Scanned %d unlinked Slack reports: %d kept (contain %q), %s %d", res.Scanned, res.Kept, res.Marker, verb, res.Deleted)
		if res.Failed > 0 {
			fmt.Fprintf(w, ", %d failed", res.Failed)
		}
		fmt.Fprintln(w)
		return err
	},
}

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List records no recent ingestion cycle refreshed",
	Long: `List records whose last sync is older than --window. With --mark, the
stale flag is set on them; the next ingestion of the same record clears it.
Stale records are never deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		mark, _ := cmd.Flags().GetBool("mark")
		if !cmd.Flags().Changed("window") && cfg != nil {
			window = cfg.StaleWindow
		}

		var report stale.Report
		err := dispatch(cmd.Context(), rpc.OpStale, rpc.StaleArgs{Window: window.String(), Mark: mark}, &report)
		if err != nil && report.Window == "" {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			if jerr := outputJSON(w, report); jerr != nil {
				return jerr
			}
			return err
		}

		printRecords(w, report.Records)
		fmt.Fprintf(w, "Not synced since %s (window %s)\n", report.Cutoff.Local().Format(time.RFC3339), report.Window)
		if mark {
			fmt.Fprintf(w, "Flagged %d record(s)", report.Marked)
			if report.Failed > 0 {
				fmt.Fprintf(w, ", %d failed", report.Failed)
			}
			fmt.Fprintln(w)
		}
		return err
	},
}

func init() {
	reconcileCmd.Flags().Bool("dry-run", false, "Report duplicates without deleting")

	cleanupSlackCmd.Flags().String("require", linker.DefaultCleanupMarker, "Marker every Slack report worth keeping contains")
	cleanupSlackCmd.Flags().Bool("dry-run", false, "List what would be deleted without deleting")
	cleanupCmd.AddCommand(cleanupSlackCmd)

	staleCmd.Flags().Duration("window", stale.DefaultWindow, "How long a record may go without a sync")
	staleCmd.Flags().Bool("mark", false, "Set the stale flag on the records found")

	rootCmd.AddCommand(reconcileCmd, cleanupCmd, staleCmd)
}
