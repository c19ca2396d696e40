package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/linker"
	"github.com/castifi/bugtracker/internal/rpc"
)

// runLink prints a link result; a failed link still shows which records moved
func runLink(cmd *cobra.Command, op string, args interface{}) error {
	var res linker.Result
	err := dispatch(cmd.Context(), op, args, &res)
	w := cmd.OutOrStdout()
	if jsonOutput {
		if res.Message == "" && err != nil {
			return err
		}
		if jerr := outputJSON(w, res); jerr != nil {
			return jerr
		}
		return err
	}
	if err != nil && res.Message == "" {
		return err
	}

	if res.Success {
		printSuccess(w, "%s", res.Message)
	} else {
		fmt.Fprintf(w, "%s %s\n", color.RedString("✗"), res.Message)
	}
	for _, rec := range res.Records {
		line := fmt.Sprintf("  %s  %s", rec.SortKey, rec.State)
		if rec.Error != "" {
			line += "  " + color.RedString(rec.Error)
		}
		fmt.Fprintln(w, line)
	}
	return err
}

var linkCmd = &cobra.Command{
	Use:   "link <old-ticket-id> <new-ticket-id>",
	Short: "Move every record under one ticket id to another",
	Long: `Move every record filed under <old-ticket-id> to <new-ticket-id>, keeping
each record's sort key and remembering the old id in linked_from.

Typical use: a Slack report filed under a synthetic SL- id turns out to be
Zendesk ticket 123:

  bt link SL-9f3a01c2d4e5b6a7 123`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLink(cmd, rpc.OpLink, rpc.LinkArgs{OldTicketID: args[0], NewTicketID: args[1]})
	},
}

var syntheticLinkCmd = &cobra.Command{
	Use:   "synthetic-link <slack-ts|SL-id> <zendesk-id>",
	Short: "Link a Slack report to a Zendesk ticket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLink(cmd, rpc.OpSyntheticLink, rpc.SyntheticLinkArgs{SlackRef: args[0], ZendeskID: args[1]})
	},
}

var ticketCmd = &cobra.Command{
	Use:   "ticket <ticket-id>",
	Short: "Show every record filed under a ticket, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var summary linker.TicketSummary
		if err := dispatch(cmd.Context(), rpc.OpTicketSummary, rpc.TicketArgs{TicketID: args[0]}, &summary); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(w, summary)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Fprintf(w, "%s  %d record(s)\n", cyan(summary.TicketID), summary.Count)
		for _, rec := range summary.Records {
			fmt.Fprintf(w, "\n%s  %s  %s", rec.SortKey, rec.CreatedAt.Format("2006-01-02 15:04"), rec.State)
			if rec.Status != "" {
				fmt.Fprintf(w, " (%s)", rec.Status)
			}
			if rec.LinkedFrom != "" {
				fmt.Fprintf(w, "  linked from %s", rec.LinkedFrom)
			}
			fmt.Fprintf(w, "\n  %s\n", rec.Content)
		}
		return nil
	},
}

var unlinkedCmd = &cobra.Command{
	Use:   "unlinked",
	Short: "List Slack reports not yet linked to a Zendesk ticket",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Items []linker.UnlinkedSlack `json:"items"`
			Count int                    `json:"count"`
		}
		if err := dispatch(cmd.Context(), rpc.OpUnlinkedSlack, nil, &out); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(w, out)
		}
		if out.Count == 0 {
			printSuccess(w, "Every Slack report is linked")
			return nil
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, u := range out.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.TicketID, u.Channel, u.CreatedAt.Format("2006-01-02"), linker.Preview(u.Text, previewWidth))
		}
		_ = tw.Flush()
		fmt.Fprintf(w, "\n%d unlinked report(s). Link one with: bt synthetic-link <SL-id> <zendesk-id>\n", out.Count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkCmd, syntheticLinkCmd, ticketCmd, unlinkedCmd)
}
