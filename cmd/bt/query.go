package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/correlate"
	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/rpc"
)

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "Only records created on or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().String("end", "", "Only records created on or before this date (YYYY-MM-DD or RFC3339)")
}

func rangeArgs(cmd *cobra.Command) rpc.RangeArgs {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	return rpc.RangeArgs{StartDate: start, EndDate: end}
}

// runQuery dispatches a record query and prints its result
func runQuery(cmd *cobra.Command, op string, args interface{}) error {
	var res query.Result
	if err := dispatch(cmd.Context(), op, args, &res); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if jsonOutput {
		return outputJSON(w, res)
	}
	printRecords(w, res.Items)
	return nil
}

var byTicketCmd = &cobra.Command{
	Use:   "by-ticket <ticket-id>",
	Short: "List every record filed under a ticket id",
	Long: `List every record filed under a ticket id.

Ids are matched exactly after normalizing: "123" means ZD-123 and "sc-7"
means SC-7. Synthetic SL- ids must be given in full.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, rpc.OpByTicketID, rpc.TicketArgs{TicketID: args[0]})
	},
}

var byPriorityCmd = &cobra.Command{
	Use:   "by-priority <priority>",
	Short: "List records with a normalized priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, rpc.OpByPriority, rpc.PriorityArgs{Priority: args[0], RangeArgs: rangeArgs(cmd)})
	},
}

var byStateCmd = &cobra.Command{
	Use:   "by-state <state>",
	Short: "List records in a normalized state (open, in_progress, pending, blocked, closed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, rpc.OpByState, rpc.StateArgs{State: args[0], RangeArgs: rangeArgs(cmd)})
	},
}

var bySourceCmd = &cobra.Command{
	Use:   "by-source <slack|zendesk|shortcut>",
	Short: "List records from one source system",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, rpc.OpBySource, rpc.SourceArgs{SourceSystem: args[0], RangeArgs: rangeArgs(cmd)})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent records",
	Long: `List records ordered by creation time.

At most one of --priority, --source or --assignee narrows the list; each
accepts a comma separated set of values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		order, _ := cmd.Flags().GetString("order")
		filter, err := subscriptionFromFlags(cmd)
		if err != nil {
			return err
		}
		return runQuery(cmd, rpc.OpList, rpc.ListArgs{Limit: limit, Order: order, Filter: filter})
	},
}

// subscriptionFromFlags turns the list filter flags into a subscription
func subscriptionFromFlags(cmd *cobra.Command) (*rpc.Subscription, error) {
	priorities, _ := cmd.Flags().GetStringSlice("priority")
	srcs, _ := cmd.Flags().GetStringSlice("source")
	assignees, _ := cmd.Flags().GetStringSlice("assignee")

	var sub *rpc.Subscription
	set := 0
	if len(priorities) > 0 {
		set++
		sub = &rpc.Subscription{Type: rpc.SubscribePriority, Filters: rpc.SubscriptionFilters{Priorities: priorities}}
	}
	if len(srcs) > 0 {
		set++
		sub = &rpc.Subscription{Type: rpc.SubscribeSource, Filters: rpc.SubscriptionFilters{Sources: srcs}}
	}
	if len(assignees) > 0 {
		set++
		sub = &rpc.Subscription{Type: rpc.SubscribeAssignee, Filters: rpc.SubscriptionFilters{Assignees: assignees}}
	}
	if set > 1 {
		return nil, errors.New("use only one of --priority, --source and --assignee")
	}
	return sub, nil
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count records per priority, state and source",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		var res query.Result
		if err := dispatch(cmd.Context(), rpc.OpSummary, rpc.SummaryArgs{SourceSystem: source, RangeArgs: rangeArgs(cmd)}, &res); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(w, res)
		}
		if res.Summary == nil {
			return errors.New("summary missing from response")
		}
		fmt.Fprintf(w, "Total bugs: %d\n\n", res.Summary.TotalBugs)
		printCounts(w, "By priority", res.Summary.ByPriority)
		printCounts(w, "By state", res.Summary.ByState)
		if source == "" {
			printCounts(w, "By source", res.Summary.BySource)
		}
		return nil
	},
}

var timeSeriesCmd = &cobra.Command{
	Use:   "timeseries",
	Short: "Count records created per day",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		source, _ := cmd.Flags().GetString("source")
		var res query.Result
		if err := dispatch(cmd.Context(), rpc.OpTimeSeries, rpc.TimeSeriesArgs{Days: days, SourceSystem: source}, &res); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(w, res)
		}
		peak := 0
		for _, d := range res.TimeSeries {
			if d.Count > peak {
				peak = d.Count
			}
		}
		for _, d := range res.TimeSeries {
			fmt.Fprintf(w, "%s %4d %s\n", d.Date, d.Count, bar(d.Count, peak, 40))
		}
		fmt.Fprintf(w, "\n%d record(s) over %d day(s)\n", res.Count, res.TotalDays)
		return nil
	},
}

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Correlate records across sources and report resolution times",
	Long: `Infer relationships between records (Slack escalations to Zendesk, Zendesk
tickets referenced by Shortcut stories, and the chains through both), then
report resolution time statistics and the channel to owner to card flow.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var a correlate.Analysis
		if err := dispatch(cmd.Context(), rpc.OpFlowAnalytics, rangeArgs(cmd), &a); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(w, a)
		}
		printAnalysis(w, &a)
		return nil
	},
}

func printAnalysis(w io.Writer, a *correlate.Analysis) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %d records, %d edges\n", bold("Correlation:"), a.RecordCount, len(a.Edges))
	for _, t := range []correlate.EdgeType{correlate.EdgeEscalation, correlate.EdgeDirectReference, correlate.EdgeChainedReference} {
		fmt.Fprintf(w, "  %-18s %d\n", string(t)+":", a.EdgeCounts[t])
	}

	if m := a.Metrics; m != nil {
		fmt.Fprintf(w, "\n%s %d resolved, %d excluded\n", bold("Resolution:"), m.Count, m.Excluded)
		if m.Count > 0 {
			fmt.Fprintf(w, "  average %.1fh  median %.1fh  p90 %.1fh  p95 %.1fh  (min %.1fh, max %.1fh)\n",
				m.Average, m.Median, m.P90, m.P95, m.Min, m.Max)
			peak := 0
			for _, b := range m.Histogram {
				if b.Count > peak {
					peak = b.Count
				}
			}
			for _, b := range m.Histogram {
				fmt.Fprintf(w, "  %-8s %4d %s\n", b.Label, b.Count, bar(b.Count, peak, 30))
			}
		}
	}

	if g := a.Flow; g != nil {
		fmt.Fprintf(w, "\n%s %d nodes, %d links\n", bold("Flow:"), len(g.Nodes), len(g.Links))
		names := make(map[string]string, len(g.Nodes))
		for _, n := range g.Nodes {
			names[n.ID] = n.Name
		}
		for _, l := range g.Links {
			fmt.Fprintf(w, "  %s -> %s (%d)\n", names[l.Source], names[l.Target], l.Value)
		}
		for _, warn := range g.Warnings {
			printWarning(w, warn)
		}
	}
}

func init() {
	for _, cmd := range []*cobra.Command{byPriorityCmd, byStateCmd, bySourceCmd, summaryCmd, flowCmd} {
		addRangeFlags(cmd)
	}
	listCmd.Flags().IntP("limit", "n", 50, "Maximum number of records")
	listCmd.Flags().String("order", "newest", "Order by creation time: newest or oldest")
	listCmd.Flags().StringSlice("priority", nil, "Only these priorities")
	listCmd.Flags().StringSlice("source", nil, "Only these source systems")
	listCmd.Flags().StringSlice("assignee", nil, "Only these assignees")
	summaryCmd.Flags().String("source", "", "Count only records from this source system")
	timeSeriesCmd.Flags().Int("days", 7, "Number of days, ending today")
	timeSeriesCmd.Flags().String("source", "", "Count only records from this source system")

	rootCmd.AddCommand(byTicketCmd, byPriorityCmd, byStateCmd, bySourceCmd, listCmd, summaryCmd, timeSeriesCmd, flowCmd)
}
