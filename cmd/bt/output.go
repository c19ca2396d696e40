package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/castifi/bugtracker/internal/linker"
	"github.com/castifi/bugtracker/internal/types"
)

const previewWidth = 60

// outputJSON writes v as indented JSON
func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", color.YellowString("Warning:"), msg)
}

func printSuccess(w io.Writer, format string, args ...interface{}) {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

// priorityColor highlights the priorities someone should look at first
func priorityColor(p string) string {
	switch p {
	case types.PriorityCritical, types.PriorityUrgent:
		return color.New(color.FgRed, color.Bold).Sprint(p)
	case types.PriorityHigh:
		return color.RedString(p)
	case types.PriorityMedium, types.PriorityNormal:
		return color.YellowString(p)
	default:
		return p
	}
}

// recordTitle picks the most readable one-line description of a record
func recordTitle(rec *types.BugRecord) string {
	if rec.Subject != "" {
		return linker.Preview(rec.Subject, previewWidth)
	}
	return linker.Preview(rec.Text, previewWidth)
}

// printRecords writes one line per record
func printRecords(w io.Writer, recs []*types.BugRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records found")
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, rec := range recs {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
			cyan(rec.TicketID), rec.SourceSystem, priorityColor(rec.Priority), rec.State,
			rec.CreatedAt.Format("2006-01-02"), recordTitle(rec))
		if rec.Stale {
			line = faint(line + "\t(stale)")
		}
		fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d record(s)\n", len(recs))
}

// printCounts writes a sorted "key: n" block under a heading
func printCounts(w io.Writer, heading string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s\n", color.New(color.Bold).Sprint(heading))
	for _, k := range keys {
		fmt.Fprintf(w, "  %-14s %d\n", k+":", counts[k])
	}
}

// bar renders n as a run of blocks scaled against peak
func bar(n, peak, width int) string {
	if n <= 0 || peak <= 0 {
		return ""
	}
	size := n * width / peak
	if size == 0 {
		size = 1
	}
	return strings.Repeat("█", size)
}
