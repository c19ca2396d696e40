package linker

import (
	"context"
	"fmt"
	"sort"

	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// Removal is one stale copy Reconcile deleted (or would delete)
type Removal struct {
	TicketID     string `json:"ticket_id"`
	SortKey      string `json:"sort_key"`
	KeptTicketID string `json:"kept_ticket_id"`
	Reason       string `json:"reason"`
	Error        string `json:"error,omitempty"`
}

// Removal reasons
const (
	ReasonLinkedFrom = "superseded by linked copy"
	ReasonOlder      = "older updated_at"
)

// ReconcileResult summarizes a Reconcile pass
type ReconcileResult struct {
	Scanned    int       `json:"scanned"`
	Duplicates int       `json:"duplicates"`
	Removed    []Removal `json:"removed"`
	Failed     int       `json:"failed,omitempty"`
	DryRun     bool      `json:"dry_run"`
}

// Reconcile finds sort keys present under more than one ticket id, left
// behind by a link that stopped between its copy and its delete, and removes
// every copy except one. A copy whose ticket id is another copy's LinkedFrom
// is stale; failing that, the most recently updated copy wins.
func (l *Linker) Reconcile(ctx context.Context, dryRun bool) (*ReconcileResult, error) {
	all, err := l.store.FullScan(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}
	result := &ReconcileResult{Scanned: len(all), DryRun: dryRun, Removed: []Removal{}}

	bySortKey := make(map[string][]*types.BugRecord)
	for _, rec := range all {
		bySortKey[rec.SortKey] = append(bySortKey[rec.SortKey], rec)
	}

	keys := make([]string, 0, len(bySortKey))
	for k, copies := range bySortKey {
		if len(copies) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	result.Duplicates = len(keys)

	for _, k := range keys {
		result.Removed = append(result.Removed, planRemovals(bySortKey[k])...)
	}
	if dryRun || len(result.Removed) == 0 {
		return result, nil
	}

	err = l.batcher.Run(ctx, len(result.Removed), func(start, end int) error {
		for i := start; i < end; i++ {
			r := &result.Removed[i]
			if err := l.store.Delete(ctx, r.TicketID, r.SortKey); err != nil {
				r.Error = err.Error()
				result.Failed++
				l.log.Log("Error removing stale copy %s/%s: %v", r.TicketID, r.SortKey, err)
				continue
			}
			l.log.Log("Removed stale copy %s/%s (kept %s)", r.TicketID, r.SortKey, r.KeptTicketID)
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("%w: %d of %d stale copies not removed", types.ErrPartialFailure, result.Failed, len(result.Removed))
	}
	return result, nil
}

// planRemovals picks the copies of one sort key to delete
func planRemovals(copies []*types.BugRecord) []Removal {
	keep := storage.CurrentCopy(copies)

	linkedFrom := make(map[string]bool)
	for _, c := range copies {
		if c.LinkedFrom != "" {
			linkedFrom[c.LinkedFrom] = true
		}
	}
	// A superseded keeper means a cycle (A from B, B from A); recency decided
	cycle := linkedFrom[keep.TicketID]

	var out []Removal
	for _, c := range copies {
		if c == keep {
			continue
		}
		reason := ReasonOlder
		if linkedFrom[c.TicketID] && !cycle {
			reason = ReasonLinkedFrom
		}
		out = append(out, Removal{TicketID: c.TicketID, SortKey: c.SortKey, KeptTicketID: keep.TicketID, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out
}
