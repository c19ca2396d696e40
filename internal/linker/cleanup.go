package linker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

// DefaultCleanupMarker is the token every finished Slack bug report carries
const DefaultCleanupMarker = "AUTHOR"

// CleanupResult reports one Slack cleanup pass
type CleanupResult struct {
	Marker  string   `json:"marker"`
	Scanned int      `json:"scanned"`
	Kept    int      `json:"kept"`
	Deleted int      `json:"deleted"`
	Failed  int      `json:"failed,omitempty"`
	DryRun  bool     `json:"dry_run"`
	Removed []string `json:"removed,omitempty"` // "ticket/sortkey"
}

// CleanupSlack deletes unlinked Slack records (SL- tickets) whose text lacks
// marker, matched case-insensitively. Linked Slack records are never touched.
// Template posts and half-filled forms from the bug channel end up here.
func (l *Linker) CleanupSlack(ctx context.Context, marker string, dryRun bool) (*CleanupResult, error) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return nil, fmt.Errorf("%w: cleanup marker is required", types.ErrMalformedInput)
	}
	all, err := l.store.FullScan(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}

	res := &CleanupResult{Marker: marker, DryRun: dryRun}
	needle := strings.ToUpper(marker)
	var doomed []*types.BugRecord
	for _, rec := range all {
		if rec.SourceSystem != types.SourceSlack || !normalize.IsSynthetic(rec.TicketID) {
			continue
		}
		res.Scanned++
		if strings.Contains(strings.ToUpper(rec.Text), needle) {
			res.Kept++
			continue
		}
		doomed = append(doomed, rec)
	}
	sort.Slice(doomed, func(i, j int) bool {
		return doomed[i].TicketID+doomed[i].SortKey < doomed[j].TicketID+doomed[j].SortKey
	})

	if dryRun {
		for _, rec := range doomed {
			res.Removed = append(res.Removed, rec.TicketID+"/"+rec.SortKey)
		}
		res.Deleted = len(doomed)
		return res, nil
	}

	err = l.batcher.Run(ctx, len(doomed), func(start, end int) error {
		for _, rec := range doomed[start:end] {
			if err := l.store.Delete(ctx, rec.TicketID, rec.SortKey); err != nil {
				res.Failed++
				l.log.Log("Error deleting %s/%s: %v", rec.TicketID, rec.SortKey, err)
				continue
			}
			res.Deleted++
			res.Removed = append(res.Removed, rec.TicketID+"/"+rec.SortKey)
		}
		return nil
	})
	l.log.Log("Slack cleanup: %d scanned, %d kept, %d deleted, %d failed", res.Scanned, res.Kept, res.Deleted, res.Failed)
	if err != nil {
		return res, err
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("%w: %d of %d slack records not deleted", types.ErrPartialFailure, res.Failed, len(doomed))
	}
	return res, nil
}
