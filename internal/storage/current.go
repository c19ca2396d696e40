package storage

import (
	"sort"

	"github.com/castifi/bugtracker/internal/types"
)

// CurrentCopy picks the authoritative copy among records sharing one sort key.
// A copy whose ticket id is another copy's LinkedFrom has been superseded by
// that link; among the rest the most recently updated wins, ties going to the
// lowest ticket id. If every copy is superseded (a link cycle) recency alone
// decides. Returns nil for no copies.
func CurrentCopy(copies []*types.BugRecord) *types.BugRecord {
	if len(copies) == 0 {
		return nil
	}
	linkedFrom := make(map[string]bool)
	for _, c := range copies {
		if c.LinkedFrom != "" {
			linkedFrom[c.LinkedFrom] = true
		}
	}

	var candidates []*types.BugRecord
	for _, c := range copies {
		if !linkedFrom[c.TicketID] {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, copies...)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].TicketID < candidates[j].TicketID
	})
	return candidates[0]
}
