package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/castifi/bugtracker/internal/types"
)

// PrepareUpsert validates rec and applies ingestion timestamp semantics in place.
// Both backends call it so Upsert behaves identically everywhere.
func PrepareUpsert(rec *types.BugRecord, now time.Time) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	now = now.UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	} else {
		rec.CreatedAt = rec.CreatedAt.UTC()
	}
	rec.UpdatedAt = now
	rec.SyncedAt = now
	rec.Stale = false
	return nil
}

// SortByCreated orders records by CreatedAt, newest first unless oldest is set.
// SortKey breaks ties so results are deterministic.
func SortByCreated(recs []*types.BugRecord, order types.OrderBy) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if order == types.OrderOldest {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.TicketID != b.TicketID {
			return a.TicketID < b.TicketID
		}
		return a.SortKey < b.SortKey
	})
}
