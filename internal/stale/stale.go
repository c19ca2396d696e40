// Package stale finds records that recent ingestion cycles no longer refresh.
//
// Stale records are flagged, never deleted: the source may only have
// dropped them from its window (a Zendesk ticket losing the bug tag, a
// Shortcut story leaving the searched workflow states), and the next
// upsert of the same record clears the flag.
package stale

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// DefaultWindow is how long a record may go without a sync
const DefaultWindow = 24 * time.Hour

// Report lists the stale records found by one pass
type Report struct {
	Cutoff  time.Time          `json:"cutoff"`
	Window  string             `json:"window"`
	Count   int                `json:"count"`
	Records []*types.BugRecord `json:"records"`
	Marked  int                `json:"marked"`
	Failed  int                `json:"failed,omitempty"`
}

// Scanner compares SyncedAt against a cutoff
type Scanner struct {
	store   storage.Storage
	batcher *storage.Batcher
	log     logging.Logger
	now     func() time.Time
}

// New returns a Scanner. A nil batcher uses the default chunking.
func New(store storage.Storage, batcher *storage.Batcher, log logging.Logger) *Scanner {
	if batcher == nil {
		batcher = storage.NewBatcher(storage.MaxBatchSize, storage.DefaultBatchDelay)
	}
	return &Scanner{store: store, batcher: batcher, log: log, now: time.Now}
}

// SetClock overrides the time source (tests)
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// Scan returns every record whose SyncedAt is older than now - window,
// oldest sync first. A window <= 0 means DefaultWindow.
func (s *Scanner) Scan(ctx context.Context, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	cutoff := s.now().UTC().Add(-window)

	all, err := s.store.FullScan(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}

	r := &Report{Cutoff: cutoff, Window: window.String(), Records: []*types.BugRecord{}}
	for _, rec := range all {
		if rec.SyncedAt.Before(cutoff) {
			r.Records = append(r.Records, rec)
		}
	}
	sort.SliceStable(r.Records, func(i, j int) bool {
		a, b := r.Records[i], r.Records[j]
		if !a.SyncedAt.Equal(b.SyncedAt) {
			return a.SyncedAt.Before(b.SyncedAt)
		}
		return a.TicketID+a.SortKey < b.TicketID+b.SortKey
	})
	r.Count = len(r.Records)

	for _, rec := range r.Records {
		s.log.Log("Stale record %s/%s: last synced %s", rec.TicketID, rec.SortKey, rec.SyncedAt.Format(time.RFC3339))
	}
	return r, nil
}

// Mark scans like Scan and sets the Stale flag on every stale record not
// already flagged. Failed writes are logged and counted; the error then
// wraps ErrPartialFailure.
func (s *Scanner) Mark(ctx context.Context, window time.Duration) (*Report, error) {
	r, err := s.Scan(ctx, window)
	if err != nil {
		return nil, err
	}

	var pending []*types.BugRecord
	for _, rec := range r.Records {
		if !rec.Stale {
			pending = append(pending, rec)
		}
	}

	err = s.batcher.Run(ctx, len(pending), func(start, end int) error {
		for _, rec := range pending[start:end] {
			flagged := rec.Clone()
			flagged.Stale = true
			if err := s.store.Put(ctx, flagged); err != nil {
				r.Failed++
				s.log.Log("Error flagging %s/%s as stale: %v", rec.TicketID, rec.SortKey, err)
				continue
			}
			rec.Stale = true
			r.Marked++
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	if r.Failed > 0 {
		return r, fmt.Errorf("%w: %d of %d stale records not flagged", types.ErrPartialFailure, r.Failed, len(pending))
	}
	return r, nil
}
