// Package ingest runs one ingestion cycle: fetch every source, then upsert.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/sources"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// MetadataStore is implemented by backends that persist sync bookkeeping
type MetadataStore interface {
	SetMetadata(ctx context.Context, key, value string) error
}

// LastSyncKey is the metadata key holding a source's last successful sync time
func LastSyncKey(source types.SourceSystem) string {
	return "last_sync." + string(source)
}

// Report summarizes one cycle
type Report struct {
	TotalRecords    int               `json:"total_records"`
	SlackRecords    int               `json:"slack_records"`
	ZendeskRecords  int               `json:"zendesk_records"`
	ShortcutRecords int               `json:"shortcut_records"`
	Skipped         int               `json:"skipped"`
	Failed          int               `json:"failed"`
	SourceErrors    map[string]string `json:"source_errors,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        string            `json:"duration"`
}

func (r *Report) addCount(source types.SourceSystem, n int) {
	r.TotalRecords += n
	switch source {
	case types.SourceSlack:
		r.SlackRecords += n
	case types.SourceZendesk:
		r.ZendeskRecords += n
	case types.SourceShortcut:
		r.ShortcutRecords += n
	}
}

// Cycle fetches from sources in parallel and writes sequentially
type Cycle struct {
	Sources []sources.Source
	Store   storage.Storage
	Batcher *storage.Batcher
	Log     logging.Logger
	// DryRun fetches and normalizes without writing
	DryRun bool
}

// Run executes one cycle. A failing source is reported and skipped. The error
// wraps ErrExternal when every source failed and ErrPartialFailure when some
// records could not be stored; the report is always returned.
func (c *Cycle) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{StartedAt: start.UTC(), SourceErrors: map[string]string{}}

	batches := make([]*sources.Batch, len(c.Sources))
	errs := make([]error, len(c.Sources))

	// Source failures are collected, not returned, so one bad source
	// does not cancel the others.
	g, gCtx := errgroup.WithContext(ctx)
	for i, src := range c.Sources {
		i, src := i, src
		g.Go(func() error {
			batches[i], errs[i] = src.Fetch(gCtx)
			return nil
		})
	}
	_ = g.Wait()

	var records []*types.BugRecord
	var fetched []types.SourceSystem
	for i, src := range c.Sources {
		if errs[i] != nil {
			c.Log.Log("Error fetching %s: %v", src.System(), errs[i])
			report.SourceErrors[string(src.System())] = errs[i].Error()
		}
		b := batches[i]
		if b == nil {
			continue
		}
		for _, skipErr := range b.Skipped {
			c.Log.Log("Skipping malformed %s item: %v", src.System(), skipErr)
		}
		report.Skipped += len(b.Skipped)
		records = append(records, b.Records...)
		if errs[i] == nil {
			fetched = append(fetched, src.System())
		}
	}

	if !c.DryRun {
		c.write(ctx, records, report)
		c.markSynced(ctx, fetched, start)
	} else {
		for _, rec := range records {
			report.addCount(rec.SourceSystem, 1)
		}
	}

	report.Duration = time.Since(start).Round(time.Millisecond).String()
	c.Log.Log("Ingestion complete: %d records (slack %d, zendesk %d, shortcut %d), %d skipped, %d failed",
		report.TotalRecords, report.SlackRecords, report.ZendeskRecords, report.ShortcutRecords, report.Skipped, report.Failed)

	if len(c.Sources) > 0 && len(report.SourceErrors) == len(c.Sources) {
		return report, fmt.Errorf("%w: every source failed", types.ErrExternal)
	}
	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d records failed to store", types.ErrPartialFailure, report.Failed, len(records))
	}
	return report, nil
}

// write upserts records in chunks. Upsert chunks are idempotent so a failed
// cycle can simply be rerun. A record that was linked to another ticket is
// written under that ticket, not the id its normalizer derives.
func (c *Cycle) write(ctx context.Context, records []*types.BugRecord, report *Report) {
	batcher := c.Batcher
	if batcher == nil {
		batcher = storage.NewBatcher(storage.MaxBatchSize, storage.DefaultBatchDelay)
	}
	err := batcher.Run(ctx, len(records), func(startIdx, end int) error {
		for _, rec := range records[startIdx:end] {
			if err := c.retarget(ctx, rec); err != nil {
				c.Log.Log("Error locating %s/%s: %v", rec.TicketID, rec.SortKey, err)
				report.Failed++
				continue
			}
			if err := c.Store.Upsert(ctx, rec); err != nil {
				c.Log.Log("Error storing %s/%s: %v", rec.TicketID, rec.SortKey, err)
				report.Failed++
				continue
			}
			report.addCount(rec.SourceSystem, 1)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.Log.Log("Ingestion write loop stopped: %v", err)
	}
}

// retarget points rec at the ticket currently holding its source record
func (c *Cycle) retarget(ctx context.Context, rec *types.BugRecord) error {
	if rec.SortKey == "" {
		rec.SortKey = types.MakeSortKey(rec.SourceSystem, rec.SourceRecordID)
	}
	copies, err := c.Store.GetBySortKey(ctx, rec.SortKey)
	if err != nil {
		return err
	}
	holder := storage.CurrentCopy(copies)
	if holder == nil || holder.TicketID == rec.TicketID {
		return nil
	}
	rec.TicketID = holder.TicketID
	rec.LinkedFrom = holder.LinkedFrom
	return nil
}

func (c *Cycle) markSynced(ctx context.Context, fetched []types.SourceSystem, at time.Time) {
	ms, ok := c.Store.(MetadataStore)
	if !ok {
		return
	}
	for _, src := range fetched {
		if err := ms.SetMetadata(ctx, LastSyncKey(src), at.UTC().Format(time.RFC3339)); err != nil {
			c.Log.Log("Warning: could not record last sync for %s: %v", src, err)
		}
	}
}
