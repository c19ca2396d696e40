package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castifi/bugtracker/internal/linker"
	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/sources"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/storage/memory"
	"github.com/castifi/bugtracker/internal/types"
)

type fakeSource struct {
	system types.SourceSystem
	batch  *sources.Batch
	err    error
}

func (f *fakeSource) System() types.SourceSystem { return f.system }

func (f *fakeSource) Fetch(ctx context.Context) (*sources.Batch, error) {
	return f.batch, f.err
}

func rec(ticket string, source types.SourceSystem, id string) *types.BugRecord {
	return &types.BugRecord{
		TicketID:       ticket,
		SourceSystem:   source,
		SourceRecordID: id,
		Priority:       types.PriorityHigh,
		State:          types.StateOpen,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCycleCountsPerSource(t *testing.T) {
	store := memory.New()
	c := &Cycle{
		Sources: []sources.Source{
			&fakeSource{system: types.SourceSlack, batch: &sources.Batch{
				Records: []*types.BugRecord{rec("SL-1", types.SourceSlack, "1.0"), rec("ZD-1", types.SourceSlack, "2.0")},
				Skipped: []error{errors.New("bad ts")},
			}},
			&fakeSource{system: types.SourceZendesk, batch: &sources.Batch{
				Records: []*types.BugRecord{rec("ZD-1", types.SourceZendesk, "1")},
			}},
			&fakeSource{system: types.SourceShortcut, err: errors.New("401")},
		},
		Store:   store,
		Batcher: storage.NewBatcher(1, 0),
		Log:     logging.Func(t.Logf),
	}

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.TotalRecords != 3 || report.SlackRecords != 2 || report.ZendeskRecords != 1 || report.ShortcutRecords != 0 {
		t.Errorf("unexpected counts: %+v", report)
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if report.SourceErrors["shortcut"] == "" {
		t.Error("shortcut failure not reported")
	}

	recs, _ := store.GetByTicket(context.Background(), "ZD-1")
	if len(recs) != 2 {
		t.Errorf("ZD-1 has %d records, want 2", len(recs))
	}
}

func TestCycleAllSourcesFail(t *testing.T) {
	c := &Cycle{
		Sources: []sources.Source{&fakeSource{system: types.SourceSlack, err: types.ErrExternal}},
		Store:   memory.New(),
	}
	_, err := c.Run(context.Background())
	if !errors.Is(err, types.ErrExternal) {
		t.Errorf("expected ErrExternal, got %v", err)
	}
}

func TestCycleDryRunWritesNothing(t *testing.T) {
	store := memory.New()
	c := &Cycle{
		Sources: []sources.Source{&fakeSource{system: types.SourceZendesk, batch: &sources.Batch{
			Records: []*types.BugRecord{rec("ZD-1", types.SourceZendesk, "1")},
		}}},
		Store:  store,
		DryRun: true,
	}
	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.ZendeskRecords != 1 {
		t.Errorf("ZendeskRecords = %d, want 1", report.ZendeskRecords)
	}
	if all, _ := store.FullScan(context.Background(), 0); len(all) != 0 {
		t.Errorf("dry run wrote %d records", len(all))
	}
}

func TestCycleReportsStoreFailures(t *testing.T) {
	store := memory.New()
	_ = store.Close()
	c := &Cycle{
		Sources: []sources.Source{&fakeSource{system: types.SourceZendesk, batch: &sources.Batch{
			Records: []*types.BugRecord{rec("ZD-1", types.SourceZendesk, "1")},
		}}},
		Store:   store,
		Batcher: storage.NewBatcher(25, 0),
	}
	report, err := c.Run(context.Background())
	if !errors.Is(err, types.ErrPartialFailure) {
		t.Errorf("expected ErrPartialFailure, got %v", err)
	}
	if report.Failed != 1 || report.TotalRecords != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

const slackTS = "1718010000.000100"

// slackFeed returns a fresh copy of the same Slack message on every fetch,
// the way the real normalizer derives SL- ids from the message
type slackFeed struct{ text string }

func (f *slackFeed) System() types.SourceSystem { return types.SourceSlack }

func (f *slackFeed) Fetch(ctx context.Context) (*sources.Batch, error) {
	r := rec("SL-9f3a01c2d4e5b6a7", types.SourceSlack, slackTS)
	r.Text = f.text
	return &sources.Batch{Records: []*types.BugRecord{r}}, nil
}

func newCycle(t *testing.T, store storage.Storage, feed *slackFeed) *Cycle {
	return &Cycle{
		Sources: []sources.Source{feed},
		Store:   store,
		Batcher: storage.NewBatcher(25, 0),
		Log:     logging.Func(t.Logf),
	}
}

func copiesOf(t *testing.T, store storage.Storage, sortKey string) []*types.BugRecord {
	t.Helper()
	copies, err := store.GetBySortKey(context.Background(), sortKey)
	if err != nil {
		t.Fatalf("GetBySortKey failed: %v", err)
	}
	return copies
}

func TestReingestAfterLinkKeepsTicket(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	feed := &slackFeed{text: "checkout broken"}
	cycle := newCycle(t, store, feed)

	if _, err := cycle.Run(ctx); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	l := linker.New(store, storage.NewBatcher(25, 0), logging.Func(t.Logf))
	if _, err := l.Link(ctx, "SL-9f3a01c2d4e5b6a7", "ZD-42"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	feed.text = "checkout broken (edited)"
	report, err := cycle.Run(ctx)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if report.SlackRecords != 1 {
		t.Errorf("SlackRecords = %d, want 1", report.SlackRecords)
	}

	if old, _ := store.GetByTicket(ctx, "SL-9f3a01c2d4e5b6a7"); len(old) != 0 {
		t.Errorf("re-ingestion recreated %d record(s) under the old ticket", len(old))
	}
	copies := copiesOf(t, store, "slack#"+slackTS)
	if len(copies) != 1 {
		t.Fatalf("%d copies of the message, want 1", len(copies))
	}
	got := copies[0]
	if got.TicketID != "ZD-42" || got.LinkedFrom != "SL-9f3a01c2d4e5b6a7" {
		t.Errorf("copy = %s (linked from %q), want ZD-42 linked from SL-9f3a01c2d4e5b6a7", got.TicketID, got.LinkedFrom)
	}
	if got.Text != "checkout broken (edited)" {
		t.Errorf("Text = %q, want the re-ingested text", got.Text)
	}
}

func TestReingestDoesNotUndoReconcile(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	feed := &slackFeed{text: "export hangs"}
	cycle := newCycle(t, store, feed)

	if _, err := cycle.Run(ctx); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	// A link that stopped between its copy and its delete
	moved := rec("ZD-42", types.SourceSlack, slackTS)
	moved.LinkedFrom = "SL-9f3a01c2d4e5b6a7"
	if err := store.Put(ctx, moved); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Ingesting while duplicated updates the linked copy, not the stale one
	feed.text = "export hangs again"
	if _, err := cycle.Run(ctx); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	linked, _ := store.Get(ctx, "ZD-42", "slack#"+slackTS)
	if linked == nil || linked.Text != "export hangs again" {
		t.Errorf("linked copy = %+v, want the re-ingested text", linked)
	}

	l := linker.New(store, storage.NewBatcher(25, 0), logging.Func(t.Logf))
	res, err := l.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0].TicketID != "SL-9f3a01c2d4e5b6a7" {
		t.Fatalf("Reconcile removed %+v", res.Removed)
	}

	if _, err := cycle.Run(ctx); err != nil {
		t.Fatalf("third Run failed: %v", err)
	}
	copies := copiesOf(t, store, "slack#"+slackTS)
	if len(copies) != 1 || copies[0].TicketID != "ZD-42" {
		t.Errorf("after reconcile and ingest copies = %d (first %v), want only ZD-42", len(copies), copies)
	}
	again, err := l.Reconcile(ctx, true)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if again.Duplicates != 0 {
		t.Errorf("ingestion reintroduced %d duplicate(s)", again.Duplicates)
	}
}
