package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/storage/memory"
	"github.com/castifi/bugtracker/internal/storage/storagetest"
	"github.com/castifi/bugtracker/internal/testutil/fixtures"
	"github.com/castifi/bugtracker/internal/types"
)

var day = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, recs ...*types.BugRecord) (*Engine, *memory.MemoryStorage) {
	t.Helper()
	store := memory.New()
	for _, r := range recs {
		if err := store.Upsert(context.Background(), r); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	return New(store, logging.Func(t.Logf)), store
}

func withPriority(r *types.BugRecord, p string) *types.BugRecord {
	r.Priority = p
	return r
}

func TestByTicketIDNewestFirst(t *testing.T) {
	e, _ := newEngine(t,
		storagetest.Record("ZD-1", types.SourceZendesk, "1", day),
		storagetest.Record("ZD-1", types.SourceSlack, "9.9", day.Add(time.Hour)),
		storagetest.Record("ZD-2", types.SourceZendesk, "2", day),
	)
	res := e.ByTicketID(context.Background(), "ZD-1")
	if !res.Success || res.Count != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Items[0].SourceSystem != types.SourceSlack {
		t.Errorf("first item = %s, want newest (slack)", res.Items[0].SortKey)
	}

	empty := e.ByTicketID(context.Background(), "ZD-404")
	if !empty.Success || empty.Count != 0 || empty.Items == nil {
		t.Errorf("missing ticket result = %+v", empty)
	}
}

func TestMissingParameters(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	for name, res := range map[string]*Result{
		"ticket":   e.ByTicketID(ctx, " "),
		"priority": e.ByPriority(ctx, "", nil),
		"state":    e.ByState(ctx, "", nil),
		"source":   e.BySource(ctx, "", nil),
		"badsrc":   e.BySource(ctx, "jira", nil),
		"order":    e.List(ctx, 10, "sideways"),
		"days":     e.TimeSeries(ctx, -1, ""),
	} {
		if res.Success || res.Error == "" {
			t.Errorf("%s: expected failure, got %+v", name, res)
		}
	}
}

func TestByPriorityNormalizesAndFiltersRange(t *testing.T) {
	e, _ := newEngine(t,
		storagetest.Record("ZD-1", types.SourceZendesk, "1", day),
		storagetest.Record("ZD-2", types.SourceZendesk, "2", day.AddDate(0, 0, 5)),
		withPriority(storagetest.Record("ZD-3", types.SourceZendesk, "3", day), types.PriorityLow),
	)
	res := e.ByPriority(context.Background(), "high", &types.TimeRange{Start: day, End: day.AddDate(0, 0, 1)})
	if !res.Success || res.Count != 1 || res.Priority != "High" {
		t.Fatalf("result = %+v", res)
	}
	if res.Items[0].TicketID != "ZD-1" {
		t.Errorf("item = %s", res.Items[0].TicketID)
	}
}

func TestByStateAndSource(t *testing.T) {
	closed := storagetest.Record("ZD-2", types.SourceShortcut, "2", day)
	closed.State = types.StateClosed
	e, _ := newEngine(t, storagetest.Record("ZD-1", types.SourceZendesk, "1", day), closed)
	ctx := context.Background()

	if res := e.ByState(ctx, "closed", nil); res.Count != 1 || res.State != "closed" {
		t.Errorf("ByState = %+v", res)
	}
	if res := e.BySource(ctx, "Shortcut", nil); res.Count != 1 || res.SourceSystem != "shortcut" {
		t.Errorf("BySource = %+v", res)
	}
}

func TestList(t *testing.T) {
	e, _ := newEngine(t,
		storagetest.Record("ZD-1", types.SourceZendesk, "1", day),
		storagetest.Record("ZD-2", types.SourceZendesk, "2", day.Add(time.Hour)),
		storagetest.Record("ZD-3", types.SourceZendesk, "3", day.Add(2*time.Hour)),
	)
	ctx := context.Background()

	newest := e.List(ctx, 2, types.OrderNewest)
	if newest.Count != 2 || newest.Items[0].TicketID != "ZD-3" || newest.Items[1].TicketID != "ZD-2" {
		t.Errorf("newest = %v", ids(newest.Items))
	}
	oldest := e.List(ctx, 0, types.OrderOldest)
	if diff := cmp.Diff([]string{"ZD-1", "ZD-2", "ZD-3"}, ids(oldest.Items)); diff != "" {
		t.Errorf("oldest (-want +got):\n%s", diff)
	}
}

func ids(recs []*types.BugRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.TicketID
	}
	return out
}

func TestSummaryCountsPassthroughPriorities(t *testing.T) {
	e, _ := newEngine(t,
		storagetest.Record("ZD-1", types.SourceZendesk, "1", day),
		withPriority(storagetest.Record("ZD-2", types.SourceZendesk, "2", day), "P0-Sev1"),
		withPriority(storagetest.Record("ZD-2", types.SourceSlack, "1.5", day), types.PriorityUnknown),
	)
	res := e.Summary(context.Background(), nil, "")
	if !res.Success {
		t.Fatalf("Summary failed: %s", res.Error)
	}
	s := res.Summary
	if s.TotalBugs != 3 || s.ByPriority["P0-Sev1"] != 1 || s.ByPriority["High"] != 1 || s.ByPriority["Critical"] != 0 {
		t.Errorf("by_priority = %v total=%d", s.ByPriority, s.TotalBugs)
	}
	if s.ByState["open"] != 3 || s.BySource["zendesk"] != 2 || s.BySource["slack"] != 1 {
		t.Errorf("by_state = %v by_source = %v", s.ByState, s.BySource)
	}

	filtered := e.Summary(context.Background(), nil, "slack").Summary
	if filtered.TotalBugs != 1 || filtered.BySource["zendesk"] != 0 || filtered.ByPriority["Unknown"] != 1 {
		t.Errorf("filtered summary = %+v", filtered)
	}
}

func TestSummaryTotalMatchesFullScan(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if _, err := fixtures.Small(ctx, store); err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	e := New(store, logging.Discard())

	ranges := []*types.TimeRange{
		nil,
		{Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
		{Start: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)},
	}
	all, err := store.FullScan(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range ranges {
		want := 0
		for _, r := range all {
			if tr.Contains(r.CreatedAt) {
				want++
			}
		}
		res := e.Summary(ctx, tr, "")
		sum := 0
		for _, n := range res.Summary.ByPriority {
			sum += n
		}
		if sum != want || res.Summary.TotalBugs != want {
			t.Errorf("range %+v: priority sum %d, total %d, full scan %d", tr, sum, res.Summary.TotalBugs, want)
		}
	}
}

func TestTimeSeriesDense(t *testing.T) {
	e, _ := newEngine(t, storagetest.Record("ZD-1", types.SourceZendesk, "1", day.Add(-20*time.Hour)))
	e.SetClock(func() time.Time { return day.Add(15 * time.Hour) })

	res := e.TimeSeries(context.Background(), 3, "")
	if !res.Success {
		t.Fatalf("TimeSeries failed: %s", res.Error)
	}
	want := []DayCount{{"2024-06-08", 0}, {"2024-06-09", 1}, {"2024-06-10", 0}}
	if diff := cmp.Diff(want, res.TimeSeries); diff != "" {
		t.Errorf("series (-want +got):\n%s", diff)
	}
	if res.TotalDays != 3 || res.Count != 1 {
		t.Errorf("total_days=%d count=%d", res.TotalDays, res.Count)
	}

	if res := e.TimeSeries(context.Background(), 3, "slack"); res.Count != 0 || len(res.TimeSeries) != 3 {
		t.Errorf("slack series = %+v", res)
	}
	if res := e.TimeSeries(context.Background(), 0, ""); len(res.TimeSeries) != DefaultTimeSeriesDays {
		t.Errorf("default days = %d", len(res.TimeSeries))
	}
}

// brokenStore fails every read
type brokenStore struct{ storage.Storage }

func (brokenStore) ScanByIndex(context.Context, types.Index, string, *types.TimeRange) ([]*types.BugRecord, error) {
	return nil, types.ErrExternal
}

func (brokenStore) IndexKeys(context.Context, types.Index) ([]string, error) {
	return nil, types.ErrExternal
}

func (brokenStore) FullScan(context.Context, int) ([]*types.BugRecord, error) {
	return nil, types.ErrExternal
}

func TestStoreFailureBecomesFailedResult(t *testing.T) {
	var logged []string
	e := New(brokenStore{memory.New()}, logging.Func(func(format string, args ...interface{}) {
		logged = append(logged, format)
	}))
	ctx := context.Background()
	for name, res := range map[string]*Result{
		"priority": e.ByPriority(ctx, "High", nil),
		"summary":  e.Summary(ctx, nil, ""),
		"series":   e.TimeSeries(ctx, 3, ""),
		"list":     e.List(ctx, 5, ""),
	} {
		if res.Success || res.Count != 0 || res.Error != types.ErrExternal.Error() {
			t.Errorf("%s: %+v", name, res)
		}
	}
	if len(logged) != 4 {
		t.Errorf("logged %d failures, want 4", len(logged))
	}
}
