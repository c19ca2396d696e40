package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/storage/memory"
	"github.com/castifi/bugtracker/internal/testutil/fixtures"
	"github.com/castifi/bugtracker/internal/types"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func zendesk(id string, created time.Time) *types.BugRecord {
	return &types.BugRecord{
		TicketID: "ZD-" + id, SourceSystem: types.SourceZendesk, SourceRecordID: id,
		SortKey: types.MakeSortKey(types.SourceZendesk, id), Priority: types.PriorityHigh,
		State: types.StateOpen, CreatedAt: created,
	}
}

func story(id, text, updated string, state types.State) *types.BugRecord {
	return &types.BugRecord{
		TicketID: "SC-" + id, SourceSystem: types.SourceShortcut, SourceRecordID: id,
		SortKey: types.MakeSortKey(types.SourceShortcut, id), Priority: types.PriorityHigh,
		State: state, Subject: "story " + id, Text: text, Assignee: "dana",
		CreatedAt: jan1.Add(time.Hour), SourceUpdatedAt: updated,
	}
}

func slack(ts, channel, text string, created time.Time) *types.BugRecord {
	return &types.BugRecord{
		TicketID: "SL-" + ts, SourceSystem: types.SourceSlack, SourceRecordID: ts,
		SortKey: types.MakeSortKey(types.SourceSlack, ts), Priority: types.PriorityUnknown,
		State: types.StateOpen, Text: text, Channel: channel, CreatedAt: created,
	}
}

func TestResolutionHoursExact(t *testing.T) {
	h := ResolutionHours(zendesk("1", jan1), story("1", "", "2024-01-02T00:00:00Z", types.StateClosed))
	if h == nil || *h != 24.0 {
		t.Fatalf("ResolutionHours = %v, want 24", h)
	}

	for _, bad := range []string{"", "yesterday", "2023-12-31T00:00:00Z"} {
		if h := ResolutionHours(zendesk("1", jan1), story("1", "", bad, types.StateClosed)); h != nil {
			t.Errorf("ResolutionHours(%q) = %v, want nil", bad, *h)
		}
	}
}

func TestRepeatedReferenceYieldsOneEdge(t *testing.T) {
	edges := FindEdges([]*types.BugRecord{
		zendesk("42", jan1),
		story("7", "see zd-42, also ZD-42 again", "2024-01-02T00:00:00Z", types.StateClosed),
	})
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1: %+v", len(edges), edges)
	}
	e := edges[0]
	if e.Type != EdgeDirectReference || e.From.TicketID != "ZD-42" || e.To.TicketID != "SC-7" {
		t.Errorf("edge = %+v", e)
	}
}

func TestBareIDMatchesAsSubstring(t *testing.T) {
	edges := FindEdges([]*types.BugRecord{
		zendesk("42", jan1),
		story("8", "build 1420 regression", "", types.StateOpen),
		story("9", "customer ticket 42 reopened", "", types.StateOpen),
		story("10", "nothing to see", "", types.StateOpen),
	})

	var got []string
	for _, e := range edges {
		got = append(got, e.From.TicketID+"->"+e.To.TicketID)
	}
	want := []string{"ZD-42->SC-8", "ZD-42->SC-9"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
}

func TestReferences(t *testing.T) {
	tests := []struct {
		hay, id string
		want    bool
	}{
		{"see zd-42", "42", true},
		{"ticket 42", "42", true},
		{"build 1420", "42", true},
		{"zd-4", "42", false},
		{"anything", "", false},
	}
	for _, tt := range tests {
		if got := references(tt.hay, tt.id); got != tt.want {
			t.Errorf("references(%q, %q) = %v, want %v", tt.hay, tt.id, got, tt.want)
		}
	}
}

func TestSlackEscalationAndChain(t *testing.T) {
	edges := FindEdges([]*types.BugRecord{
		zendesk("100", jan1),
		story("5", "[ZD-100] checkout fails", "2024-01-01T12:00:00Z", types.StateClosed),
		slack("1.0", "#bugs", "checkout broken, zendesk ticket: 100", jan1.Add(-2*time.Hour)),
	})

	var got []string
	for _, e := range edges {
		got = append(got, string(e.Type)+" "+e.From.TicketID+"->"+e.To.TicketID+" "+e.Via)
	}
	want := []string{
		"chained_reference SL-1.0->SC-5 ZD-100",
		"direct_reference ZD-100->SC-5 ",
		"escalation SL-1.0->ZD-100 ",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("edges (-want +got):\n%s", diff)
	}
	for _, e := range edges {
		if e.Type == EdgeChainedReference && (e.ResolutionHours == nil || *e.ResolutionHours != 14) {
			t.Errorf("chained resolution = %v, want 14", e.ResolutionHours)
		}
	}
}

func TestMetricsExcludeMalformed(t *testing.T) {
	recs := []*types.BugRecord{
		zendesk("1", jan1),
		zendesk("2", jan1),
		zendesk("3", jan1),
		story("11", "ZD-1", "2024-01-02T00:00:00Z", types.StateClosed), // 24h
		story("12", "ZD-2", "not a date", types.StateClosed),
		story("13", "ZD-3", "2024-01-01T02:00:00Z", types.StateClosed), // 2h
		story("14", "ZD-3", "2024-01-09T00:00:00Z", types.StateOpen),   // not completed
	}
	recs[5].Priority = types.PriorityLow

	m := ComputeMetrics(recs, FindEdges(recs))
	if m.Count != 2 || m.Excluded != 1 {
		t.Fatalf("count=%d excluded=%d", m.Count, m.Excluded)
	}
	if m.Average != 13 || m.Median != 13 || m.Min != 2 || m.Max != 24 {
		t.Errorf("stats = %+v", m.Stats)
	}
	if m.P95 < m.Min || m.P95 > m.Max || m.P90 > m.P95 {
		t.Errorf("quantiles out of range: p90=%v p95=%v", m.P90, m.P95)
	}

	hist := map[string]int{}
	for _, b := range m.Histogram {
		hist[b.Label] = b.Count
	}
	if diff := cmp.Diff(map[string]int{"0-4h": 1, "4-24h": 0, "1-3d": 1, "3-7d": 0, "1-2w": 0, "2w+": 0}, hist); diff != "" {
		t.Errorf("histogram (-want +got):\n%s", diff)
	}

	if m.ByPriority["High"].Count != 1 || m.ByPriority["Low"].Count != 1 || m.ByPriority["Low"].Max != 2 {
		t.Errorf("by priority = %+v / %+v", m.ByPriority["High"], m.ByPriority["Low"])
	}
}

func TestMetricsUnreferencedStoryUsesOwnCreation(t *testing.T) {
	s := story("20", "", "2024-01-04T01:00:00Z", types.StateClosed)
	m := ComputeMetrics([]*types.BugRecord{s}, nil)
	if m.Count != 1 || m.Min != 72 {
		t.Errorf("metrics = %+v", m.Stats)
	}
	if m.Histogram[3].Label != "3-7d" || m.Histogram[3].Count != 1 {
		t.Errorf("histogram = %+v", m.Histogram)
	}
}

func TestBuildFlowPlaceholdersAndTopCards(t *testing.T) {
	recs := []*types.BugRecord{zendesk("1", jan1), zendesk("2", jan1)}
	recs = append(recs,
		story("1", "ZD-1", "", types.StateOpen),
		story("2", "ZD-1 and ZD-2", "", types.StateOpen),
		slack("1.0", "#support", "zd-1 is back", jan1),
	)
	g := BuildFlow(FindEdges(recs), FlowConfig{TopCards: 1, MinOwners: 3, MinChannels: 2})

	var cards, placeholders int
	for _, n := range g.Nodes {
		if n.Category == CategoryCard {
			cards++
			if n.ID != "card:SC-2/shortcut#2" && n.ID != "card:SC-1/shortcut#1" {
				t.Errorf("unexpected card %s", n.ID)
			}
		}
		if n.Placeholder {
			placeholders++
		}
	}
	if cards != 1 {
		t.Errorf("kept %d cards, want 1", cards)
	}
	// One real owner (dana) and two real channels (zendesk, #support)
	if placeholders != 2 {
		t.Errorf("placeholders = %d, want 2", placeholders)
	}
	if len(g.Warnings) != 2 {
		t.Errorf("warnings = %v", g.Warnings)
	}

	total := 0
	for _, l := range g.Links {
		if l.Source == "owner:dana" {
			total += l.Value
		}
	}
	if total == 0 {
		t.Error("owner to card link missing")
	}
}

func TestBuildFlowAggregatesLinks(t *testing.T) {
	recs := []*types.BugRecord{
		zendesk("1", jan1),
		story("1", "ZD-1", "", types.StateOpen),
		slack("1.0", "#bugs", "zd-1", jan1),
		slack("2.0", "#bugs", "zendesk ticket: 1", jan1),
	}
	g := BuildFlow(FindEdges(recs), FlowConfig{TopCards: 15})
	want := []Link{
		{Source: "channel:#bugs", Target: "owner:dana", Value: 2},
		{Source: "channel:zendesk", Target: "owner:dana", Value: 1},
		{Source: "owner:dana", Target: "card:SC-1/shortcut#1", Value: 3},
	}
	if diff := cmp.Diff(want, g.Links); diff != "" {
		t.Errorf("links (-want +got):\n%s", diff)
	}
	if len(g.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", g.Warnings)
	}
}

func TestAnalyzeFixtures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if _, err := fixtures.Small(ctx, store); err != nil {
		t.Fatal(err)
	}
	e := New(query.New(store, logging.Discard()), logging.Func(t.Logf), DefaultFlowConfig())

	a := e.Analyze(ctx, nil)
	if !a.Success {
		t.Fatalf("Analyze failed: %s", a.Error)
	}
	if a.EdgeCounts[EdgeDirectReference] == 0 || a.EdgeCounts[EdgeEscalation] == 0 || a.EdgeCounts[EdgeChainedReference] == 0 {
		t.Errorf("edge counts = %v", a.EdgeCounts)
	}
	if a.Metrics.Count == 0 {
		t.Error("no resolution samples")
	}
	cards := 0
	for _, n := range a.Flow.Nodes {
		if n.Category == CategoryCard {
			cards++
		}
	}
	if cards != DefaultFlowConfig().TopCards {
		t.Errorf("cards = %d, want %d", cards, DefaultFlowConfig().TopCards)
	}
}

func TestAnalyzeStoreFailure(t *testing.T) {
	store := memory.New()
	_ = store.Close()
	a := New(query.New(store, logging.Discard()), logging.Discard(), DefaultFlowConfig()).Analyze(context.Background(), nil)
	if a.Success || a.Error == "" {
		t.Errorf("expected failure, got %+v", a)
	}
}
