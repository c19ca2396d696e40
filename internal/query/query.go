// Package query answers dashboard questions over the unified store.
//
// Every Engine method returns a *Result; store failures are logged and turned
// into a failed Result, never returned as errors.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// DefaultTimeSeriesDays is used when a caller asks for zero days
const DefaultTimeSeriesDays = 7

// Result is the envelope shared by every query
type Result struct {
	Success bool               `json:"success"`
	Items   []*types.BugRecord `json:"items,omitempty"`
	Count   int                `json:"count"`
	Error   string             `json:"error,omitempty"`

	// Echo of the requested partition, set by the indexed lookups
	Priority     string `json:"priority,omitempty"`
	State        string `json:"state,omitempty"`
	SourceSystem string `json:"source_system,omitempty"`

	Summary    *Summary   `json:"summary,omitempty"`
	TimeSeries []DayCount `json:"time_series,omitempty"`
	TotalDays  int        `json:"total_days,omitempty"`
}

// Summary counts records per index partition
type Summary struct {
	TotalBugs  int              `json:"total_bugs"`
	ByPriority map[string]int   `json:"by_priority"`
	ByState    map[string]int   `json:"by_state"`
	BySource   map[string]int   `json:"by_source"`
	TimeRange  *types.TimeRange `json:"time_range,omitempty"`
	Source     string           `json:"source,omitempty"`
}

// DayCount is one bucket of a time series
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Engine runs queries against a store
type Engine struct {
	store storage.Storage
	log   logging.Logger
	now   func() time.Time
}

// New returns an Engine
func New(store storage.Storage, log logging.Logger) *Engine {
	return &Engine{store: store, log: log, now: time.Now}
}

// SetClock overrides the time source used by TimeSeries (tests)
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) fail(op string, err error) *Result {
	e.log.Log("Error %s: %v", op, err)
	return &Result{Success: false, Error: err.Error(), Items: []*types.BugRecord{}}
}

func ok(items []*types.BugRecord) *Result {
	if items == nil {
		items = []*types.BugRecord{}
	}
	return &Result{Success: true, Items: items, Count: len(items)}
}

// ByTicketID returns every record filed under ticketID, newest first
func (e *Engine) ByTicketID(ctx context.Context, ticketID string) *Result {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return e.fail("querying by ticket ID", missing("ticket_id"))
	}
	recs, err := e.store.GetByTicket(ctx, ticketID)
	if err != nil {
		return e.fail("querying by ticket ID", err)
	}
	storage.SortByCreated(recs, types.OrderNewest)
	return ok(recs)
}

// ByPriority scans the priority projection. The value is normalized first,
// so "high" and "High" are the same partition.
func (e *Engine) ByPriority(ctx context.Context, priority string, tr *types.TimeRange) *Result {
	if strings.TrimSpace(priority) == "" {
		return e.fail("querying by priority", missing("priority"))
	}
	priority = normalize.NormalizePriority(priority)
	res := e.scan(ctx, "querying by priority", types.IndexPriority, priority, tr)
	res.Priority = priority
	return res
}

// ByState scans the state projection
func (e *Engine) ByState(ctx context.Context, state string, tr *types.TimeRange) *Result {
	state = strings.TrimSpace(state)
	if state == "" {
		return e.fail("querying by state", missing("state"))
	}
	res := e.scan(ctx, "querying by state", types.IndexState, state, tr)
	res.State = state
	return res
}

// BySource scans the source projection
func (e *Engine) BySource(ctx context.Context, source string, tr *types.TimeRange) *Result {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return e.fail("querying by source", missing("source_system"))
	}
	if !types.SourceSystem(source).IsValid() {
		return e.fail("querying by source", fmt.Errorf("%w: unknown source system %q", types.ErrMalformedInput, source))
	}
	res := e.scan(ctx, "querying by source", types.IndexSource, source, tr)
	res.SourceSystem = source
	return res
}

func (e *Engine) scan(ctx context.Context, op string, index types.Index, key string, tr *types.TimeRange) *Result {
	recs, err := e.store.ScanByIndex(ctx, index, key, tr)
	if err != nil {
		return e.fail(op, err)
	}
	storage.SortByCreated(recs, types.OrderNewest)
	return ok(recs)
}

// List returns up to limit records ordered by CreatedAt. limit <= 0 means all.
func (e *Engine) List(ctx context.Context, limit int, order types.OrderBy) *Result {
	switch order {
	case "":
		order = types.OrderNewest
	case types.OrderNewest, types.OrderOldest:
	default:
		return e.fail("listing bugs", fmt.Errorf("%w: order must be newest or oldest, got %q", types.ErrMalformedInput, order))
	}
	// The store has no global order, so the whole table is read and sorted here
	recs, err := e.store.FullScan(ctx, 0)
	if err != nil {
		return e.fail("listing bugs", err)
	}
	storage.SortByCreated(recs, order)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return ok(recs)
}

// Summary counts records by priority, state and source. Each bucket is one
// indexed query; the buckets are the known values plus whatever keys the
// store currently holds, so the priority counts always add up to the total.
// A non-empty source restricts every count to that source.
func (e *Engine) Summary(ctx context.Context, tr *types.TimeRange, source string) *Result {
	source = strings.ToLower(strings.TrimSpace(source))
	if source != "" && !types.SourceSystem(source).IsValid() {
		return e.fail("getting bugs summary", fmt.Errorf("%w: unknown source system %q", types.ErrMalformedInput, source))
	}

	s := &Summary{TimeRange: tr, Source: source}
	var err error

	if s.ByPriority, err = e.countPartitions(ctx, types.IndexPriority, types.KnownPriorities, tr, source); err != nil {
		return e.fail("getting bugs summary", err)
	}
	states := make([]string, len(types.AllStates))
	for i, st := range types.AllStates {
		states[i] = string(st)
	}
	if s.ByState, err = e.countPartitions(ctx, types.IndexState, states, tr, source); err != nil {
		return e.fail("getting bugs summary", err)
	}

	s.BySource = make(map[string]int, len(types.AllSources))
	for _, src := range types.AllSources {
		if source != "" && string(src) != source {
			s.BySource[string(src)] = 0
			continue
		}
		recs, err := e.store.ScanByIndex(ctx, types.IndexSource, string(src), tr)
		if err != nil {
			return e.fail("getting bugs summary", err)
		}
		s.BySource[string(src)] = len(recs)
	}

	for _, n := range s.ByPriority {
		s.TotalBugs += n
	}
	return &Result{Success: true, Summary: s, Count: s.TotalBugs}
}

func (e *Engine) countPartitions(ctx context.Context, index types.Index, known []string, tr *types.TimeRange, source string) (map[string]int, error) {
	present, err := e.store.IndexKeys(ctx, index)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(known)+len(present))
	for _, k := range known {
		counts[k] = 0
	}
	for _, k := range present {
		counts[k] = 0
	}
	for key := range counts {
		recs, err := e.store.ScanByIndex(ctx, index, key, tr)
		if err != nil {
			return nil, err
		}
		counts[key] = countSource(recs, source)
	}
	return counts, nil
}

func countSource(recs []*types.BugRecord, source string) int {
	if source == "" {
		return len(recs)
	}
	n := 0
	for _, r := range recs {
		if string(r.SourceSystem) == source {
			n++
		}
	}
	return n
}

// TimeSeries counts records per UTC calendar day for the last days days,
// ending today. Days without records are present with a zero count.
func (e *Engine) TimeSeries(ctx context.Context, days int, source string) *Result {
	if days == 0 {
		days = DefaultTimeSeriesDays
	}
	if days < 0 {
		return e.fail("getting time series data", fmt.Errorf("%w: days must be positive, got %d", types.ErrMalformedInput, days))
	}
	source = strings.ToLower(strings.TrimSpace(source))
	if source != "" && !types.SourceSystem(source).IsValid() {
		return e.fail("getting time series data", fmt.Errorf("%w: unknown source system %q", types.ErrMalformedInput, source))
	}

	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := today.AddDate(0, 0, -(days - 1))
	tr := &types.TimeRange{Start: first, End: today.AddDate(0, 0, 1).Add(-time.Nanosecond)}

	sources := types.AllSources
	if source != "" {
		sources = []types.SourceSystem{types.SourceSystem(source)}
	}

	byDate := make(map[string]int)
	for _, src := range sources {
		recs, err := e.store.ScanByIndex(ctx, types.IndexSource, string(src), tr)
		if err != nil {
			return e.fail("getting time series data", err)
		}
		for _, r := range recs {
			byDate[r.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}

	series := make([]DayCount, days)
	total := 0
	for i := range series {
		d := first.AddDate(0, 0, i).Format("2006-01-02")
		series[i] = DayCount{Date: d, Count: byDate[d]}
		total += byDate[d]
	}
	return &Result{Success: true, TimeSeries: series, TotalDays: days, Count: total}
}

func missing(param string) error {
	return fmt.Errorf("%w: missing required parameter: %s", types.ErrMalformedInput, param)
}
