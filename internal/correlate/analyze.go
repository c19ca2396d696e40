package correlate

import (
	"context"
	"fmt"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/types"
)

// Analysis is the flow_analytics result
type Analysis struct {
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	RecordCount int              `json:"count"`
	TimeRange   *types.TimeRange `json:"time_range,omitempty"`
	EdgeCounts  map[EdgeType]int `json:"edge_counts"`
	Edges       []Edge           `json:"edges"`
	Metrics     *Metrics         `json:"metrics,omitempty"`
	Flow        *Graph           `json:"flow,omitempty"`
}

// Engine runs the correlation pipeline over query results
type Engine struct {
	query *query.Engine
	log   logging.Logger
	flow  FlowConfig
}

// New returns an Engine reading records through q
func New(q *query.Engine, log logging.Logger, flow FlowConfig) *Engine {
	return &Engine{query: q, log: log, flow: flow}
}

// Analyze loads every record created in tr, one source at a time, and
// returns edges, resolution metrics and the flow graph. Query failures
// produce a failed Analysis, never an error.
func (e *Engine) Analyze(ctx context.Context, tr *types.TimeRange) *Analysis {
	var recs []*types.BugRecord
	for _, src := range types.AllSources {
		res := e.query.BySource(ctx, string(src), tr)
		if !res.Success {
			msg := fmt.Sprintf("loading %s records: %s", src, res.Error)
			e.log.Log("Error in flow analytics: %s", msg)
			return &Analysis{Success: false, Error: msg, EdgeCounts: map[EdgeType]int{}, Edges: []Edge{}}
		}
		recs = append(recs, res.Items...)
	}

	edges := FindEdges(recs)
	if edges == nil {
		edges = []Edge{}
	}
	counts := map[EdgeType]int{EdgeDirectReference: 0, EdgeEscalation: 0, EdgeChainedReference: 0}
	for _, ed := range edges {
		counts[ed.Type]++
	}

	a := &Analysis{
		Success:     true,
		RecordCount: len(recs),
		TimeRange:   tr,
		EdgeCounts:  counts,
		Edges:       edges,
		Metrics:     ComputeMetrics(recs, edges),
		Flow:        BuildFlow(edges, e.flow),
	}
	for _, w := range a.Flow.Warnings {
		e.log.Log("Flow analytics: %s", w)
	}
	return a
}
