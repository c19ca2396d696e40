package rpc

import (
	"context"
	"encoding/json"

	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/types"
	"github.com/castifi/bugtracker/internal/utils"
)

// queryResponse wraps a query.Result; the result's own success flag and
// error become the envelope's
func queryResponse(res *query.Result) Response {
	data, err := json.Marshal(res)
	if err != nil {
		return failure(err)
	}
	return Response{Success: res.Success, Data: data, Error: res.Error}
}

func (s *Server) handleByTicketID(ctx context.Context, req *Request) Response {
	var args TicketArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	// Exact lookup; an unknown ticket is an empty result, not a failure
	return queryResponse(s.deps.Query.ByTicketID(ctx, utils.ParseTicketID(args.TicketID)))
}

func (s *Server) handleByPriority(ctx context.Context, req *Request) Response {
	var args PriorityArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	tr, err := args.TimeRange()
	if err != nil {
		return failure(err)
	}
	return queryResponse(s.deps.Query.ByPriority(ctx, args.Priority, tr))
}

func (s *Server) handleByState(ctx context.Context, req *Request) Response {
	var args StateArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	tr, err := args.TimeRange()
	if err != nil {
		return failure(err)
	}
	return queryResponse(s.deps.Query.ByState(ctx, args.State, tr))
}

func (s *Server) handleBySource(ctx context.Context, req *Request) Response {
	var args SourceArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	tr, err := args.TimeRange()
	if err != nil {
		return failure(err)
	}
	return queryResponse(s.deps.Query.BySource(ctx, args.SourceSystem, tr))
}

func (s *Server) handleSummary(ctx context.Context, req *Request) Response {
	var args SummaryArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	tr, err := args.TimeRange()
	if err != nil {
		return failure(err)
	}
	return queryResponse(s.deps.Query.Summary(ctx, tr, args.SourceSystem))
}

func (s *Server) handleTimeSeries(ctx context.Context, req *Request) Response {
	var args TimeSeriesArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	return queryResponse(s.deps.Query.TimeSeries(ctx, args.Days, args.SourceSystem))
}

func (s *Server) handleList(ctx context.Context, req *Request) Response {
	var args ListArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	if err := args.Filter.Validate(); err != nil {
		return failure(err)
	}
	if args.Filter == nil {
		return queryResponse(s.deps.Query.List(ctx, args.Limit, types.OrderBy(args.Order)))
	}

	res := s.deps.Query.List(ctx, 0, types.OrderBy(args.Order))
	if !res.Success {
		return queryResponse(res)
	}
	kept := make([]*types.BugRecord, 0, len(res.Items))
	for _, rec := range res.Items {
		if args.Filter.Matches(rec) {
			kept = append(kept, rec)
		}
	}
	if args.Limit > 0 && len(kept) > args.Limit {
		kept = kept[:args.Limit]
	}
	res.Items = kept
	res.Count = len(kept)
	return queryResponse(res)
}

func (s *Server) handleFlowAnalytics(ctx context.Context, req *Request) Response {
	var args RangeArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	tr, err := args.TimeRange()
	if err != nil {
		return failure(err)
	}
	a := s.deps.Correlate.Analyze(ctx, tr)
	data, mErr := json.Marshal(a)
	if mErr != nil {
		return failure(mErr)
	}
	return Response{Success: a.Success, Data: data, Error: a.Error}
}
