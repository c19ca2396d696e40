package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/castifi/bugtracker/internal/linker"
	"github.com/castifi/bugtracker/internal/types"
	"github.com/castifi/bugtracker/internal/utils"
)

// linkResponse keeps the record outcomes in data and mirrors the link
// surface fields at the top of it
func linkResponse(res *linker.Result, err error) Response {
	if res == nil {
		return failure(err)
	}
	resp := success(res, err)
	resp.Success = res.Success
	return resp
}

func (s *Server) handleLink(ctx context.Context, req *Request) Response {
	var args LinkArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	// Exact ids only: a fragment must never move some other ticket's records
	oldID := utils.ParseTicketID(args.OldTicketID)
	newID := utils.ParseTicketID(args.NewTicketID)
	return linkResponse(s.deps.Linker.Link(ctx, oldID, newID))
}

func (s *Server) handleSyntheticLink(ctx context.Context, req *Request) Response {
	var args SyntheticLinkArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	return linkResponse(s.deps.Linker.SyntheticLink(ctx, args.SlackRef, args.ZendeskID))
}

func (s *Server) handleTicketSummary(ctx context.Context, req *Request) Response {
	var args TicketArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	id, err := utils.ResolveTicketID(ctx, s.deps.Store, args.TicketID)
	if err != nil {
		return failure(err)
	}
	summary, err := s.deps.Linker.Summary(ctx, id)
	if err != nil {
		return failure(err)
	}
	return success(summary, nil)
}

func (s *Server) handleUnlinkedSlack(ctx context.Context, _ *Request) Response {
	out, err := s.deps.Linker.ListUnlinkedSlack(ctx)
	if err != nil {
		return failure(err)
	}
	return success(map[string]interface{}{"items": out, "count": len(out)}, nil)
}

func (s *Server) handleReconcile(ctx context.Context, req *Request) Response {
	var args DryRunArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	res, err := s.deps.Linker.Reconcile(ctx, args.DryRun)
	if res == nil {
		return failure(err)
	}
	return success(res, err)
}

func (s *Server) handleCleanupSlack(ctx context.Context, req *Request) Response {
	args := CleanupArgs{Marker: linker.DefaultCleanupMarker}
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	res, err := s.deps.Linker.CleanupSlack(ctx, args.Marker, args.DryRun)
	if res == nil {
		return failure(err)
	}
	return success(res, err)
}

func (s *Server) handleStale(ctx context.Context, req *Request) Response {
	var args StaleArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	var window time.Duration
	if args.Window != "" {
		d, err := time.ParseDuration(args.Window)
		if err != nil || d < 0 {
			return failure(fmt.Errorf("%w: invalid window %q", types.ErrMalformedInput, args.Window))
		}
		window = d
	}
	scan := s.deps.Stale.Scan
	if args.Mark {
		scan = s.deps.Stale.Mark
	}
	report, err := scan(ctx, window)
	if report == nil {
		return failure(err)
	}
	return success(report, err)
}

func (s *Server) handleIngest(ctx context.Context, req *Request) Response {
	var args IngestArgs
	if err := decodeArgs(req, &args); err != nil {
		return failure(err)
	}
	report, err := s.Ingest(ctx, args.DryRun)
	if report == nil {
		return failure(err)
	}
	resp := success(report, err)
	if err != nil && report.TotalRecords == 0 {
		resp.Success = false
	}
	return resp
}
