package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/castifi/bugtracker/internal/correlate"
	"github.com/castifi/bugtracker/internal/ingest"
	"github.com/castifi/bugtracker/internal/linker"
	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/stale"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

const (
	maxRequestBodySize = 1 << 20
	statusUnhealthy    = "unhealthy"
)

// Deps wires the engines a Server dispatches to. Ingest may be nil when no
// source credentials are configured.
type Deps struct {
	Store     storage.Storage
	Query     *query.Engine
	Correlate *correlate.Engine
	Linker    *linker.Linker
	Stale     *stale.Scanner
	Ingest    *ingest.Cycle
	Log       logging.Logger
}

// Server handles RPC requests
type Server struct {
	deps Deps

	startTime        time.Time
	lastActivityTime atomic.Value // time.Time
	activeRequests   int32

	// ingestMu keeps a scheduled cycle and an ingest request from overlapping
	ingestMu sync.Mutex
}

// NewServer creates a new RPC server
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, startTime: time.Now()}
	s.lastActivityTime.Store(time.Time{})
	return s
}

// Handler returns the HTTP routes: POST /rpc for the envelope protocol and
// GET /health for load balancers.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Post("/rpc", s.handleRPC)
	r.Get("/health", s.handleHealthHTTP)
	return r
}

// requestID echoes the caller's request id or mints one
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req Request
	var resp Response
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp = failure(fmt.Errorf("%w: invalid request body: %v", types.ErrMalformedInput, err))
	} else {
		if req.RequestID == "" {
			req.RequestID = r.Header.Get(RequestIDHeader)
		}
		resp = s.HandleRequest(r.Context(), &req)
	}
	resp.RequestID = r.Header.Get(RequestIDHeader)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthHTTP(w http.ResponseWriter, r *http.Request) {
	resp := s.handleHealth(r.Context(), &Request{ClientVersion: r.URL.Query().Get("client_version")})
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleRequest dispatches one request. It never panics on bad input and
// always returns an envelope.
func (s *Server) HandleRequest(ctx context.Context, req *Request) Response {
	atomic.AddInt32(&s.activeRequests, 1)
	defer atomic.AddInt32(&s.activeRequests, -1)

	// Version checks are skipped for ping/health so old clients can diagnose
	if req.Operation != OpPing && req.Operation != OpHealth {
		if err := checkVersionCompatibility(req.ClientVersion); err != nil {
			return Response{Success: false, Error: err.Error()}
		}
	}

	s.lastActivityTime.Store(time.Now())

	var resp Response
	switch req.Operation {
	case OpPing:
		resp = s.handlePing(req)
	case OpHealth:
		resp = s.handleHealth(ctx, req)
	case OpByTicketID:
		resp = s.handleByTicketID(ctx, req)
	case OpByPriority:
		resp = s.handleByPriority(ctx, req)
	case OpByState:
		resp = s.handleByState(ctx, req)
	case OpBySource:
		resp = s.handleBySource(ctx, req)
	case OpSummary:
		resp = s.handleSummary(ctx, req)
	case OpTimeSeries:
		resp = s.handleTimeSeries(ctx, req)
	case OpList:
		resp = s.handleList(ctx, req)
	case OpFlowAnalytics:
		resp = s.handleFlowAnalytics(ctx, req)
	case OpLink:
		resp = s.handleLink(ctx, req)
	case OpSyntheticLink:
		resp = s.handleSyntheticLink(ctx, req)
	case OpTicketSummary:
		resp = s.handleTicketSummary(ctx, req)
	case OpUnlinkedSlack:
		resp = s.handleUnlinkedSlack(ctx, req)
	case OpReconcile:
		resp = s.handleReconcile(ctx, req)
	case OpCleanupSlack:
		resp = s.handleCleanupSlack(ctx, req)
	case OpStale:
		resp = s.handleStale(ctx, req)
	case OpIngest:
		resp = s.handleIngest(ctx, req)
	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown operation: %s", req.Operation)}
	}

	if !resp.Success {
		s.deps.Log.Log("Request %s %s failed: %s", req.RequestID, req.Operation, resp.Error)
	}
	return resp
}

// Ingest runs one ingestion cycle unless another is already running.
// A dry run fetches and normalizes without writing.
func (s *Server) Ingest(ctx context.Context, dryRun bool) (*ingest.Report, error) {
	if s.deps.Ingest == nil {
		return nil, fmt.Errorf("%w: no sources configured", types.ErrMalformedInput)
	}
	if !s.ingestMu.TryLock() {
		return nil, errors.New("ingestion already in progress")
	}
	defer s.ingestMu.Unlock()
	cycle := *s.deps.Ingest
	cycle.DryRun = cycle.DryRun || dryRun
	return cycle.Run(ctx)
}

// Helpers

func decodeArgs(req *Request, v interface{}) error {
	if len(req.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("%w: invalid %s args: %v", types.ErrMalformedInput, req.Operation, err)
	}
	return nil
}

func rangeError(field, value string) error {
	return fmt.Errorf("%w: invalid %s %q (use YYYY-MM-DD or RFC3339)", types.ErrMalformedInput, field, value)
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// success marshals data; a partial result may still carry an error
func success(data interface{}, err error) Response {
	raw, mErr := json.Marshal(data)
	if mErr != nil {
		return failure(fmt.Errorf("failed to encode response: %w", mErr))
	}
	resp := Response{Success: true, Data: raw}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handlePing(_ *Request) Response {
	return success(PingResponse{Message: "pong", Version: ServerVersion}, nil)
}

func (s *Server) handleHealth(ctx context.Context, req *Request) Response {
	start := time.Now()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	healthCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	status := "healthy"
	dbError := ""
	_, pingErr := s.deps.Store.FullScan(healthCtx, 1)
	dbResponseMs := time.Since(start).Seconds() * 1000
	if pingErr != nil {
		status = statusUnhealthy
		dbError = pingErr.Error()
	} else if dbResponseMs > 500 {
		status = "degraded"
	}

	compatible := true
	if req.ClientVersion != "" {
		if err := checkVersionCompatibility(req.ClientVersion); err != nil {
			compatible = false
		}
	}

	health := HealthResponse{
		Status:         status,
		Version:        ServerVersion,
		ClientVersion:  req.ClientVersion,
		Compatible:     compatible,
		Uptime:         time.Since(s.startTime).Seconds(),
		DBResponseTime: dbResponseMs,
		ActiveRequests: atomic.LoadInt32(&s.activeRequests),
		MemoryAllocMB:  m.Alloc / 1024 / 1024,
		Error:          dbError,
	}
	if last := s.lastActivityTime.Load().(time.Time); !last.IsZero() {
		health.LastActivity = last.UTC().Format(time.RFC3339)
	}

	data, _ := json.Marshal(health)
	return Response{
		Success: status != statusUnhealthy,
		Data:    data,
		Error:   dbError,
	}
}
