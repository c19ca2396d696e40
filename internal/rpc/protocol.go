// Package rpc exposes the query, link and maintenance operations over HTTP.
//
// Every call is a POST of a Request envelope to /rpc and always answers 200
// with a Response envelope; failures travel in Response.Error, never as
// transport errors.
package rpc

import (
	"encoding/json"
	"time"

	"github.com/castifi/bugtracker/internal/types"
)

// Operation constants for all bt operations
const (
	OpPing   = "ping"
	OpHealth = "health"

	OpByTicketID    = "by_ticket_id"
	OpByPriority    = "by_priority"
	OpByState       = "by_state"
	OpBySource      = "by_source"
	OpSummary       = "summary"
	OpTimeSeries    = "time_series"
	OpList          = "list"
	OpFlowAnalytics = "flow_analytics"

	OpLink          = "link"
	OpSyntheticLink = "synthetic_link"
	OpTicketSummary = "ticket_summary"
	OpUnlinkedSlack = "unlinked_slack"
	OpReconcile     = "reconcile"
	OpCleanupSlack  = "cleanup_slack"
	OpStale         = "stale"
	OpIngest        = "ingest"
)

// RequestIDHeader carries the request id on both request and response
const RequestIDHeader = "X-Request-Id"

// Request represents an RPC request from client to server
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"` // Client version for compatibility checks
}

// Response represents an RPC response from server to client
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// RangeArgs bounds a query on CreatedAt. Dates are RFC3339 or YYYY-MM-DD.
type RangeArgs struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// TicketArgs names one ticket; partial ids are resolved
type TicketArgs struct {
	TicketID string `json:"ticket_id"`
}

// PriorityArgs represents arguments for the by_priority operation
type PriorityArgs struct {
	Priority string `json:"priority"`
	RangeArgs
}

// StateArgs represents arguments for the by_state operation
type StateArgs struct {
	State string `json:"state"`
	RangeArgs
}

// SourceArgs represents arguments for the by_source operation
type SourceArgs struct {
	SourceSystem string `json:"source_system"`
	RangeArgs
}

// SummaryArgs represents arguments for the summary operation
type SummaryArgs struct {
	SourceSystem string `json:"source_system,omitempty"`
	RangeArgs
}

// TimeSeriesArgs represents arguments for the time_series operation
type TimeSeriesArgs struct {
	Days         int    `json:"days,omitempty"`
	SourceSystem string `json:"source_system,omitempty"`
}

// ListArgs represents arguments for the list operation.
// Filter narrows the page after ordering and before the limit.
type ListArgs struct {
	Limit  int           `json:"limit,omitempty"`
	Order  string        `json:"order,omitempty"`
	Filter *Subscription `json:"filter,omitempty"`
}

// LinkArgs represents arguments for the link operation
type LinkArgs struct {
	OldTicketID string `json:"old_ticket_id"`
	NewTicketID string `json:"new_ticket_id"`
}

// SyntheticLinkArgs represents arguments for the synthetic_link operation.
// SlackRef is a Slack message ts or an SL- ticket id.
type SyntheticLinkArgs struct {
	SlackRef  string `json:"slack_ref"`
	ZendeskID string `json:"zendesk_id"`
}

// DryRunArgs is shared by the maintenance operations
type DryRunArgs struct {
	DryRun bool `json:"dry_run,omitempty"`
}

// CleanupArgs represents arguments for the cleanup_slack operation
type CleanupArgs struct {
	Marker string `json:"marker,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// StaleArgs represents arguments for the stale operation
type StaleArgs struct {
	Window string `json:"window,omitempty"` // Go duration, default 24h
	Mark   bool   `json:"mark,omitempty"`
}

// IngestArgs represents arguments for the ingest operation
type IngestArgs struct {
	DryRun bool `json:"dry_run,omitempty"`
}

// PingResponse is the response for a ping operation
type PingResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResponse is the response for a health check operation
type HealthResponse struct {
	Status         string  `json:"status"` // "healthy", "degraded", "unhealthy"
	Version        string  `json:"version"`
	ClientVersion  string  `json:"client_version,omitempty"`
	Compatible     bool    `json:"compatible"`
	Uptime         float64 `json:"uptime_seconds"`
	DBResponseTime float64 `json:"db_response_ms"`
	ActiveRequests int32   `json:"active_requests"`
	LastActivity   string  `json:"last_activity,omitempty"`
	MemoryAllocMB  uint64  `json:"memory_alloc_mb"`
	Error          string  `json:"error,omitempty"`
}

// LinkResponse is the link surface: {success, linked_count, message}
type LinkResponse struct {
	Success     bool   `json:"success"`
	LinkedCount int    `json:"linked_count"`
	FailedCount int    `json:"failed_count,omitempty"`
	Message     string `json:"message"`
}

// parseDate accepts RFC3339 or a bare YYYY-MM-DD. A bare end date covers
// the whole day.
func parseDate(s string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if end {
			return t.Add(24*time.Hour - time.Nanosecond), nil
		}
		return t, nil
	}
	return time.Time{}, types.ErrMalformedInput
}

// TimeRange converts the args, returning nil when both sides are open
func (a RangeArgs) TimeRange() (*types.TimeRange, error) {
	if a.StartDate == "" && a.EndDate == "" {
		return nil, nil
	}
	tr := &types.TimeRange{}
	var err error
	if a.StartDate != "" {
		if tr.Start, err = parseDate(a.StartDate, false); err != nil {
			return nil, rangeError("start_date", a.StartDate)
		}
	}
	if a.EndDate != "" {
		if tr.End, err = parseDate(a.EndDate, true); err != nil {
			return nil, rangeError("end_date", a.EndDate)
		}
	}
	if !tr.Start.IsZero() && !tr.End.IsZero() && tr.End.Before(tr.Start) {
		return nil, rangeError("end_date", a.EndDate)
	}
	return tr, nil
}
