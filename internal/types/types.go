// Package types defines core data structures for the bt bug tracker.
package types

import (
	"fmt"
	"strings"
	"time"
)

// SourceSystem identifies the external system a record was ingested from
type SourceSystem string

// Source system constants
const (
	SourceSlack    SourceSystem = "slack"
	SourceZendesk  SourceSystem = "zendesk"
	SourceShortcut SourceSystem = "shortcut"
)

// AllSources lists every supported source system in display order
var AllSources = []SourceSystem{SourceSlack, SourceZendesk, SourceShortcut}

// IsValid checks if the source system is supported
func (s SourceSystem) IsValid() bool {
	switch s {
	case SourceSlack, SourceZendesk, SourceShortcut:
		return true
	}
	return false
}

// State is the normalized lifecycle state of a record.
// Besides the closed set below, a state may be a literal "unknown(<id>)" placeholder
// carrying the unrecognized native identifier.
type State string

// State constants
const (
	StateOpen       State = "open"
	StateInProgress State = "in_progress"
	StatePending    State = "pending"
	StateBlocked    State = "blocked"
	StateClosed     State = "closed"
	StateUnknown    State = "unknown"
)

// AllStates lists the closed set of normalized states
var AllStates = []State{StateOpen, StateInProgress, StatePending, StateBlocked, StateClosed, StateUnknown}

// UnknownState builds the placeholder state for an unrecognized native identifier
func UnknownState(native string) State {
	return State(fmt.Sprintf("unknown(%s)", native))
}

// IsUnknown reports whether s is StateUnknown or an unknown(<id>) placeholder
func (s State) IsUnknown() bool {
	return s == StateUnknown || strings.HasPrefix(string(s), "unknown(")
}

// Priority constants. Priorities are free-form; these are the recognized values.
const (
	PriorityCritical = "Critical"
	PriorityUrgent   = "Urgent"
	PriorityHigh     = "High"
	PriorityMedium   = "Medium"
	PriorityNormal   = "Normal"
	PriorityLow      = "Low"
	PriorityUnknown  = "Unknown"
)

// KnownPriorities lists the recognized priorities in descending severity
var KnownPriorities = []string{
	PriorityCritical, PriorityUrgent, PriorityHigh, PriorityMedium, PriorityNormal, PriorityLow, PriorityUnknown,
}

// BugRecord is one ingested item from one source system.
// (TicketID, SortKey) is the primary key; SortKey never changes once created.
type BugRecord struct {
	TicketID       string       `json:"ticket_id"`
	SourceSystem   SourceSystem `json:"source_system"`
	SourceRecordID string       `json:"source_record_id"`
	SortKey        string       `json:"sort_key"`

	Priority string `json:"priority"`
	State    State  `json:"state"`
	Status   string `json:"status,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Text     string `json:"text,omitempty"`
	Assignee string `json:"assignee,omitempty"`
	Channel  string `json:"channel,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// SourceUpdatedAt is kept verbatim as reported by the source; it may be malformed.
	SourceUpdatedAt string    `json:"source_updated_at,omitempty"`
	SyncedAt        time.Time `json:"synced_at"`

	LinkedFrom string `json:"linked_from,omitempty"`
	Stale      bool   `json:"stale,omitempty"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

// MakeSortKey builds the immutable sort key "<source>#<recordID>"
func MakeSortKey(source SourceSystem, recordID string) string {
	return string(source) + "#" + recordID
}

// SplitSortKey is the inverse of MakeSortKey
func SplitSortKey(sortKey string) (SourceSystem, string, bool) {
	source, recordID, ok := strings.Cut(sortKey, "#")
	if !ok || source == "" || recordID == "" {
		return "", "", false
	}
	return SourceSystem(source), recordID, true
}

// Validate checks if the record has valid field values
func (r *BugRecord) Validate() error {
	if r.TicketID == "" {
		return fmt.Errorf("%w: ticket_id is required", ErrMalformedInput)
	}
	if !r.SourceSystem.IsValid() {
		return fmt.Errorf("%w: invalid source system: %q", ErrMalformedInput, r.SourceSystem)
	}
	if r.SourceRecordID == "" {
		return fmt.Errorf("%w: source_record_id is required", ErrMalformedInput)
	}
	want := MakeSortKey(r.SourceSystem, r.SourceRecordID)
	if r.SortKey == "" {
		r.SortKey = want
	} else if r.SortKey != want {
		return fmt.Errorf("%w: sort key %q does not match %q", ErrMalformedInput, r.SortKey, want)
	}
	return ValidateExtra(r.Extra)
}

// Clone returns a deep copy of the record
func (r *BugRecord) Clone() *BugRecord {
	c := *r
	if r.Extra != nil {
		c.Extra = make(map[string]interface{}, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// reservedExtraKeys are attribute names owned by the fixed struct
var reservedExtraKeys = map[string]bool{
	"ticket_id": true, "sort_key": true, "source_system": true, "source_record_id": true,
	"priority": true, "state": true, "status": true, "subject": true, "text": true,
	"assignee": true, "channel": true, "created_at": true, "updated_at": true,
	"source_updated_at": true, "synced_at": true, "linked_from": true, "stale": true,
}

// ValidateExtra checks the passthrough attribute map. Keys must be non-empty and must not
// shadow fixed attributes; values must be scalars (string, bool, numbers) or nil.
func ValidateExtra(extra map[string]interface{}) error {
	for k, v := range extra {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty passthrough key", ErrMalformedInput)
		}
		if reservedExtraKeys[k] {
			return fmt.Errorf("%w: passthrough key %q shadows a fixed attribute", ErrMalformedInput, k)
		}
		switch v.(type) {
		case nil, string, bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("%w: passthrough value for %q has unsupported type %T", ErrMalformedInput, k, v)
		}
	}
	return nil
}

// TimeRange bounds a query on CreatedAt, inclusive on both ends.
// A zero Start or End leaves that side open.
type TimeRange struct {
	Start time.Time `json:"start_date,omitempty"`
	End   time.Time `json:"end_date,omitempty"`
}

// Contains reports whether t falls inside the range
func (tr *TimeRange) Contains(t time.Time) bool {
	if tr == nil {
		return true
	}
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && t.After(tr.End) {
		return false
	}
	return true
}

// Index names a secondary projection over BugRecord
type Index string

// Index constants
const (
	IndexPriority Index = "priority"
	IndexState    Index = "state"
	IndexSource   Index = "source"
)

// IsValid checks if the index name is supported
func (i Index) IsValid() bool {
	switch i {
	case IndexPriority, IndexState, IndexSource:
		return true
	}
	return false
}

// KeyOf returns the partition key of r in index i
func (i Index) KeyOf(r *BugRecord) string {
	switch i {
	case IndexPriority:
		return r.Priority
	case IndexState:
		return string(r.State)
	case IndexSource:
		return string(r.SourceSystem)
	}
	return ""
}

// OrderBy determines list ordering
type OrderBy string

// OrderBy constants
const (
	OrderNewest OrderBy = "newest"
	OrderOldest OrderBy = "oldest"
)
