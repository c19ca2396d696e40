package rpc

import (
	"fmt"
	"strings"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

// Subscription types
const (
	SubscribeAll      = "all"
	SubscribePriority = "priority"
	SubscribeSource   = "source"
	SubscribeAssignee = "assignee"
)

// SubscriptionFilters lists the accepted values per subscription type
type SubscriptionFilters struct {
	Priorities []string `json:"priorities,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Assignees  []string `json:"assignees,omitempty"`
}

// Subscription selects the records a dashboard client cares about.
// A nil or empty subscription matches everything.
type Subscription struct {
	Type    string              `json:"type"`
	Filters SubscriptionFilters `json:"filters"`
}

// Validate rejects unknown subscription types
func (s *Subscription) Validate() error {
	if s == nil {
		return nil
	}
	switch s.Type {
	case "", SubscribeAll, SubscribePriority, SubscribeSource, SubscribeAssignee:
		return nil
	}
	return fmt.Errorf("%w: unknown subscription type %q", types.ErrMalformedInput, s.Type)
}

// Matches reports whether rec should be delivered to this subscriber.
// Priorities compare after normalization; sources and assignees ignore case.
func (s *Subscription) Matches(rec *types.BugRecord) bool {
	if s == nil {
		return true
	}
	switch s.Type {
	case "", SubscribeAll:
		return true
	case SubscribePriority:
		for _, p := range s.Filters.Priorities {
			if normalize.NormalizePriority(p) == rec.Priority {
				return true
			}
		}
	case SubscribeSource:
		for _, src := range s.Filters.Sources {
			if strings.EqualFold(src, string(rec.SourceSystem)) {
				return true
			}
		}
	case SubscribeAssignee:
		for _, a := range s.Filters.Assignees {
			if rec.Assignee != "" && strings.EqualFold(a, rec.Assignee) {
				return true
			}
		}
	}
	return false
}
