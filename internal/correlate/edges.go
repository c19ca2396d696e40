// Package correlate infers relationships between records from different
// sources using text heuristics, and derives resolution statistics and a
// flow graph from them.
//
// No key is shared across Slack, Zendesk and Shortcut, so edges are found by
// scanning text for Zendesk ticket numbers. Every Zendesk id is checked against
// every Shortcut record (O(Z×S)); this is fine at per-cycle batch sizes. An
// index of extracted ticket tokens would be needed at larger scale.
package correlate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

// EdgeType classifies how two records were related
type EdgeType string

// Edge types
const (
	// Zendesk ticket referenced by a Shortcut story
	EdgeDirectReference EdgeType = "direct_reference"
	// Slack report referencing a Zendesk ticket
	EdgeEscalation EdgeType = "escalation"
	// Slack report reaching a Shortcut story through a Zendesk id
	EdgeChainedReference EdgeType = "chained_reference"
)

// RecordRef identifies one end of an edge
type RecordRef struct {
	TicketID     string             `json:"ticket_id"`
	SortKey      string             `json:"sort_key"`
	SourceSystem types.SourceSystem `json:"source_system"`
}

func refOf(r *types.BugRecord) RecordRef {
	return RecordRef{TicketID: r.TicketID, SortKey: r.SortKey, SourceSystem: r.SourceSystem}
}

func (r RecordRef) key() string { return r.TicketID + "/" + r.SortKey }

// Edge is one inferred relationship. ResolutionHours is the time from the
// origin's creation to the destination's last source-side update; it is nil
// when that update time is missing, malformed or earlier than the origin.
type Edge struct {
	Type            EdgeType  `json:"type"`
	From            RecordRef `json:"from"`
	To              RecordRef `json:"to"`
	Via             string    `json:"via,omitempty"`
	ResolutionHours *float64  `json:"resolution_hours,omitempty"`

	from *types.BugRecord
	to   *types.BugRecord
}

// slackRefRe finds the Zendesk ids a Slack report mentions
var slackRefRe = regexp.MustCompile(`(?i)(?:zendesk ticket:\s*#?|zd-)(\d+)`)

// shortcutText is a Shortcut record with its lowered searchable text
type shortcutText struct {
	rec *types.BugRecord
	hay string
}

// FindEdges returns every edge among recs, ordered by type, origin and
// destination. A pair of records yields at most one edge of each type no
// matter how often the reference occurs.
func FindEdges(recs []*types.BugRecord) []Edge {
	var zendesk, slack []*types.BugRecord
	var shortcut []shortcutText
	zendeskByID := make(map[string][]*types.BugRecord)

	for _, r := range recs {
		switch r.SourceSystem {
		case types.SourceZendesk:
			zendesk = append(zendesk, r)
			zendeskByID[r.SourceRecordID] = append(zendeskByID[r.SourceRecordID], r)
		case types.SourceShortcut:
			shortcut = append(shortcut, shortcutText{rec: r, hay: strings.ToLower(r.Subject + " " + r.Text)})
		case types.SourceSlack:
			slack = append(slack, r)
		}
	}

	seen := make(map[string]bool)
	var edges []Edge
	add := func(typ EdgeType, from, to *types.BugRecord, via string) {
		e := Edge{Type: typ, From: refOf(from), To: refOf(to), Via: via, from: from, to: to}
		k := string(typ) + "|" + e.From.key() + "|" + e.To.key()
		if seen[k] {
			return
		}
		seen[k] = true
		e.ResolutionHours = ResolutionHours(from, to)
		edges = append(edges, e)
	}

	for _, z := range zendesk {
		for _, s := range shortcut {
			if references(s.hay, z.SourceRecordID) {
				add(EdgeDirectReference, z, s.rec, "")
			}
		}
	}

	for _, sl := range slack {
		for _, id := range slackReferences(sl.Text) {
			for _, z := range zendeskByID[id] {
				add(EdgeEscalation, sl, z, "")
			}
			for _, s := range shortcut {
				if references(s.hay, id) {
					add(EdgeChainedReference, sl, s.rec, normalize.ZendeskTicketID(id))
				}
			}
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.From.key() != b.From.key() {
			return a.From.key() < b.From.key()
		}
		return a.To.key() < b.To.key()
	})
	return edges
}

// slackReferences returns the distinct Zendesk ids mentioned in text
func slackReferences(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range slackRefRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// references reports whether lowered text mentions Zendesk id, bare or as
// "zd-<id>". Matching is plain substring, so id 42 also matches "1420".
func references(hay, id string) bool {
	if id == "" {
		return false
	}
	return strings.Contains(hay, id) || strings.Contains(hay, "zd-"+id)
}
