package linker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

const (
	summaryPreviewLen  = 100
	unlinkedPreviewLen = 200
)

// SyntheticLink attaches a Slack report filed under a synthetic ticket to a
// Zendesk ticket. slackRef is either the synthetic ticket id ("SL-...") or the
// Slack message ts; zendeskID gets the ZD- prefix when missing.
func (l *Linker) SyntheticLink(ctx context.Context, slackRef, zendeskID string) (*Result, error) {
	slackRef = strings.TrimSpace(slackRef)
	zendeskID = strings.TrimSpace(zendeskID)
	if slackRef == "" || zendeskID == "" {
		return &Result{Message: "slack reference and zendesk id are required"},
			fmt.Errorf("%w: slack reference and zendesk id are required", types.ErrMalformedInput)
	}

	from, err := l.resolveSlackRef(ctx, slackRef)
	if err != nil {
		return &Result{Message: fmt.Sprintf("Error linking bugs: %v", err)}, err
	}
	return l.Link(ctx, from, normalize.ZendeskTicketID(zendeskID))
}

// resolveSlackRef maps a message ts to the synthetic ticket holding it
func (l *Linker) resolveSlackRef(ctx context.Context, ref string) (string, error) {
	if normalize.IsSynthetic(ref) {
		return ref, nil
	}
	slack, err := l.store.ScanByIndex(ctx, types.IndexSource, string(types.SourceSlack), nil)
	if err != nil {
		return "", fmt.Errorf("failed to scan slack records: %w", err)
	}
	for _, rec := range slack {
		if rec.SourceRecordID == ref && normalize.IsSynthetic(rec.TicketID) {
			return rec.TicketID, nil
		}
	}
	return normalize.PrefixSynthetic + ref, nil
}

// RecordSummary is one line of a ticket summary
type RecordSummary struct {
	SourceSystem types.SourceSystem `json:"source_system"`
	SortKey      string             `json:"sort_key"`
	CreatedAt    time.Time          `json:"created_at"`
	State        types.State        `json:"state"`
	Status       string             `json:"status,omitempty"`
	Content      string             `json:"content"`
	LinkedFrom   string             `json:"linked_from,omitempty"`
}

// TicketSummary lists every record filed under one ticket id
type TicketSummary struct {
	TicketID string          `json:"ticket_id"`
	Count    int             `json:"count"`
	Records  []RecordSummary `json:"records"`
}

// Summary previews each record under ticketID, oldest first
func (l *Linker) Summary(ctx context.Context, ticketID string) (*TicketSummary, error) {
	records, err := l.store.GetByTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ticketID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: ticket %s", types.ErrNotFound, ticketID)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	s := &TicketSummary{TicketID: ticketID, Count: len(records), Records: make([]RecordSummary, 0, len(records))}
	for _, rec := range records {
		s.Records = append(s.Records, RecordSummary{
			SourceSystem: rec.SourceSystem,
			SortKey:      rec.SortKey,
			CreatedAt:    rec.CreatedAt,
			State:        rec.State,
			Status:       rec.Status,
			Content:      Preview(recordContent(rec), summaryPreviewLen),
			LinkedFrom:   rec.LinkedFrom,
		})
	}
	return s, nil
}

func recordContent(rec *types.BugRecord) string {
	switch rec.SourceSystem {
	case types.SourceSlack:
		return rec.Text
	default:
		if rec.Subject != "" {
			return rec.Subject
		}
		return rec.Text
	}
}

// UnlinkedSlack is a Slack report still filed under a synthetic ticket
type UnlinkedSlack struct {
	TicketID  string    `json:"ticket_id"`
	SlackTS   string    `json:"slack_ts"`
	Channel   string    `json:"channel,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text"`
}

// ListUnlinkedSlack returns Slack records not yet linked to a Zendesk ticket,
// newest first
func (l *Linker) ListUnlinkedSlack(ctx context.Context) ([]UnlinkedSlack, error) {
	slack, err := l.store.ScanByIndex(ctx, types.IndexSource, string(types.SourceSlack), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to scan slack records: %w", err)
	}
	sort.SliceStable(slack, func(i, j int) bool {
		return slack[i].CreatedAt.After(slack[j].CreatedAt)
	})

	out := []UnlinkedSlack{}
	for _, rec := range slack {
		if !normalize.IsSynthetic(rec.TicketID) {
			continue
		}
		out = append(out, UnlinkedSlack{
			TicketID:  rec.TicketID,
			SlackTS:   rec.SourceRecordID,
			Channel:   rec.Channel,
			CreatedAt: rec.CreatedAt,
			Text:      Preview(rec.Text, unlinkedPreviewLen),
		})
	}
	return out, nil
}

// Preview truncates s to n runes, marking the cut with "..."
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
