package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/castifi/bugtracker/internal/types"
)

// Normalizer turns source payloads into BugRecords using a state vocabulary
type Normalizer struct {
	vocab *Vocabulary
}

// New returns a Normalizer; a nil vocabulary means the built-in tables
func New(vocab *Vocabulary) *Normalizer {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Normalizer{vocab: vocab}
}

// Vocabulary returns the lookup tables in use
func (n *Normalizer) Vocabulary() *Vocabulary {
	return n.vocab
}

// FromSlack maps a Slack message. The ticket id comes from an explicit
// reference in the text, or is synthesized from the content.
func (n *Normalizer) FromSlack(msg SlackMessage) (*types.BugRecord, error) {
	if msg.TS == "" {
		return nil, fmt.Errorf("%w: slack message without ts", types.ErrMalformedInput)
	}
	created, err := ParseSlackTS(msg.TS)
	if err != nil {
		return nil, err
	}

	ticketID, ok := ExtractTicketID(msg.Text)
	if !ok {
		ticketID = SyntheticTicketID(types.SourceSlack, msg.Channel, msg.Text)
	}
	status := extractStatusToken(msg.Text)

	rec := &types.BugRecord{
		TicketID:       ticketID,
		SourceSystem:   types.SourceSlack,
		SourceRecordID: msg.TS,
		Priority:       NormalizePriority(ExtractPriority(msg.Text)),
		State:          n.vocab.NormalizeState(types.SourceSlack, status),
		Status:         status,
		Text:           msg.Text,
		Channel:        msg.Channel,
		CreatedAt:      created,
	}
	if msg.User != "" {
		rec.Extra = map[string]interface{}{"author": msg.User}
	}
	return rec, rec.Validate()
}

// FromZendesk maps a Zendesk ticket to "ZD-<id>"
func (n *Normalizer) FromZendesk(t ZendeskTicket) (*types.BugRecord, error) {
	if t.ID <= 0 {
		return nil, fmt.Errorf("%w: zendesk ticket without id", types.ErrMalformedInput)
	}
	created, err := optionalTimestamp(t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("zendesk ticket %d: %w", t.ID, err)
	}

	status := t.Status
	if status == "" {
		status = "open"
	}

	rec := &types.BugRecord{
		TicketID:        PrefixZendesk + formatID(t.ID),
		SourceSystem:    types.SourceZendesk,
		SourceRecordID:  formatID(t.ID),
		Priority:        NormalizePriority(t.Priority),
		State:           n.vocab.NormalizeState(types.SourceZendesk, status),
		Status:          status,
		Subject:         t.Subject,
		Text:            t.Description,
		Assignee:        formatOptionalID(t.AssigneeID),
		CreatedAt:       created,
		SourceUpdatedAt: t.UpdatedAt,
	}
	extra := map[string]interface{}{}
	if t.RequesterID != nil {
		extra["requester"] = formatID(*t.RequesterID)
	}
	if len(t.Tags) > 0 {
		extra["tags"] = strings.Join(t.Tags, ",")
	}
	if len(extra) > 0 {
		rec.Extra = extra
	}
	return rec, rec.Validate()
}

// FromShortcut maps a Shortcut story. A story whose name mentions ZD-<n> joins
// that Zendesk ticket; otherwise it gets its own "SC-<id>".
func (n *Normalizer) FromShortcut(s ShortcutStory) (*types.BugRecord, error) {
	if s.ID <= 0 {
		return nil, fmt.Errorf("%w: shortcut story without id", types.ErrMalformedInput)
	}
	created, err := optionalTimestamp(s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("shortcut story %d: %w", s.ID, err)
	}

	ticketID := PrefixShortcut + formatID(s.ID)
	if m := zendeskRefRe.FindStringSubmatch(s.Name); m != nil {
		ticketID = PrefixZendesk + m[1]
	}

	workflowID := string(s.WorkflowStateID)
	state := n.vocab.NormalizeState(types.SourceShortcut, workflowID)
	if s.Completed {
		state = types.StateClosed
	}

	rec := &types.BugRecord{
		TicketID:        ticketID,
		SourceSystem:    types.SourceShortcut,
		SourceRecordID:  formatID(s.ID),
		Priority:        NormalizePriority(ExtractPriority(s.Name + " " + s.Description)),
		State:           state,
		Status:          workflowID,
		Subject:         s.Name,
		Text:            s.Description,
		CreatedAt:       created,
		SourceUpdatedAt: s.UpdatedAt,
		Extra: map[string]interface{}{
			"archived":  s.Archived,
			"completed": s.Completed,
		},
	}
	if len(s.OwnerIDs) > 0 {
		rec.Assignee = s.OwnerIDs[0]
	}
	if name, ok := ShortcutWorkflowNames[workflowID]; ok {
		rec.Extra["workflow_state_name"] = name
	}
	return rec, rec.Validate()
}

// optionalTimestamp parses s, returning the zero time for an empty string so
// Upsert can default it
func optionalTimestamp(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return ParseTimestamp(s)
}
