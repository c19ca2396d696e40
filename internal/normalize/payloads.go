package normalize

import (
	"encoding/json"
	"strconv"
)

// SlackMessage is one message from conversations.history
type SlackMessage struct {
	TS      string `json:"ts"`
	User    string `json:"user,omitempty"`
	Text    string `json:"text"`
	Subtype string `json:"subtype,omitempty"`
	// Channel is not part of the message payload; the adapter fills it in
	Channel string `json:"-"`
}

// ZendeskTicket is one ticket from tickets.json
type ZendeskTicket struct {
	ID          int64    `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty"`
	RequesterID *int64   `json:"requester_id,omitempty"`
	AssigneeID  *int64   `json:"assignee_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// HasTag reports whether the ticket carries tag
func (t *ZendeskTicket) HasTag(tag string) bool {
	for _, x := range t.Tags {
		if x == tag {
			return true
		}
	}
	return false
}

// ShortcutStory is one story from the stories search endpoint
type ShortcutStory struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	StoryType       string     `json:"story_type,omitempty"`
	WorkflowStateID FlexibleID `json:"workflow_state_id"`
	OwnerIDs        []string   `json:"owner_ids,omitempty"`
	Completed       bool       `json:"completed"`
	Archived        bool       `json:"archived"`
	CreatedAt       string     `json:"created_at,omitempty"`
	UpdatedAt       string     `json:"updated_at,omitempty"`
}

// FlexibleID accepts a JSON number or string and keeps it as a string
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return formatID(*id)
}
