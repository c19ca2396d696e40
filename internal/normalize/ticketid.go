// Package normalize maps source payloads from Slack, Zendesk and Shortcut into BugRecords.
package normalize

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/castifi/bugtracker/internal/types"
)

// Ticket id prefixes
const (
	PrefixZendesk   = "ZD-"
	PrefixShortcut  = "SC-"
	PrefixSynthetic = "SL-"
)

// syntheticHexLen is the number of hex characters kept from the digest (64 bits).
// With n synthetic ids the chance of any collision is about n^2 / 2^65,
// roughly 2.7e-8 at one million records. Collisions are not detected.
const syntheticHexLen = 16

var (
	explicitTicketRe = regexp.MustCompile(`(?i)ticketId[:=]\s*(\S+)`)
	zendeskRefRe     = regexp.MustCompile(`(?i)\bZD-(\d+)\b`)
	priorityRe       = regexp.MustCompile(`(?i)priority[:=]\s*(\S+)`)
	statusRe         = regexp.MustCompile(`(?i)status[:=]\s*(\S+)`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// ExtractTicketID finds an explicit ticket id in free text.
// "ticketId: X" wins over a bare "ZD-123" reference; the ZD form is upper-cased.
// explicit is false when nothing was found.
func ExtractTicketID(text string) (id string, explicit bool) {
	if m := explicitTicketRe.FindStringSubmatch(text); m != nil {
		id = strings.TrimRight(m[1], ".,;:)]}>\"'")
		if zm := zendeskRefRe.FindStringSubmatch(id); zm != nil && len(zm[0]) == len(id) {
			return PrefixZendesk + zm[1], true
		}
		if id != "" {
			return id, true
		}
	}
	if m := zendeskRefRe.FindStringSubmatch(text); m != nil {
		return PrefixZendesk + m[1], true
	}
	return "", false
}

// SyntheticTicketID derives a content-addressed ticket id for a record with no
// explicit reference. Equal (source, channel, text) always yields the same id;
// case and runs of whitespace in text are ignored.
func SyntheticTicketID(source types.SourceSystem, channel, text string) string {
	canonical := strings.ToLower(strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " ")))

	h := blake3.New()
	_, _ = h.Write([]byte(source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(channel))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(canonical))
	sum := h.Sum(nil)

	return PrefixSynthetic + hex.EncodeToString(sum)[:syntheticHexLen]
}

// IsSynthetic reports whether ticketID was generated by SyntheticTicketID
// or is a raw Slack-timestamp id awaiting a link
func IsSynthetic(ticketID string) bool {
	return strings.HasPrefix(ticketID, PrefixSynthetic)
}

// ZendeskTicketID returns "ZD-<id>", adding the prefix only when missing
func ZendeskTicketID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(strings.ToUpper(id), PrefixZendesk) {
		return PrefixZendesk + id[len(PrefixZendesk):]
	}
	return PrefixZendesk + id
}

// ExtractPriority returns the value of a "priority: X" token, or "" if absent
func ExtractPriority(text string) string {
	if m := priorityRe.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[1], ".,;:)]}>\"'")
	}
	return ""
}

// extractStatusToken returns the value of a "status: X" token, or "" if absent
func extractStatusToken(text string) string {
	if m := statusRe.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[1], ".,;:)]}>\"'")
	}
	return ""
}
