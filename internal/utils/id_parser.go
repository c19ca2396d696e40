// Package utils provides ticket ID parsing and resolution.
package utils

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

var knownPrefixes = []string{normalize.PrefixZendesk, normalize.PrefixShortcut, normalize.PrefixSynthetic}

// ParseTicketID normalizes user input into ticket ID form.
// Known prefixes are upper-cased ("zd-12" -> "ZD-12") and bare numbers are
// read as Zendesk ids ("12" -> "ZD-12"). Anything else is returned trimmed.
func ParseTicketID(input string) string {
	input = strings.TrimSpace(input)
	for _, p := range knownPrefixes {
		if len(input) > len(p) && strings.EqualFold(input[:len(p)], p) {
			return p + input[len(p):]
		}
	}
	if isDigits(input) {
		return normalize.PrefixZendesk + input
	}
	return input
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ResolveTicketID resolves a possibly partial ticket ID to one that exists in store.
// Supports:
// - Full IDs: "ZD-123", "zd-123" → "ZD-123"
// - Bare numbers: "123" → "ZD-123", or "SC-123" when only the story exists
// - Partial IDs: "9f3a" → "SL-9f3a01c2d4e5b6a7" (if unique match)
//
// Returns an error wrapping ErrNotFound when nothing matches and
// ErrMalformedInput when the input is empty or ambiguous.
func ResolveTicketID(ctx context.Context, store storage.Storage, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("%w: empty ticket id", types.ErrMalformedInput)
	}

	candidates := []string{ParseTicketID(input)}
	if isDigits(input) {
		candidates = append(candidates, normalize.PrefixShortcut+input)
	}
	if candidates[0] != input {
		candidates = append(candidates, input)
	}
	for _, id := range candidates {
		recs, err := store.GetByTicket(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to look up %s: %w", id, err)
		}
		if len(recs) > 0 {
			return id, nil
		}
	}

	all, err := store.FullScan(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to search tickets: %w", err)
	}

	needle := strings.ToLower(input)
	seen := make(map[string]bool)
	var matches []string
	for _, rec := range all {
		if seen[rec.TicketID] {
			continue
		}
		seen[rec.TicketID] = true
		if strings.Contains(strings.ToLower(rec.TicketID), needle) {
			matches = append(matches, rec.TicketID)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no ticket found matching %q", types.ErrNotFound, input)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: ambiguous ID %q matches %d tickets: %v\nUse more characters to disambiguate",
			types.ErrMalformedInput, input, len(matches), matches)
	}
}

// ResolveTicketIDs resolves several inputs, stopping at the first failure
func ResolveTicketIDs(ctx context.Context, store storage.Storage, inputs []string) ([]string, error) {
	var resolved []string
	for _, input := range inputs {
		id, err := ResolveTicketID(ctx, store, input)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, id)
	}
	return resolved, nil
}
