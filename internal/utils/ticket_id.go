package utils

import (
	"strconv"
	"strings"
)

// ExtractTicketPrefix extracts the prefix from a ticket ID like "ZD-123" -> "ZD"
// Only considers the first hyphen, so "SC-12-a" -> "SC"
func ExtractTicketPrefix(ticketID string) string {
	idx := strings.Index(ticketID, "-")
	if idx <= 0 {
		return ""
	}
	return ticketID[:idx]
}

// ExtractTicketNumber extracts the number from a ticket ID like "ZD-123" -> 123.
// Synthetic ids have no number and return 0.
func ExtractTicketNumber(ticketID string) int {
	idx := strings.LastIndex(ticketID, "-")
	if idx < 0 || idx == len(ticketID)-1 {
		return 0
	}
	num, err := strconv.Atoi(ticketID[idx+1:])
	if err != nil || num < 0 {
		return 0
	}
	return num
}
