package normalize

import (
	"strings"

	"github.com/castifi/bugtracker/internal/types"
)

var knownPriorities = func() map[string]string {
	m := make(map[string]string, len(types.KnownPriorities))
	for _, p := range types.KnownPriorities {
		m[strings.ToLower(p)] = p
	}
	return m
}()

// NormalizePriority title-cases recognized priorities and passes anything else
// through unchanged. Empty input becomes Unknown.
// NormalizePriority(NormalizePriority(v)) == NormalizePriority(v) for every v.
func NormalizePriority(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return types.PriorityUnknown
	}
	if p, ok := knownPriorities[strings.ToLower(trimmed)]; ok {
		return p
	}
	return v
}

// IsKnownPriority reports whether v is one of the recognized priorities (any case)
func IsKnownPriority(v string) bool {
	_, ok := knownPriorities[strings.ToLower(strings.TrimSpace(v))]
	return ok
}
