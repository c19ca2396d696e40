package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/castifi/bugtracker/internal/types"
)

// timestampLayouts are tried in order. Naive layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 variants the sources emit
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", types.ErrMalformedInput)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", types.ErrMalformedInput, s)
}

// ParseSlackTS converts a Slack message timestamp ("1700000000.123456") to a time
func ParseSlackTS(ts string) (time.Time, error) {
	secStr, fracStr, _ := strings.Cut(strings.TrimSpace(ts), ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil || sec < 0 {
		return time.Time{}, fmt.Errorf("%w: bad slack ts %q", types.ErrMalformedInput, ts)
	}
	var nsec int64
	if fracStr != "" {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		fracStr += strings.Repeat("0", 9-len(fracStr))
		if nsec, err = strconv.ParseInt(fracStr, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("%w: bad slack ts %q", types.ErrMalformedInput, ts)
		}
	}
	return time.Unix(sec, nsec).UTC(), nil
}
