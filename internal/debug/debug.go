// Package debug prints tracing output when BT_DEBUG is set.
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("BT_DEBUG") != ""

// Enabled reports whether debug output is on
func Enabled() bool {
	return enabled
}

// SetEnabled turns debug output on or off (the --verbose flag)
func SetEnabled(on bool) {
	enabled = on
}

// Logf prints to stderr when debugging is enabled
func Logf(format string, args ...interface{}) {
	if enabled {
		fmt.Fprintf(os.Stderr, "[debug] "+format+"\n", args...)
	}
}
