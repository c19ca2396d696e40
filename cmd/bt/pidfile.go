package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const pidFileName = "bt.pid"

// acquirePIDFile records this process in path, refusing when the pid already
// there belongs to a live process. A leftover file from a crash is replaced.
func acquirePIDFile(path string) error {
	if data, err := os.ReadFile(path); err == nil { // #nosec G304 - workspace path
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err == nil && pid > 0 && pid != os.Getpid() && processAlive(pid) {
			return fmt.Errorf("bt serve is already running (pid %d)\nHint: stop it, or remove %s if that is not bt", pid, path)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}
