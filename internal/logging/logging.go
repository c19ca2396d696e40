// Package logging provides the printf-style logger passed through bt's components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes timestamped lines. The zero value discards everything.
type Logger struct {
	logFunc func(string, ...interface{})
}

// Log formats and writes one line
func (l Logger) Log(format string, args ...interface{}) {
	if l.logFunc == nil {
		return
	}
	l.logFunc(format, args...)
}

// Errorf logs an error line and returns the formatted error
func (l Logger) Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	l.Log("ERROR: %v", err)
	return err
}

// New returns a Logger writing to w. Writes are serialized.
func New(w io.Writer) Logger {
	var mu sync.Mutex
	return Logger{
		logFunc: func(format string, args ...interface{}) {
			msg := fmt.Sprintf(format, args...)
			timestamp := time.Now().Format("2006-01-02 15:04:05")
			mu.Lock()
			defer mu.Unlock()
			_, _ = fmt.Fprintf(w, "[%s] %s\n", timestamp, msg)
		},
	}
}

// Func wraps an arbitrary printf-style function (tests use t.Logf)
func Func(f func(string, ...interface{})) Logger {
	return Logger{logFunc: f}
}

// Discard returns a Logger that drops everything
func Discard() Logger {
	return Logger{}
}

// Stderr returns a Logger writing to standard error
func Stderr() Logger {
	return New(os.Stderr)
}

// RotationConfig controls log file rotation
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotation returns the rotation settings used when none are configured
func DefaultRotation() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7, Compress: true}
}

// NewFile returns a Logger writing to a rotating file at path.
// The caller must Close the returned writer.
func NewFile(path string, rot RotationConfig) (io.WriteCloser, Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, Logger{}, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
	return w, New(w), nil
}
