// Package bugtracker provides a minimal public API for programs that read or
// write a bt store directly instead of going through the bt CLI or server.
//
// Most integrations should call `bt --json` or a running `bt serve`. This
// package exports only the storage layer, the record types and the query
// engine.
package bugtracker

import (
	"context"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/storage/memory"
	"github.com/castifi/bugtracker/internal/storage/sqlite"
	"github.com/castifi/bugtracker/internal/types"
	"github.com/castifi/bugtracker/internal/workspace"
)

// Storage is the interface for bt storage operations
type Storage = storage.Storage

// NewSQLiteStorage opens (creating if needed) the SQLite store at dbPath
func NewSQLiteStorage(dbPath string) (Storage, error) {
	return sqlite.New(dbPath)
}

// NewMemoryStorage returns an empty in-memory store
func NewMemoryStorage() Storage {
	return memory.New()
}

// FindDatabasePath finds the bt database in the current directory tree
func FindDatabasePath() string {
	return workspace.FindDatabasePath()
}

// FindWorkspaceDir finds the .bugtracker/ directory in the current directory
// tree. Returns empty string if not found.
func FindWorkspaceDir() string {
	return workspace.FindWorkspaceDir()
}

// FindExportPath finds the JSONL export next to a database path
func FindExportPath(dbPath string) string {
	return workspace.FindExportPath(dbPath)
}

// DatabaseInfo describes one discovered workspace database
type DatabaseInfo = workspace.DatabaseInfo

// FindAllDatabases lists workspace databases from the current directory up
func FindAllDatabases(ctx context.Context) []DatabaseInfo {
	return workspace.FindAllDatabases(ctx)
}

// QueryEngine answers record queries over a Storage
type QueryEngine = query.Engine

// QueryResult is the result of every QueryEngine operation
type QueryResult = query.Result

// NewQueryEngine returns a query engine that does not log
func NewQueryEngine(s Storage) *QueryEngine {
	return query.New(s, logging.Discard())
}

// Core types from internal/types
type (
	BugRecord    = types.BugRecord
	SourceSystem = types.SourceSystem
	State        = types.State
	TimeRange    = types.TimeRange
	OrderBy      = types.OrderBy
)

// SourceSystem constants
const (
	SourceSlack    = types.SourceSlack
	SourceZendesk  = types.SourceZendesk
	SourceShortcut = types.SourceShortcut
)

// State constants
const (
	StateOpen       = types.StateOpen
	StateInProgress = types.StateInProgress
	StatePending    = types.StatePending
	StateBlocked    = types.StateBlocked
	StateClosed     = types.StateClosed
	StateUnknown    = types.StateUnknown
)

// Priority constants
const (
	PriorityCritical = types.PriorityCritical
	PriorityUrgent   = types.PriorityUrgent
	PriorityHigh     = types.PriorityHigh
	PriorityMedium   = types.PriorityMedium
	PriorityNormal   = types.PriorityNormal
	PriorityLow      = types.PriorityLow
	PriorityUnknown  = types.PriorityUnknown
)

// OrderBy constants
const (
	OrderNewest = types.OrderNewest
	OrderOldest = types.OrderOldest
)
