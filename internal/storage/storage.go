// Package storage defines the interface for bug record storage backends.
package storage

import (
	"context"

	"github.com/castifi/bugtracker/internal/types"
)

// Storage is a single-table key-value store for bug records.
// The primary key is (TicketID, SortKey); three secondary projections
// (priority, state, source) are ordered by CreatedAt.
type Storage interface {
	// Upsert writes rec with ingestion semantics: last write wins, UpdatedAt and
	// SyncedAt are refreshed, CreatedAt is kept if supplied and defaults to now,
	// and the stale flag is cleared.
	Upsert(ctx context.Context, rec *types.BugRecord) error

	// Put writes rec exactly as given (no timestamp management).
	Put(ctx context.Context, rec *types.BugRecord) error

	// Get returns the record at (ticketID, sortKey), or nil if absent.
	Get(ctx context.Context, ticketID, sortKey string) (*types.BugRecord, error)

	// Delete removes (ticketID, sortKey). Deleting a missing key is not an error.
	Delete(ctx context.Context, ticketID, sortKey string) error

	// GetByTicket returns every record sharing ticketID.
	GetByTicket(ctx context.Context, ticketID string) ([]*types.BugRecord, error)

	// GetBySortKey returns every copy of one source record, across tickets.
	// More than one copy exists only between a link and the next reconcile.
	GetBySortKey(ctx context.Context, sortKey string) ([]*types.BugRecord, error)

	// ScanByIndex returns records whose index key equals key, optionally bounded
	// by CreatedAt. Results are unsorted; callers must re-sort.
	ScanByIndex(ctx context.Context, index types.Index, key string, tr *types.TimeRange) ([]*types.BugRecord, error)

	// FullScan returns up to limit records (limit <= 0 means all) in no particular order.
	FullScan(ctx context.Context, limit int) ([]*types.BugRecord, error)

	// IndexKeys returns the distinct partition keys present in an index.
	IndexKeys(ctx context.Context, index types.Index) ([]string, error)

	Close() error
}

// Tx is the subset of Storage available inside a transaction
type Tx interface {
	Get(ctx context.Context, ticketID, sortKey string) (*types.BugRecord, error)
	Put(ctx context.Context, rec *types.BugRecord) error
	Delete(ctx context.Context, ticketID, sortKey string) error
}

// Transactional is implemented by backends that support multi-item transactions.
// fn's writes are committed together if it returns nil and discarded otherwise.
type Transactional interface {
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
}
