// Package linker moves every record filed under one ticket id to another.
package linker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// State tracks one record through a link
type State string

// A record is Unlinked until its copy exists under the new ticket id
// (Duplicated), and Linked once the old key is gone. A record left
// Duplicated is repaired by Reconcile.
const (
	StateUnlinked   State = "unlinked"
	StateDuplicated State = "duplicated"
	StateLinked     State = "linked"
)

// RecordOutcome reports where one record ended up
type RecordOutcome struct {
	SortKey string `json:"sort_key"`
	State   State  `json:"state"`
	Error   string `json:"error,omitempty"`
}

// Result is the link surface returned to callers
type Result struct {
	Success     bool            `json:"success"`
	LinkedCount int             `json:"linked_count"`
	FailedCount int             `json:"failed_count,omitempty"`
	Message     string          `json:"message"`
	OldTicketID string          `json:"old_ticket_id,omitempty"`
	NewTicketID string          `json:"new_ticket_id,omitempty"`
	Records     []RecordOutcome `json:"records,omitempty"`
}

// Linker rekeys records directly in the store
type Linker struct {
	store   storage.Storage
	batcher *storage.Batcher
	log     logging.Logger
	now     func() time.Time
}

// New returns a Linker. A nil batcher uses the default chunking.
func New(store storage.Storage, batcher *storage.Batcher, log logging.Logger) *Linker {
	if batcher == nil {
		batcher = storage.NewBatcher(storage.MaxBatchSize, storage.DefaultBatchDelay)
	}
	return &Linker{store: store, batcher: batcher, log: log, now: time.Now}
}

// SetClock overrides the time source (tests)
func (l *Linker) SetClock(now func() time.Time) {
	l.now = now
}

// Link moves every record under oldTicketID to newTicketID, keeping sort keys.
//
// When the store is transactional each record's copy and delete commit
// together, so no record is ever observed Duplicated. Otherwise the two writes
// run back to back. A failing record is logged and skipped; moved records are
// not rolled back. Chunks are not safe to blindly retry against a store that
// another process is linking concurrently.
//
// Errors wrap ErrNotFound (nothing under oldTicketID), ErrMalformedInput,
// ErrExternal (nothing could be moved) or ErrPartialFailure (some moved).
// The Result is always non-nil.
func (l *Linker) Link(ctx context.Context, oldTicketID, newTicketID string) (*Result, error) {
	result := &Result{OldTicketID: oldTicketID, NewTicketID: newTicketID}

	if oldTicketID == "" || newTicketID == "" {
		result.Message = "both old and new ticket ids are required"
		return result, fmt.Errorf("%w: %s", types.ErrMalformedInput, result.Message)
	}
	if oldTicketID == newTicketID {
		result.Message = fmt.Sprintf("ticket %s cannot be linked to itself", oldTicketID)
		return result, fmt.Errorf("%w: %s", types.ErrMalformedInput, result.Message)
	}

	records, err := l.store.GetByTicket(ctx, oldTicketID)
	if err != nil {
		result.Message = fmt.Sprintf("Error linking bugs: %v", err)
		return result, fmt.Errorf("failed to read %s: %w", oldTicketID, err)
	}
	if len(records) == 0 {
		l.log.Log("No records found for ticket ID: %s", oldTicketID)
		result.Message = fmt.Sprintf("No records found for ticket ID: %s", oldTicketID)
		return result, fmt.Errorf("%w: ticket %s", types.ErrNotFound, oldTicketID)
	}

	l.log.Log("Linking %d records from %s to %s", len(records), oldTicketID, newTicketID)

	txs, transactional := l.store.(storage.Transactional)
	result.Records = make([]RecordOutcome, len(records))

	runErr := l.batcher.Run(ctx, len(records), func(start, end int) error {
		for i := start; i < end; i++ {
			rec := records[i]
			var outcome RecordOutcome
			if transactional {
				outcome = l.moveInTx(ctx, txs, rec, newTicketID)
			} else {
				outcome = l.move(ctx, rec, newTicketID)
			}
			result.Records[i] = outcome

			if outcome.State == StateLinked {
				result.LinkedCount++
				l.log.Log("Updated: %s", rec.SortKey)
			} else {
				result.FailedCount++
				l.log.Log("Error updating record %s (%s): %s", rec.SortKey, outcome.State, outcome.Error)
			}
		}
		return nil
	})
	if runErr != nil {
		// Canceled between chunks: the rest were never attempted
		for i := range result.Records {
			if result.Records[i].SortKey == "" {
				result.Records[i] = RecordOutcome{SortKey: records[i].SortKey, State: StateUnlinked, Error: runErr.Error()}
				result.FailedCount++
			}
		}
	}

	result.Success = result.LinkedCount > 0
	result.Message = fmt.Sprintf("Successfully linked %d records to %s", result.LinkedCount, newTicketID)
	l.log.Log("%s", result.Message)

	switch {
	case result.FailedCount == 0:
		return result, nil
	case result.LinkedCount == 0:
		result.Message = fmt.Sprintf("Failed to link any of %d records to %s", len(records), newTicketID)
		return result, fmt.Errorf("%w: no records moved from %s", types.ErrExternal, oldTicketID)
	default:
		result.Message += fmt.Sprintf(" (%d failed)", result.FailedCount)
		return result, fmt.Errorf("%w: %d of %d records moved", types.ErrPartialFailure, result.LinkedCount, len(records))
	}
}

// relabel builds the copy written under newTicketID
func (l *Linker) relabel(rec *types.BugRecord, newTicketID string) *types.BugRecord {
	moved := rec.Clone()
	moved.TicketID = newTicketID
	moved.LinkedFrom = rec.TicketID
	moved.UpdatedAt = l.now().UTC()
	return moved
}

func (l *Linker) moveInTx(ctx context.Context, txs storage.Transactional, rec *types.BugRecord, newTicketID string) RecordOutcome {
	outcome := RecordOutcome{SortKey: rec.SortKey, State: StateUnlinked}
	err := txs.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.Put(ctx, l.relabel(rec, newTicketID)); err != nil {
			return err
		}
		return tx.Delete(ctx, rec.TicketID, rec.SortKey)
	})
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.State = StateLinked
	return outcome
}

func (l *Linker) move(ctx context.Context, rec *types.BugRecord, newTicketID string) RecordOutcome {
	outcome := RecordOutcome{SortKey: rec.SortKey, State: StateUnlinked}
	if err := l.store.Put(ctx, l.relabel(rec, newTicketID)); err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.State = StateDuplicated
	if err := l.store.Delete(ctx, rec.TicketID, rec.SortKey); err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.State = StateLinked
	return outcome
}

// IsNotFound reports whether err came from linking a ticket with no records
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
