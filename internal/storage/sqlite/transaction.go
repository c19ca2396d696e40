package sqlite

import (
	"context"
	"fmt"

	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// sqliteTx routes reads and writes through the connection holding the transaction
type sqliteTx struct {
	q queryer
}

func (tx *sqliteTx) Get(ctx context.Context, ticketID, sortKey string) (*types.BugRecord, error) {
	return getRecord(ctx, tx.q, ticketID, sortKey)
}

func (tx *sqliteTx) Put(ctx context.Context, rec *types.BugRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return putRecord(ctx, tx.q, rec)
}

func (tx *sqliteTx) Delete(ctx context.Context, ticketID, sortKey string) error {
	return deleteRecord(ctx, tx.q, ticketID, sortKey)
}

// RunInTransaction executes fn inside a BEGIN IMMEDIATE transaction.
// fn's writes commit together if it returns nil and roll back otherwise.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Acquire a dedicated connection: BEGIN/COMMIT must run on the same one,
	// and database/sql's pool would otherwise hand out different connections.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("failed to acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	// IMMEDIATE takes the write lock up front so two linkers cannot interleave.
	// database/sql's BeginTx has no way to request the mode, hence raw Exec.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return wrapDBError("failed to begin immediate transaction", err)
	}

	// Use context.Background() for ROLLBACK so cleanup happens even if ctx is canceled
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&sqliteTx{q: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("failed to commit transaction", err)
	}
	committed = true
	return nil
}
