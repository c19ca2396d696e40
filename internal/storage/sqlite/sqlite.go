// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	// Import SQLite driver
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// Verify SQLiteStorage implements the storage interfaces at compile time
var (
	_ storage.Storage       = (*SQLiteStorage)(nil)
	_ storage.Transactional = (*SQLiteStorage)(nil)
)

// timeLayout is fixed width so stored text sorts chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = `ticket_id, sort_key, source_system, source_record_id,
	priority, state, status, subject, text, assignee, channel,
	created_at, updated_at, source_updated_at, synced_at,
	linked_from, stale, extra`

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
	closed atomic.Bool // Tracks whether Close() has been called
}

// queryer is satisfied by *sql.DB and by the dedicated *sql.Conn used for transactions
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// setupWASMCache configures WASM compilation caching to reduce SQLite startup time.
// Returns the cache directory path (empty string if using in-memory cache).
//
// Cache behavior:
//   - Location: ~/.cache/bugtracker/wasm/ (platform-specific via os.UserCacheDir)
//   - Version management: wazero keys the cache by its own version
//   - Fallback: Uses in-memory cache if filesystem cache creation fails
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "bugtracker", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}

	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

// connString builds the driver URI for path
func connString(path string) (string, error) {
	switch {
	case path == ":memory:":
		// WAL mode doesn't work with shared in-memory databases, so use DELETE mode
		return "file::memory:?_pragma=journal_mode(DELETE)&_pragma=busy_timeout(30000)", nil
	case strings.HasPrefix(path, "file:"):
		if strings.Contains(path, "_pragma=busy_timeout") {
			return path, nil
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + "_pragma=busy_timeout(30000)", nil
	default:
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)", nil
	}
}

// New opens (creating if needed) the SQLite database at path
func New(path string) (*SQLiteStorage, error) {
	connStr, err := connString(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases are isolated per connection, so force a single one
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Verify schema compatibility after migrations, retrying migrations once
	if err := verifySchemaCompatibility(db); err != nil {
		if retryErr := RunMigrations(db); retryErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration retry failed after schema probe failure: %w (original: %v)", retryErr, err)
		}
		if err := verifySchemaCompatibility(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("schema probe failed after migration retry: %w. Database may be corrupted or from an incompatible version. Run 'bt doctor' to diagnose", err)
		}
	}

	absPath := path
	if !isInMemory {
		absPath, err = filepath.Abs(path)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: absPath,
		now:    time.Now,
	}, nil
}

// SetClock overrides the time source used for Upsert timestamps (tests)
func (s *SQLiteStorage) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteStorage) checkOpen() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: storage is closed", types.ErrExternal)
	}
	return nil
}

// wrapDBError marks driver failures as external so callers can tell them from bad input
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", types.ErrExternal, op, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// Upsert writes rec with ingestion semantics
func (s *SQLiteStorage) Upsert(ctx context.Context, rec *types.BugRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := storage.PrepareUpsert(rec, s.now()); err != nil {
		return err
	}
	return putRecord(ctx, s.db, rec)
}

// Put writes rec unchanged
func (s *SQLiteStorage) Put(ctx context.Context, rec *types.BugRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return putRecord(ctx, s.db, rec)
}

func putRecord(ctx context.Context, q queryer, rec *types.BugRecord) error {
	extra := "{}"
	if len(rec.Extra) > 0 {
		data, err := json.Marshal(rec.Extra)
		if err != nil {
			return fmt.Errorf("%w: failed to encode extra: %v", types.ErrMalformedInput, err)
		}
		extra = string(data)
	}
	stale := 0
	if rec.Stale {
		stale = 1
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO bug_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticket_id, sort_key) DO UPDATE SET
			source_system = excluded.source_system,
			source_record_id = excluded.source_record_id,
			priority = excluded.priority,
			state = excluded.state,
			status = excluded.status,
			subject = excluded.subject,
			text = excluded.text,
			assignee = excluded.assignee,
			channel = excluded.channel,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			source_updated_at = excluded.source_updated_at,
			synced_at = excluded.synced_at,
			linked_from = excluded.linked_from,
			stale = excluded.stale,
			extra = excluded.extra
	`,
		rec.TicketID, rec.SortKey, string(rec.SourceSystem), rec.SourceRecordID,
		rec.Priority, string(rec.State), rec.Status, rec.Subject, rec.Text, rec.Assignee, rec.Channel,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), rec.SourceUpdatedAt, formatTime(rec.SyncedAt),
		rec.LinkedFrom, stale, extra,
	)
	return wrapDBError("failed to write record", err)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.BugRecord, error) {
	var (
		rec                                   types.BugRecord
		source, state                         string
		createdAt, updatedAt, syncedAt, extra string
		stale                                 int
	)
	err := row.Scan(
		&rec.TicketID, &rec.SortKey, &source, &rec.SourceRecordID,
		&rec.Priority, &state, &rec.Status, &rec.Subject, &rec.Text, &rec.Assignee, &rec.Channel,
		&createdAt, &updatedAt, &rec.SourceUpdatedAt, &syncedAt,
		&rec.LinkedFrom, &stale, &extra,
	)
	if err != nil {
		return nil, err
	}
	rec.SourceSystem = types.SourceSystem(source)
	rec.State = types.State(state)
	rec.Stale = stale != 0

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("%w: created_at of %s/%s: %v", types.ErrMalformedInput, rec.TicketID, rec.SortKey, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("%w: updated_at of %s/%s: %v", types.ErrMalformedInput, rec.TicketID, rec.SortKey, err)
	}
	if rec.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("%w: synced_at of %s/%s: %v", types.ErrMalformedInput, rec.TicketID, rec.SortKey, err)
	}
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &rec.Extra); err != nil {
			return nil, fmt.Errorf("%w: extra of %s/%s: %v", types.ErrMalformedInput, rec.TicketID, rec.SortKey, err)
		}
	}
	return &rec, nil
}

func getRecord(ctx context.Context, q queryer, ticketID, sortKey string) (*types.BugRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM bug_records WHERE ticket_id = ? AND sort_key = ?`, ticketID, sortKey)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, types.ErrMalformedInput) {
			return nil, err
		}
		return nil, wrapDBError("failed to get record", err)
	}
	return rec, nil
}

func deleteRecord(ctx context.Context, q queryer, ticketID, sortKey string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM bug_records WHERE ticket_id = ? AND sort_key = ?`, ticketID, sortKey)
	return wrapDBError("failed to delete record", err)
}

// Get returns the record or nil
func (s *SQLiteStorage) Get(ctx context.Context, ticketID, sortKey string) (*types.BugRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return getRecord(ctx, s.db, ticketID, sortKey)
}

// Delete removes a record
func (s *SQLiteStorage) Delete(ctx context.Context, ticketID, sortKey string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return deleteRecord(ctx, s.db, ticketID, sortKey)
}

func (s *SQLiteStorage) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*types.BugRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("failed to query records", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.BugRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to read records", err)
	}
	return out, nil
}

// GetByTicket returns all records for a ticket, ordered by sort key
func (s *SQLiteStorage) GetByTicket(ctx context.Context, ticketID string) ([]*types.BugRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM bug_records WHERE ticket_id = ? ORDER BY sort_key`, ticketID)
}

// GetBySortKey returns every copy of a source record, ordered by ticket id
func (s *SQLiteStorage) GetBySortKey(ctx context.Context, sortKey string) ([]*types.BugRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM bug_records WHERE sort_key = ? ORDER BY ticket_id`, sortKey)
}

func indexColumn(index types.Index) (string, error) {
	switch index {
	case types.IndexPriority:
		return "priority", nil
	case types.IndexState:
		return "state", nil
	case types.IndexSource:
		return "source_system", nil
	}
	return "", fmt.Errorf("%w: unknown index %q", types.ErrMalformedInput, index)
}

// ScanByIndex reads one index partition, optionally bounded by created_at
func (s *SQLiteStorage) ScanByIndex(ctx context.Context, index types.Index, key string, tr *types.TimeRange) ([]*types.BugRecord, error) {
	col, err := indexColumn(index)
	if err != nil {
		return nil, err
	}

	whereClauses := []string{col + " = ?"}
	args := []interface{}{key}
	if tr != nil {
		if !tr.Start.IsZero() {
			whereClauses = append(whereClauses, "created_at >= ?")
			args = append(args, formatTime(tr.Start))
		}
		if !tr.End.IsZero() {
			whereClauses = append(whereClauses, "created_at <= ?")
			args = append(args, formatTime(tr.End))
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM bug_records WHERE %s`, recordColumns, strings.Join(whereClauses, " AND "))
	return s.queryRecords(ctx, query, args...)
}

// FullScan returns up to limit records
func (s *SQLiteStorage) FullScan(ctx context.Context, limit int) ([]*types.BugRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM bug_records`
	if limit > 0 {
		return s.queryRecords(ctx, query+` LIMIT ?`, limit)
	}
	return s.queryRecords(ctx, query)
}

// IndexKeys returns the distinct keys of an index, sorted
func (s *SQLiteStorage) IndexKeys(ctx context.Context, index types.Index) ([]string, error) {
	col, err := indexColumn(index)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT %s FROM bug_records ORDER BY %s`, col, col))
	if err != nil {
		return nil, wrapDBError("failed to list index keys", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapDBError("failed to scan index key", err)
		}
		keys = append(keys, k)
	}
	return keys, wrapDBError("failed to read index keys", rows.Err())
}

// SetMetadata sets a metadata value (internal state such as last sync times)
func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrapDBError("failed to set metadata", err)
}

// GetMetadata gets a metadata value, returning "" if unset
func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, wrapDBError("failed to get metadata", err)
}

// Count returns the number of stored records
func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bug_records`).Scan(&n)
	return n, wrapDBError("failed to count records", err)
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Path returns the absolute path to the database file
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// IsClosed returns true if Close() has been called
func (s *SQLiteStorage) IsClosed() bool {
	return s.closed.Load()
}

// CheckpointWAL flushes the write-ahead log into the main database file.
// bt serve calls it on shutdown so the file is self-contained.
func (s *SQLiteStorage) CheckpointWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return wrapDBError("failed to checkpoint WAL", err)
}
