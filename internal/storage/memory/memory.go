// Package memory implements the storage interface using in-memory data structures.
// It backs tests and --no-db dry runs; nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// Verify MemoryStorage implements the storage interfaces at compile time
var (
	_ storage.Storage       = (*MemoryStorage)(nil)
	_ storage.Transactional = (*MemoryStorage)(nil)
)

// MemoryStorage implements the Storage interface using in-memory maps
type MemoryStorage struct {
	mu sync.RWMutex // Protects records and holders

	records map[string]map[string]*types.BugRecord // TicketID -> SortKey -> record
	holders map[string]map[string]bool             // SortKey -> TicketIDs holding a copy

	now    func() time.Time
	closed bool
}

// New creates a new in-memory storage backend
func New() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]map[string]*types.BugRecord),
		holders: make(map[string]map[string]bool),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for Upsert timestamps (tests)
func (m *MemoryStorage) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// LoadFromRecords populates the storage from a slice of records as-is
func (m *MemoryStorage) LoadFromRecords(recs []*types.BugRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range recs {
		if rec == nil {
			continue
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		m.putLocked(rec.Clone())
	}
	return nil
}

func (m *MemoryStorage) putLocked(rec *types.BugRecord) {
	byKey, ok := m.records[rec.TicketID]
	if !ok {
		byKey = make(map[string]*types.BugRecord)
		m.records[rec.TicketID] = byKey
	}
	byKey[rec.SortKey] = rec

	tickets, ok := m.holders[rec.SortKey]
	if !ok {
		tickets = make(map[string]bool)
		m.holders[rec.SortKey] = tickets
	}
	tickets[rec.TicketID] = true
}

func (m *MemoryStorage) deleteLocked(ticketID, sortKey string) {
	byKey, ok := m.records[ticketID]
	if !ok {
		return
	}
	delete(byKey, sortKey)
	if len(byKey) == 0 {
		delete(m.records, ticketID)
	}
	if tickets, ok := m.holders[sortKey]; ok {
		delete(tickets, ticketID)
		if len(tickets) == 0 {
			delete(m.holders, sortKey)
		}
	}
}

func (m *MemoryStorage) getLocked(ticketID, sortKey string) *types.BugRecord {
	if byKey, ok := m.records[ticketID]; ok {
		if rec, ok := byKey[sortKey]; ok {
			return rec.Clone()
		}
	}
	return nil
}

func (m *MemoryStorage) checkOpen() error {
	if m.closed {
		return fmt.Errorf("%w: storage is closed", types.ErrExternal)
	}
	return nil
}

// Upsert writes rec with ingestion semantics
func (m *MemoryStorage) Upsert(ctx context.Context, rec *types.BugRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := storage.PrepareUpsert(rec, m.now()); err != nil {
		return err
	}
	m.putLocked(rec.Clone())
	return nil
}

// Put writes rec unchanged
func (m *MemoryStorage) Put(ctx context.Context, rec *types.BugRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	m.putLocked(rec.Clone())
	return nil
}

// Get returns a copy of the record or nil
func (m *MemoryStorage) Get(ctx context.Context, ticketID, sortKey string) (*types.BugRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return m.getLocked(ticketID, sortKey), nil
}

// Delete removes a record
func (m *MemoryStorage) Delete(ctx context.Context, ticketID, sortKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	m.deleteLocked(ticketID, sortKey)
	return nil
}

// GetByTicket returns all records for a ticket, ordered by sort key
func (m *MemoryStorage) GetByTicket(ctx context.Context, ticketID string) ([]*types.BugRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	byKey := m.records[ticketID]
	out := make([]*types.BugRecord, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })
	return out, nil
}

// GetBySortKey returns every copy of a source record, ordered by ticket id
func (m *MemoryStorage) GetBySortKey(ctx context.Context, sortKey string) ([]*types.BugRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*types.BugRecord, 0, len(m.holders[sortKey]))
	for ticketID := range m.holders[sortKey] {
		out = append(out, m.getLocked(ticketID, sortKey))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out, nil
}

// ScanByIndex filters every record by index key and time range
func (m *MemoryStorage) ScanByIndex(ctx context.Context, index types.Index, key string, tr *types.TimeRange) ([]*types.BugRecord, error) {
	if !index.IsValid() {
		return nil, fmt.Errorf("%w: unknown index %q", types.ErrMalformedInput, index)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	var out []*types.BugRecord
	for _, byKey := range m.records {
		for _, rec := range byKey {
			if index.KeyOf(rec) == key && tr.Contains(rec.CreatedAt) {
				out = append(out, rec.Clone())
			}
		}
	}
	return out, nil
}

// FullScan returns up to limit records
func (m *MemoryStorage) FullScan(ctx context.Context, limit int) ([]*types.BugRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	var out []*types.BugRecord
	for _, byKey := range m.records {
		for _, rec := range byKey {
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// IndexKeys returns the distinct keys of an index, sorted
func (m *MemoryStorage) IndexKeys(ctx context.Context, index types.Index) ([]string, error) {
	if !index.IsValid() {
		return nil, fmt.Errorf("%w: unknown index %q", types.ErrMalformedInput, index)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, byKey := range m.records {
		for _, rec := range byKey {
			seen[index.KeyOf(rec)] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks the storage closed
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// undoEntry restores one key to its state before a transactional write
type undoEntry struct {
	ticketID string
	sortKey  string
	prev     *types.BugRecord // nil if the key did not exist
}

// memTx applies writes immediately and keeps an undo log for rollback
type memTx struct {
	m    *MemoryStorage
	undo []undoEntry
}

func (tx *memTx) remember(ticketID, sortKey string) {
	tx.undo = append(tx.undo, undoEntry{
		ticketID: ticketID,
		sortKey:  sortKey,
		prev:     tx.m.getLocked(ticketID, sortKey),
	})
}

func (tx *memTx) Get(ctx context.Context, ticketID, sortKey string) (*types.BugRecord, error) {
	return tx.m.getLocked(ticketID, sortKey), nil
}

func (tx *memTx) Put(ctx context.Context, rec *types.BugRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	tx.remember(rec.TicketID, rec.SortKey)
	tx.m.putLocked(rec.Clone())
	return nil
}

func (tx *memTx) Delete(ctx context.Context, ticketID, sortKey string) error {
	tx.remember(ticketID, sortKey)
	tx.m.deleteLocked(ticketID, sortKey)
	return nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		u := tx.undo[i]
		if u.prev == nil {
			tx.m.deleteLocked(u.ticketID, u.sortKey)
		} else {
			tx.m.putLocked(u.prev)
		}
	}
}

// RunInTransaction executes fn with exclusive access; writes are undone if fn fails or panics
func (m *MemoryStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	tx := &memTx{m: m}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}
