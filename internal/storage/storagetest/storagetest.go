// Package storagetest provides a conformance suite run against every storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) storage.Storage

// Record builds a minimal valid record
func Record(ticketID string, source types.SourceSystem, recordID string, created time.Time) *types.BugRecord {
	return &types.BugRecord{
		TicketID:       ticketID,
		SourceSystem:   source,
		SourceRecordID: recordID,
		Priority:       types.PriorityHigh,
		State:          types.StateOpen,
		Subject:        "subject " + recordID,
		CreatedAt:      created,
	}
}

// Run executes the conformance suite
func Run(t *testing.T, newStore Factory) {
	t.Run("UpsertAndGetByTicket", func(t *testing.T) { testUpsertAndGetByTicket(t, newStore(t)) })
	t.Run("UpsertOverwrites", func(t *testing.T) { testUpsertOverwrites(t, newStore(t)) })
	t.Run("UpsertDefaultsCreatedAt", func(t *testing.T) { testUpsertDefaultsCreatedAt(t, newStore(t)) })
	t.Run("PutKeepsAttributes", func(t *testing.T) { testPutKeepsAttributes(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("GetBySortKey", func(t *testing.T) { testGetBySortKey(t, newStore(t)) })
	t.Run("ScanByIndex", func(t *testing.T) { testScanByIndex(t, newStore(t)) })
	t.Run("FullScanLimit", func(t *testing.T) { testFullScanLimit(t, newStore(t)) })
	t.Run("IndexKeys", func(t *testing.T) { testIndexKeys(t, newStore(t)) })
	t.Run("ExtraRoundtrip", func(t *testing.T) { testExtraRoundtrip(t, newStore(t)) })
	t.Run("RejectsInvalid", func(t *testing.T) { testRejectsInvalid(t, newStore(t)) })
	t.Run("TransactionRollback", func(t *testing.T) { testTransactionRollback(t, newStore(t)) })
	t.Run("TransactionCommit", func(t *testing.T) { testTransactionCommit(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mustUpsert(t *testing.T, s storage.Storage, rec *types.BugRecord) {
	t.Helper()
	if err := s.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert(%s, %s) failed: %v", rec.TicketID, rec.SortKey, err)
	}
}

func testUpsertAndGetByTicket(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	mustUpsert(t, s, Record("ZD-1", types.SourceZendesk, "1", base))
	mustUpsert(t, s, Record("ZD-1", types.SourceShortcut, "900", base.Add(time.Hour)))
	mustUpsert(t, s, Record("ZD-2", types.SourceZendesk, "2", base))

	recs, err := s.GetByTicket(ctx, "ZD-1")
	if err != nil {
		t.Fatalf("GetByTicket failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	seen := make(map[string]bool)
	for _, r := range recs {
		if r.TicketID != "ZD-1" {
			t.Errorf("record %s has ticket %s", r.SortKey, r.TicketID)
		}
		if seen[r.SortKey] {
			t.Errorf("duplicate sort key %s", r.SortKey)
		}
		seen[r.SortKey] = true
	}

	empty, err := s.GetByTicket(ctx, "ZD-404")
	if err != nil {
		t.Fatalf("GetByTicket(missing) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no records, got %d", len(empty))
	}
}

func testUpsertOverwrites(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	rec := Record("ZD-1", types.SourceZendesk, "1", base)
	mustUpsert(t, s, rec)

	again := Record("ZD-1", types.SourceZendesk, "1", base)
	again.Priority = types.PriorityLow
	again.Subject = "changed"
	mustUpsert(t, s, again)

	recs, err := s.GetByTicket(ctx, "ZD-1")
	if err != nil {
		t.Fatalf("GetByTicket failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected overwrite, got %d records", len(recs))
	}
	got := recs[0]
	if got.Priority != types.PriorityLow || got.Subject != "changed" {
		t.Errorf("record not overwritten: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if got.UpdatedAt.IsZero() || got.SyncedAt.IsZero() {
		t.Error("UpdatedAt and SyncedAt must be refreshed")
	}
}

func testUpsertDefaultsCreatedAt(t *testing.T, s storage.Storage) {
	before := time.Now().Add(-time.Second)
	rec := Record("SL-1", types.SourceSlack, "1700000000.1", time.Time{})
	mustUpsert(t, s, rec)

	got, err := s.Get(context.Background(), "SL-1", "slack#1700000000.1")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, expected defaulted to now", got.CreatedAt)
	}
}

func testPutKeepsAttributes(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	rec := Record("ZD-1", types.SourceZendesk, "1", base)
	rec.UpdatedAt = base.Add(time.Minute)
	rec.SyncedAt = base.Add(2 * time.Minute)
	rec.LinkedFrom = "SL-abc"
	rec.Stale = true
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "ZD-1", "zendesk#1")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.UpdatedAt.Equal(rec.UpdatedAt) || !got.SyncedAt.Equal(rec.SyncedAt) {
		t.Errorf("Put changed timestamps: %v %v", got.UpdatedAt, got.SyncedAt)
	}
	if got.LinkedFrom != "SL-abc" || !got.Stale {
		t.Errorf("Put lost flags: %+v", got)
	}

	// Upsert clears the stale flag
	mustUpsert(t, s, Record("ZD-1", types.SourceZendesk, "1", base))
	got, _ = s.Get(ctx, "ZD-1", "zendesk#1")
	if got.Stale {
		t.Error("Upsert should clear the stale flag")
	}
}

func testDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	mustUpsert(t, s, Record("ZD-1", types.SourceZendesk, "1", base))

	if err := s.Delete(ctx, "ZD-1", "zendesk#1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err := s.Get(ctx, "ZD-1", "zendesk#1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("record still present after Delete")
	}
	if err := s.Delete(ctx, "ZD-1", "zendesk#1"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func testGetBySortKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	mustUpsert(t, s, Record("SL-aaaa", types.SourceSlack, "1718000000.000100", base))
	mustUpsert(t, s, Record("ZD-7", types.SourceSlack, "1718000000.000100", base))
	mustUpsert(t, s, Record("ZD-7", types.SourceZendesk, "7", base))

	copies, err := s.GetBySortKey(ctx, "slack#1718000000.000100")
	if err != nil {
		t.Fatalf("GetBySortKey failed: %v", err)
	}
	if len(copies) != 2 || copies[0].TicketID != "SL-aaaa" || copies[1].TicketID != "ZD-7" {
		t.Fatalf("copies = %v, want SL-aaaa then ZD-7", ticketIDs(copies))
	}

	if err := s.Delete(ctx, "SL-aaaa", "slack#1718000000.000100"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	copies, _ = s.GetBySortKey(ctx, "slack#1718000000.000100")
	if len(copies) != 1 || copies[0].TicketID != "ZD-7" {
		t.Errorf("after delete copies = %v, want [ZD-7]", ticketIDs(copies))
	}

	none, err := s.GetBySortKey(ctx, "slack#0")
	if err != nil || len(none) != 0 {
		t.Errorf("GetBySortKey(missing) = %d records, %v", len(none), err)
	}
}

func ticketIDs(recs []*types.BugRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.TicketID
	}
	return ids
}

func testScanByIndex(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i, p := range []string{types.PriorityHigh, types.PriorityHigh, types.PriorityLow} {
		rec := Record("ZD-"+string(rune('1'+i)), types.SourceZendesk, string(rune('1'+i)), base.Add(time.Duration(i)*24*time.Hour))
		rec.Priority = p
		mustUpsert(t, s, rec)
	}

	high, err := s.ScanByIndex(ctx, types.IndexPriority, types.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("ScanByIndex failed: %v", err)
	}
	if len(high) != 2 {
		t.Errorf("expected 2 High records, got %d", len(high))
	}

	tr := &types.TimeRange{Start: base.Add(12 * time.Hour), End: base.Add(72 * time.Hour)}
	ranged, err := s.ScanByIndex(ctx, types.IndexSource, string(types.SourceZendesk), tr)
	if err != nil {
		t.Fatalf("ScanByIndex(range) failed: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("expected 2 records in range, got %d", len(ranged))
	}

	open, err := s.ScanByIndex(ctx, types.IndexState, string(types.StateOpen), nil)
	if err != nil {
		t.Fatalf("ScanByIndex(state) failed: %v", err)
	}
	if len(open) != 3 {
		t.Errorf("expected 3 open records, got %d", len(open))
	}

	if _, err := s.ScanByIndex(ctx, "assignee", "x", nil); !errors.Is(err, types.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput for unknown index, got %v", err)
	}
}

func testFullScanLimit(t *testing.T, s storage.Storage) {
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		mustUpsert(t, s, Record("SC-"+id, types.SourceShortcut, id, base))
	}
	all, err := s.FullScan(context.Background(), 0)
	if err != nil {
		t.Fatalf("FullScan failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("FullScan(0) = %d records, want 5", len(all))
	}
	some, err := s.FullScan(context.Background(), 3)
	if err != nil {
		t.Fatalf("FullScan(3) failed: %v", err)
	}
	if len(some) != 3 {
		t.Errorf("FullScan(3) = %d records, want 3", len(some))
	}
}

func testIndexKeys(t *testing.T, s storage.Storage) {
	a := Record("ZD-1", types.SourceZendesk, "1", base)
	a.Priority = "p1"
	b := Record("ZD-2", types.SourceZendesk, "2", base)
	mustUpsert(t, s, a)
	mustUpsert(t, s, b)

	keys, err := s.IndexKeys(context.Background(), types.IndexPriority)
	if err != nil {
		t.Fatalf("IndexKeys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != types.PriorityHigh || keys[1] != "p1" {
		t.Errorf("IndexKeys = %v, want [High p1]", keys)
	}
}

func testExtraRoundtrip(t *testing.T, s storage.Storage) {
	rec := Record("ZD-1", types.SourceZendesk, "1", base)
	rec.Extra = map[string]interface{}{"requester": "42", "archived": true}
	rec.SourceUpdatedAt = "not a timestamp"
	mustUpsert(t, s, rec)

	got, err := s.Get(context.Background(), "ZD-1", "zendesk#1")
	if err != nil || got == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Extra["requester"] != "42" || got.Extra["archived"] != true {
		t.Errorf("Extra = %v", got.Extra)
	}
	if got.SourceUpdatedAt != "not a timestamp" {
		t.Errorf("SourceUpdatedAt must be stored verbatim, got %q", got.SourceUpdatedAt)
	}
}

func testRejectsInvalid(t *testing.T, s storage.Storage) {
	bad := Record("", types.SourceZendesk, "1", base)
	if err := s.Upsert(context.Background(), bad); !errors.Is(err, types.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func testTransactionRollback(t *testing.T, s storage.Storage) {
	txs, ok := s.(storage.Transactional)
	if !ok {
		t.Skip("backend is not transactional")
	}
	ctx := context.Background()
	mustUpsert(t, s, Record("SL-1", types.SourceSlack, "1", base))

	boom := errors.New("boom")
	err := txs.RunInTransaction(ctx, func(tx storage.Tx) error {
		rec, err := tx.Get(ctx, "SL-1", "slack#1")
		if err != nil || rec == nil {
			t.Fatalf("tx.Get failed: %v", err)
		}
		rec.TicketID = "ZD-9"
		if err := tx.Put(ctx, rec); err != nil {
			return err
		}
		if err := tx.Delete(ctx, "SL-1", "slack#1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if old, _ := s.Get(ctx, "SL-1", "slack#1"); old == nil {
		t.Error("rollback lost the original record")
	}
	if moved, _ := s.Get(ctx, "ZD-9", "slack#1"); moved != nil {
		t.Error("rollback kept the copy")
	}
}

func testTransactionCommit(t *testing.T, s storage.Storage) {
	txs, ok := s.(storage.Transactional)
	if !ok {
		t.Skip("backend is not transactional")
	}
	ctx := context.Background()
	mustUpsert(t, s, Record("SL-1", types.SourceSlack, "1", base))

	err := txs.RunInTransaction(ctx, func(tx storage.Tx) error {
		rec, err := tx.Get(ctx, "SL-1", "slack#1")
		if err != nil {
			return err
		}
		rec.TicketID = "ZD-9"
		if err := tx.Put(ctx, rec); err != nil {
			return err
		}
		return tx.Delete(ctx, "SL-1", "slack#1")
	})
	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}
	if old, _ := s.Get(ctx, "SL-1", "slack#1"); old != nil {
		t.Error("old key still present after commit")
	}
	if moved, _ := s.Get(ctx, "ZD-9", "slack#1"); moved == nil {
		t.Error("copy missing after commit")
	}
}
