// Package jsonl reads and writes records as one JSON object per line.
//
// The workspace export (.bugtracker/records.jsonl) backs --no-db mode and
// `bt export` / `bt import`.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/types"
)

// maxLineBytes bounds one encoded record
const maxLineBytes = 4 * 1024 * 1024

// Write encodes recs to w ordered by ticket id then sort key, so that
// exports of the same data are byte-identical.
func Write(w io.Writer, recs []*types.BugRecord) error {
	sorted := make([]*types.BugRecord, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TicketID != sorted[j].TicketID {
			return sorted[i].TicketID < sorted[j].TicketID
		}
		return sorted[i].SortKey < sorted[j].SortKey
	})

	encoder := json.NewEncoder(w)
	for _, rec := range sorted {
		if err := encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %s/%s: %w", rec.TicketID, rec.SortKey, err)
		}
	}
	return nil
}

// Read decodes every record in r. Blank lines are skipped.
func Read(r io.Reader) ([]*types.BugRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var recs []*types.BugRecord
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec types.BugRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%w: failed to parse record at line %d: %v", types.ErrMalformedInput, line, err)
		}
		recs = append(recs, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return recs, nil
}

// ReadFile reads the records in path. A missing file yields no records.
func ReadFile(path string) ([]*types.BugRecord, error) {
	f, err := os.Open(path) // #nosec G304 - workspace export path
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// WriteFileAtomic writes recs to a temp file next to path and renames it
// into place.
func WriteFileAtomic(path string, recs []*types.BugRecord) error {
	tempPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(f)
	if err := Write(w, recs); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	f = nil

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Export writes every record in store to path
func Export(ctx context.Context, store storage.Storage, path string) (int, error) {
	recs, err := store.FullScan(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to scan records: %w", err)
	}
	if err := WriteFileAtomic(path, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Import writes the records in path into store unchanged. Put is used, not
// Upsert, so SyncedAt and Stale survive the round trip.
func Import(ctx context.Context, store storage.Storage, path string) (int, error) {
	recs, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	for i, rec := range recs {
		if err := store.Put(ctx, rec); err != nil {
			return i, fmt.Errorf("failed to write record %s/%s: %w", rec.TicketID, rec.SortKey, err)
		}
	}
	return len(recs), nil
}
