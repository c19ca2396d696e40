//go:build bench

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/castifi/bugtracker/internal/testutil/fixtures"
	"github.com/castifi/bugtracker/internal/types"
)

// setupLargeBenchDB returns a store populated with the 10K ticket dataset
func setupLargeBenchDB(b *testing.B) (*SQLiteStorage, func()) {
	b.Helper()
	store, err := New(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("failed to create storage: %v", err)
	}
	if _, err := fixtures.Large(context.Background(), store); err != nil {
		store.Close()
		b.Fatalf("failed to populate: %v", err)
	}
	return store, func() { _ = store.Close() }
}

// runBenchmark handles store setup/cleanup, timer management, and allocation reporting uniformly
func runBenchmark(b *testing.B, testFunc func(*SQLiteStorage, context.Context) error) {
	b.Helper()

	store, cleanup := setupLargeBenchDB(b)
	defer cleanup()

	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := testFunc(store, ctx); err != nil {
			b.Fatalf("benchmark failed: %v", err)
		}
	}
}

func BenchmarkScanByIndex_Priority_Large(b *testing.B) {
	runBenchmark(b, func(store *SQLiteStorage, ctx context.Context) error {
		_, err := store.ScanByIndex(ctx, types.IndexPriority, types.PriorityHigh, nil)
		return err
	})
}

func BenchmarkGetByTicket_Large(b *testing.B) {
	runBenchmark(b, func(store *SQLiteStorage, ctx context.Context) error {
		_, err := store.GetByTicket(ctx, "ZD-15000")
		return err
	})
}

func BenchmarkFullScan_Large(b *testing.B) {
	runBenchmark(b, func(store *SQLiteStorage, ctx context.Context) error {
		_, err := store.FullScan(ctx, 0)
		return err
	})
}
