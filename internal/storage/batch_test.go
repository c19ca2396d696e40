package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBatcherChunks(t *testing.T) {
	b := NewBatcher(25, 0)

	tests := []struct {
		n    int
		want [][2]int
	}{
		{0, nil},
		{1, [][2]int{{0, 1}}},
		{25, [][2]int{{0, 25}}},
		{26, [][2]int{{0, 25}, {25, 26}}},
		{60, [][2]int{{0, 25}, {25, 50}, {50, 60}}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, b.Chunks(tt.n)); diff != "" {
			t.Errorf("Chunks(%d) mismatch (-want +got):\n%s", tt.n, diff)
		}
	}
}

func TestNewBatcherClampsSize(t *testing.T) {
	if b := NewBatcher(100, 0); b.Size != MaxBatchSize {
		t.Errorf("Size = %d, want %d", b.Size, MaxBatchSize)
	}
	if b := NewBatcher(0, -time.Second); b.Size != MaxBatchSize || b.Delay != 0 {
		t.Errorf("got Size=%d Delay=%v", b.Size, b.Delay)
	}
}

func TestBatcherRunSpacesChunks(t *testing.T) {
	b := NewBatcher(10, 20*time.Millisecond)

	var calls int
	start := time.Now()
	err := b.Run(context.Background(), 30, func(s, e int) error {
		calls++
		if e-s > 10 {
			t.Errorf("chunk [%d,%d) larger than 10", s, e)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Two pauses between three chunks
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("elapsed %v, expected at least two delays", elapsed)
	}
}

func TestBatcherRunCanceled(t *testing.T) {
	b := NewBatcher(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := b.Run(ctx, 3, func(s, e int) error {
		calls++
		cancel()
		return nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
