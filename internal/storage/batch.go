package storage

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	// MaxBatchSize is the largest number of items sent per round trip
	MaxBatchSize = 25
	// DefaultBatchDelay is the fixed pause between chunks
	DefaultBatchDelay = 100 * time.Millisecond
)

// Batcher splits mutations into chunks of at most Size items and waits a fixed
// Delay between chunks. There is no adaptive backoff and no idempotency token:
// re-running an upsert chunk is safe, re-running a rekey chunk is not.
type Batcher struct {
	Size  int
	Delay time.Duration
}

// NewBatcher returns a batcher clamped to MaxBatchSize
func NewBatcher(size int, delay time.Duration) *Batcher {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	if delay < 0 {
		delay = 0
	}
	return &Batcher{Size: size, Delay: delay}
}

// Chunks splits n items into [start, end) index ranges of at most b.Size items
func (b *Batcher) Chunks(n int) [][2]int {
	size := b.Size
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// Run calls fn once per chunk, pausing Delay between chunks.
// It stops early only if ctx is canceled or fn returns an error.
func (b *Batcher) Run(ctx context.Context, n int, fn func(start, end int) error) error {
	// A limiter with burst 1 lets the first chunk through immediately and
	// spaces every later chunk by exactly Delay.
	var limiter *rate.Limiter
	if b.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(b.Delay), 1)
	}
	for _, c := range b.Chunks(n) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c[0], c[1]); err != nil {
			return err
		}
	}
	return nil
}
