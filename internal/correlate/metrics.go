package correlate

import (
	"math"
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

// sketchAccuracy is the relative accuracy of the p90/p95 estimates
const sketchAccuracy = 0.01

// Histogram bucket labels, in order
var bucketLabels = []string{"0-4h", "4-24h", "1-3d", "3-7d", "1-2w", "2w+"}

// bucketUpper holds the exclusive upper bound in hours of each bucket but the last
var bucketUpper = []float64{4, 24, 72, 168, 336}

// ResolutionHours is the time from origin's creation to dest's last
// source-side update. It is nil when the update time is missing or
// malformed, or the result would be negative.
func ResolutionHours(origin, dest *types.BugRecord) *float64 {
	if origin.CreatedAt.IsZero() {
		return nil
	}
	updated, err := normalize.ParseTimestamp(dest.SourceUpdatedAt)
	if err != nil {
		return nil
	}
	h := updated.Sub(origin.CreatedAt).Hours()
	if h < 0 {
		return nil
	}
	return &h
}

// Bucket is one histogram bar
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Stats describes a set of resolution times in hours
type Stats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average_hours"`
	Median  float64 `json:"median_hours"`
	Min     float64 `json:"min_hours"`
	Max     float64 `json:"max_hours"`
	P90     float64 `json:"p90_hours"`
	P95     float64 `json:"p95_hours"`
}

// Breakdown is Stats plus the histogram for one group of samples
type Breakdown struct {
	Stats
	Histogram []Bucket `json:"histogram"`
}

// Metrics summarizes how long completed Shortcut stories took to resolve
type Metrics struct {
	Breakdown
	// Completed stories whose resolution time could not be computed
	Excluded   int                   `json:"excluded"`
	ByPriority map[string]*Breakdown `json:"by_priority"`
}

// ComputeMetrics takes one sample per completed (closed) Shortcut record in
// recs: the resolution time of its incoming edge with the earliest origin, or
// of the story itself when nothing references it. Stories whose time cannot
// be computed are counted in Excluded and contribute nothing else.
func ComputeMetrics(recs []*types.BugRecord, edges []Edge) *Metrics {
	earliest := make(map[string]*Edge)
	for i := range edges {
		e := &edges[i]
		if e.To.SourceSystem != types.SourceShortcut {
			continue
		}
		k := e.To.key()
		if cur, ok := earliest[k]; !ok || e.from.CreatedAt.Before(cur.from.CreatedAt) {
			earliest[k] = e
		}
	}

	var all []float64
	byPriority := make(map[string][]float64)
	excluded := 0
	for _, r := range recs {
		if r.SourceSystem != types.SourceShortcut || r.State != types.StateClosed {
			continue
		}
		var hours *float64
		if e, ok := earliest[refOf(r).key()]; ok {
			hours = e.ResolutionHours
		} else {
			hours = ResolutionHours(r, r)
		}
		if hours == nil {
			excluded++
			continue
		}
		all = append(all, *hours)
		byPriority[r.Priority] = append(byPriority[r.Priority], *hours)
	}

	m := &Metrics{Breakdown: breakdown(all), Excluded: excluded, ByPriority: make(map[string]*Breakdown, len(byPriority))}
	for p, samples := range byPriority {
		b := breakdown(samples)
		m.ByPriority[p] = &b
	}
	return m
}

func breakdown(samples []float64) Breakdown {
	b := Breakdown{Histogram: make([]Bucket, len(bucketLabels))}
	for i, l := range bucketLabels {
		b.Histogram[i].Label = l
	}
	if len(samples) == 0 {
		return b
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, h := range sorted {
		sum += h
		b.Histogram[bucketIndex(h)].Count++
	}

	n := len(sorted)
	b.Count = n
	b.Average = sum / float64(n)
	b.Min = sorted[0]
	b.Max = sorted[n-1]
	if n%2 == 1 {
		b.Median = sorted[n/2]
	} else {
		b.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	b.P90, b.P95 = quantiles(sorted)
	return b
}

func bucketIndex(hours float64) int {
	for i, upper := range bucketUpper {
		if hours < upper {
			return i
		}
	}
	return len(bucketUpper)
}

// quantiles estimates p90 and p95 from a DDSketch over the samples
func quantiles(sorted []float64) (p90, p95 float64) {
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return 0, 0
	}
	for _, h := range sorted {
		if err := sketch.Add(h); err != nil {
			return 0, 0
		}
	}
	if sketch.IsEmpty() {
		return 0, 0
	}
	p90, _ = sketch.GetValueAtQuantile(0.90)
	p95, _ = sketch.GetValueAtQuantile(0.95)
	// Clamp the estimate to the observed range
	p90 = math.Min(math.Max(p90, sorted[0]), sorted[len(sorted)-1])
	p95 = math.Min(math.Max(p95, sorted[0]), sorted[len(sorted)-1])
	return p90, p95
}
