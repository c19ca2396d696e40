// Package fixtures provides realistic test data generation for benchmarks and tests.
package fixtures

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/storage/jsonl"
	"github.com/castifi/bugtracker/internal/types"
)

// assignees used across all fixtures
var commonAssignees = []string{
	"alice",
	"bob",
	"charlie",
	"diana",
	"eve",
	"frank",
}

// slack channels bugs are reported in
var commonChannels = []string{
	"C01SUPPORT",
	"C02ESCALATE",
	"C03MOBILE",
}

// subjects for realistic data
var bugSubjects = []string{
	"Login fails with SSO",
	"Checkout button unresponsive",
	"Export to CSV drops rows",
	"Push notifications delayed",
	"Search returns stale results",
	"Profile image upload times out",
	"Dashboard totals off by one",
	"Password reset email missing",
	"Calendar sync duplicates events",
	"Invoice PDF renders blank",
}

var zendeskPriorities = []string{
	types.PriorityUrgent, types.PriorityHigh, types.PriorityNormal, types.PriorityLow,
}

// DataConfig controls the distribution and characteristics of generated test data
type DataConfig struct {
	Tickets        int     // number of Zendesk tickets (each gets a ZD-<n> ticket id)
	ShortcutRatio  float64 // fraction of tickets escalated to a Shortcut story
	SlackRatio     float64 // fraction of tickets first reported in Slack
	ClosedRatio    float64 // fraction of Shortcut stories that are completed
	UnlinkedSlack  int     // Slack reports with no ticket reference (synthetic SL- ids)
	MaxAgeDays     int     // maximum age in days of a ticket
	MaxResolveDays int     // maximum days from report to story update
	RandSeed       int64   // random seed for reproducibility
	Now            time.Time
}

// DefaultSmallConfig returns a configuration suited to unit tests
func DefaultSmallConfig() DataConfig {
	return DataConfig{
		Tickets:        200,
		ShortcutRatio:  0.4,
		SlackRatio:     0.5,
		ClosedRatio:    0.6,
		UnlinkedSlack:  20,
		MaxAgeDays:     60,
		MaxResolveDays: 14,
		RandSeed:       42,
		Now:            time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC),
	}
}

// DefaultLargeConfig returns configuration for a 10K ticket dataset
func DefaultLargeConfig() DataConfig {
	cfg := DefaultSmallConfig()
	cfg.Tickets = 10000
	cfg.UnlinkedSlack = 1000
	cfg.MaxAgeDays = 365
	cfg.RandSeed = 43
	return cfg
}

// Generate builds records for cfg without touching storage
func Generate(cfg DataConfig) []*types.BugRecord {
	rng := rand.New(rand.NewSource(cfg.RandSeed))
	now := cfg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var out []*types.BugRecord
	for i := 1; i <= cfg.Tickets; i++ {
		zdID := strconv.Itoa(10000 + i)
		ticketID := "ZD-" + zdID
		created := randomTime(rng, now, cfg.MaxAgeDays)
		subject := bugSubjects[rng.Intn(len(bugSubjects))]
		priority := zendeskPriorities[rng.Intn(len(zendeskPriorities))]

		if rng.Float64() < cfg.SlackRatio {
			ts := fmt.Sprintf("%d.%06d", created.Add(-time.Hour).Unix(), i)
			out = append(out, &types.BugRecord{
				TicketID:       ticketID,
				SourceSystem:   types.SourceSlack,
				SourceRecordID: ts,
				Priority:       priority,
				State:          types.StateOpen,
				Text:           fmt.Sprintf("%s, zendesk ticket: %s priority: %s", subject, zdID, priority),
				Assignee:       commonAssignees[rng.Intn(len(commonAssignees))],
				Channel:        commonChannels[rng.Intn(len(commonChannels))],
				CreatedAt:      created.Add(-time.Hour),
			})
		}

		out = append(out, &types.BugRecord{
			TicketID:        ticketID,
			SourceSystem:    types.SourceZendesk,
			SourceRecordID:  zdID,
			Priority:        priority,
			State:           types.StateOpen,
			Status:          "open",
			Subject:         subject,
			Text:            "Customer reports: " + subject,
			CreatedAt:       created,
			SourceUpdatedAt: created.Format(time.RFC3339),
		})

		if rng.Float64() < cfg.ShortcutRatio {
			story := &types.BugRecord{
				TicketID:       ticketID,
				SourceSystem:   types.SourceShortcut,
				SourceRecordID: strconv.Itoa(500 + i),
				Priority:       priority,
				State:          types.StateInProgress,
				Status:         "500000043",
				Subject:        fmt.Sprintf("[ZD-%s] %s", zdID, subject),
				Assignee:       commonAssignees[rng.Intn(len(commonAssignees))],
				CreatedAt:      created.Add(2 * time.Hour),
			}
			updated := created.Add(time.Duration(1+rng.Intn(cfg.MaxResolveDays*24)) * time.Hour)
			if rng.Float64() < cfg.ClosedRatio {
				story.State = types.StateClosed
				story.Status = "completed"
			}
			story.SourceUpdatedAt = updated.Format(time.RFC3339)
			out = append(out, story)
		}
	}

	for i := 0; i < cfg.UnlinkedSlack; i++ {
		created := randomTime(rng, now, cfg.MaxAgeDays)
		out = append(out, &types.BugRecord{
			TicketID:       fmt.Sprintf("SL-%016x", rng.Uint64()),
			SourceSystem:   types.SourceSlack,
			SourceRecordID: fmt.Sprintf("%d.%06d", created.Unix(), i),
			Priority:       types.PriorityUnknown,
			State:          types.StateOpen,
			Text:           "seeing " + bugSubjects[rng.Intn(len(bugSubjects))] + " again",
			Channel:        commonChannels[rng.Intn(len(commonChannels))],
			CreatedAt:      created,
		})
	}
	return out
}

// Populate generates records for cfg and upserts them into store
func Populate(ctx context.Context, store storage.Storage, cfg DataConfig) ([]*types.BugRecord, error) {
	recs := Generate(cfg)
	for _, rec := range recs {
		if err := store.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to upsert %s/%s: %w", rec.TicketID, rec.SortKey, err)
		}
	}
	return recs, nil
}

// Small populates store with the unit test dataset
func Small(ctx context.Context, store storage.Storage) ([]*types.BugRecord, error) {
	return Populate(ctx, store, DefaultSmallConfig())
}

// Large populates store with the 10K ticket dataset
func Large(ctx context.Context, store storage.Storage) ([]*types.BugRecord, error) {
	return Populate(ctx, store, DefaultLargeConfig())
}

// ExportJSONL writes every record in store to path
func ExportJSONL(ctx context.Context, store storage.Storage, path string) error {
	_, err := jsonl.Export(ctx, store, path)
	return err
}

// ImportJSONL writes the records in a JSONL file into store unchanged
func ImportJSONL(ctx context.Context, store storage.Storage, path string) (int, error) {
	return jsonl.Import(ctx, store, path)
}

// randomTime returns a random time up to maxDaysAgo days before now
func randomTime(rng *rand.Rand, now time.Time, maxDaysAgo int) time.Time {
	minutesAgo := rng.Intn(maxDaysAgo * 24 * 60)
	return now.Add(-time.Duration(minutesAgo) * time.Minute).Truncate(time.Second)
}
