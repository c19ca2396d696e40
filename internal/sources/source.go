package sources

import (
	"context"

	"github.com/castifi/bugtracker/internal/types"
)

// Source fetches and normalizes one external system's bug reports
type Source interface {
	System() types.SourceSystem
	Fetch(ctx context.Context) (*Batch, error)
}

// Batch is the result of one fetch. Items that failed to normalize are
// counted in Skipped and never stop the batch.
type Batch struct {
	System  types.SourceSystem
	Records []*types.BugRecord
	Skipped []error
}

func (b *Batch) add(rec *types.BugRecord, err error) {
	if err != nil {
		b.Skipped = append(b.Skipped, err)
		return
	}
	b.Records = append(b.Records, rec)
}
