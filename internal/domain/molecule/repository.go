package molecule

import (
	"context"
	"time"

	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// RunRepository persists run reports.
type RunRepository interface {
	// SaveRun inserts or replaces the report and its annotated records.
	SaveRun(ctx context.Context, report *mtypes.RunReport) error

	// FindRun loads a report with its records.
	// Returns errors.ErrCodeRunNotFound if no run with the given ID exists.
	FindRun(ctx context.Context, id common.ID) (*mtypes.RunReport, error)

	// ListRuns returns summaries ordered by start time, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]mtypes.RunSummary, error)
}

// ResultCache memoises per-notation match lists.  Keys embed the library
// version so a changed library never serves stale results.
type ResultCache interface {
	// Get returns the cached matches and whether the key was present.
	Get(ctx context.Context, key string) ([]string, bool, error)

	// Set stores matches under key with the cache's configured TTL.
	Set(ctx context.Context, key string, matches []string) error
}

// SimilarityGraphRepository exports match relationships as a graph of
// molecules joined by shared-substructure edges.
type SimilarityGraphRepository interface {
	UpsertMatches(ctx context.Context, runID common.ID, records []mtypes.AnnotatedRecord) error
}

// RunEventPublisher announces finished runs to downstream consumers.
type RunEventPublisher interface {
	PublishRunCompleted(ctx context.Context, summary mtypes.RunSummary, at time.Time) error
}
