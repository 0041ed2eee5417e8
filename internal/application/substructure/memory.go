package substructure

import (
	"context"
	"sort"
	"sync"

	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// DefaultMemoryRuns is how many runs the in-memory repository retains.
const DefaultMemoryRuns = 64

// MemoryRunRepository keeps the most recent runs in process memory.  It
// backs the service when no database is configured.
type MemoryRunRepository struct {
	mu    sync.RWMutex
	limit int
	runs  map[common.ID]*mtypes.RunReport
	order []common.ID // oldest first
}

// NewMemoryRunRepository creates a repository retaining up to limit runs.
// limit <= 0 selects DefaultMemoryRuns.
func NewMemoryRunRepository(limit int) *MemoryRunRepository {
	if limit <= 0 {
		limit = DefaultMemoryRuns
	}
	return &MemoryRunRepository{limit: limit, runs: make(map[common.ID]*mtypes.RunReport)}
}

// SaveRun stores a copy of report, evicting the oldest run when full.
func (r *MemoryRunRepository) SaveRun(_ context.Context, report *mtypes.RunReport) error {
	if report == nil || report.RunID == "" {
		return errors.InvalidParam("run report without id")
	}
	cp := *report
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[report.RunID]; !exists {
		r.order = append(r.order, report.RunID)
	}
	r.runs[report.RunID] = &cp
	for len(r.order) > r.limit {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
	return nil
}

// FindRun returns the stored report.
func (r *MemoryRunRepository) FindRun(_ context.Context, id common.ID) (*mtypes.RunReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.runs[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeRunNotFound, "run not found").WithDetail(id.String())
	}
	cp := *rep
	return &cp, nil
}

// ListRuns returns summaries newest first.
func (r *MemoryRunRepository) ListRuns(_ context.Context, limit, offset int) ([]mtypes.RunSummary, error) {
	r.mu.RLock()
	out := make([]mtypes.RunSummary, 0, len(r.runs))
	for _, rep := range r.runs {
		out = append(out, rep.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID > out[j].RunID
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []mtypes.RunSummary{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
