// Package molecule defines the data transfer objects exchanged by every layer
// of subsim: input records, annotated output rows, skip diagnostics and run
// reports.  Only plain data types live here so that any layer may import it.
package molecule

import (
	"sort"
	"strings"
	"time"

	"github.com/turtacn/subsim/pkg/types/common"
)

// MatchesSeparator joins library ids in the matches column.
const MatchesSeparator = ";"

// ─────────────────────────────────────────────────────────────────────────────
// MatchMode
// ─────────────────────────────────────────────────────────────────────────────

// MatchMode selects how a query subgraph is compared to the library.
type MatchMode string

const (
	// MatchShared reports a library entry when the query and the entry share
	// an isomorphic connected subgraph.
	MatchShared MatchMode = "shared"

	// MatchContains reports a library entry when some connected subgraph of
	// the query is isomorphic to the entire library graph.
	MatchContains MatchMode = "contains"
)

// Valid reports whether m is a known mode.
func (m MatchMode) Valid() bool {
	return m == MatchShared || m == MatchContains
}

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// Record is one input row: a stable corpus identifier, a display name and
// the structure notation.
type Record struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Notation string `json:"notation"`
}

// AnnotatedRecord is a Record with the ids of library entries it matched,
// sorted ascending.
type AnnotatedRecord struct {
	Record
	Matches []string `json:"matches"`
}

// MatchesColumn renders Matches for tabular output.
func (a AnnotatedRecord) MatchesColumn() string {
	return strings.Join(a.Matches, MatchesSeparator)
}

// ParseMatchesColumn is the inverse of MatchesColumn.
func ParseMatchesColumn(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, MatchesSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Skips
// ─────────────────────────────────────────────────────────────────────────────

// SkipReason classifies a per-record condition that removed a record from
// matching without failing the run.
type SkipReason string

const (
	SkipParseError    SkipReason = "parse_error"
	SkipGraphTooLarge SkipReason = "graph_too_large"
)

// SkippedRecord describes one skipped input record.
type SkippedRecord struct {
	Index  int        `json:"index"`
	ID     string     `json:"id"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Run report
// ─────────────────────────────────────────────────────────────────────────────

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunReport is the full outcome of a similarity run.
type RunReport struct {
	RunID          common.ID          `json:"run_id"`
	Status         RunStatus          `json:"status"`
	MatchMode      MatchMode          `json:"match_mode"`
	LibraryVersion string             `json:"library_version"`
	LibrarySize    int                `json:"library_size"`
	Records        []AnnotatedRecord  `json:"records"`
	Skipped        []SkippedRecord    `json:"skipped"`
	SkipCounts     map[SkipReason]int `json:"skip_counts"`
	Processed      int                `json:"processed"`
	Matched        int                `json:"matched"`
	CacheHits      int                `json:"cache_hits"`
	Chunks         int                `json:"chunks"`
	Workers        int                `json:"workers"`
	Error          string             `json:"error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalSkipped sums SkipCounts.
func (r *RunReport) TotalSkipped() int {
	n := 0
	for _, c := range r.SkipCounts {
		n += c
	}
	return n
}

// RunSummary is the compact form of a RunReport used in events and listings.
type RunSummary struct {
	RunID          common.ID          `json:"run_id"`
	Status         RunStatus          `json:"status"`
	MatchMode      MatchMode          `json:"match_mode"`
	LibraryVersion string             `json:"library_version"`
	Records        int                `json:"records"`
	Processed      int                `json:"processed"`
	Matched        int                `json:"matched"`
	SkipCounts     map[SkipReason]int `json:"skip_counts"`
	Error          string             `json:"error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}

// Summary returns the compact form of r.
func (r *RunReport) Summary() RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		Status:         r.Status,
		MatchMode:      r.MatchMode,
		LibraryVersion: r.LibraryVersion,
		Records:        len(r.Records),
		Processed:      r.Processed,
		Matched:        r.Matched,
		SkipCounts:     r.SkipCounts,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}
