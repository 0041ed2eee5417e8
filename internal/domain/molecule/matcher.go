package molecule

import (
	"context"
	"sort"

	"github.com/turtacn/subsim/pkg/errors"
)

// ctxCheckInterval is how many subgraphs are tested between context checks.
const ctxCheckInterval = 1024

// AnnotateStats summarises one Annotate call.
type AnnotateStats struct {
	Subgraphs int
	Matches   int
}

// Matcher tests query subgraphs against a ReferenceLibrary.  It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	lib  *ReferenceLibrary
	enum *Enumerator
}

// NewMatcher binds lib and enum.  Subgraph size is capped at the largest
// graph the library indexes, since nothing larger can be isomorphic to it.
func NewMatcher(lib *ReferenceLibrary, enum *Enumerator) *Matcher {
	if enum == nil {
		enum = NewEnumerator(0, 0)
	}
	limit := lib.MaxIndexedSize()
	if limit < MinSubgraphSize {
		limit = MinSubgraphSize
	}
	return &Matcher{lib: lib, enum: enum.WithMaxSize(limit)}
}

// Library returns the bound library.
func (m *Matcher) Library() *ReferenceLibrary { return m.lib }

// Enumerator returns the size-capped enumerator used by Annotate.
func (m *Matcher) Enumerator() *Enumerator { return m.enum }

// Matches returns every library id with an indexed graph isomorphic to
// sub, ascending.  The result must not be modified.
func (m *Matcher) Matches(sub Subgraph) []string {
	if sub.Size() > m.lib.MaxIndexedSize() {
		return nil
	}
	return m.lib.lookup(sub.Graph())
}

// MatchAll returns the union of library ids matched by any connected
// subgraph of g, ascending and without self-exclusion.  A graph over the
// size bound returns the GraphTooLarge error untouched so callers can
// classify it.
func (m *Matcher) MatchAll(ctx context.Context, g *MolecularGraph) ([]string, AnnotateStats, error) {
	var stats AnnotateStats
	seq, err := m.enum.Enumerate(g)
	if err != nil {
		return nil, stats, err
	}
	found := make(map[string]struct{})
	for sub := range seq {
		stats.Subgraphs++
		if stats.Subgraphs%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, errors.Wrap(err, errors.CodeCancelled, "matching cancelled")
			}
		}
		for _, id := range m.Matches(sub) {
			found[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	stats.Matches = len(ids)
	return ids, stats, nil
}

// Annotate matches mol.Graph and records the result on mol, never
// including mol.ID.
func (m *Matcher) Annotate(ctx context.Context, mol *Molecule) (AnnotateStats, error) {
	if mol.Graph == nil {
		return AnnotateStats{}, errors.Internal("molecule has no graph").WithDetail(mol.ID)
	}
	ids, stats, err := m.MatchAll(ctx, mol.Graph)
	if err != nil {
		if errors.IsCode(err, errors.CodeCancelled) {
			err = errors.Wrap(err, errors.CodeCancelled, "annotation cancelled").WithDetail(mol.ID)
		}
		return stats, err
	}
	for _, id := range ids {
		mol.AddMatch(id)
	}
	stats.Matches = mol.MatchCount()
	return stats, nil
}
