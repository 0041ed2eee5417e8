package molecule

import (
	"sort"

	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// ─────────────────────────────────────────────────────────────────────────────
// Molecule
// ─────────────────────────────────────────────────────────────────────────────

// Molecule is one input record moving through the engine.  Graph is derived
// from Notation and owned by the Molecule until enumeration consumes it.
// The match set is written only by the worker that owns the Molecule's
// chunk, so it carries no lock.
type Molecule struct {
	ID       string
	Name     string
	Notation string
	Graph    *MolecularGraph

	matches map[string]struct{}
}

// NewMolecule creates a Molecule from an input record.  The graph is left
// nil until built.
func NewMolecule(rec mtypes.Record) *Molecule {
	return &Molecule{
		ID:       rec.ID,
		Name:     rec.Name,
		Notation: rec.Notation,
	}
}

// Record returns the input record the Molecule was created from.
func (m *Molecule) Record() mtypes.Record {
	return mtypes.Record{ID: m.ID, Name: m.Name, Notation: m.Notation}
}

// AddMatch records a library id.  The Molecule's own id is never recorded.
func (m *Molecule) AddMatch(id string) {
	if id == m.ID {
		return
	}
	if m.matches == nil {
		m.matches = make(map[string]struct{})
	}
	m.matches[id] = struct{}{}
}

// HasMatch reports whether id has been recorded.
func (m *Molecule) HasMatch(id string) bool {
	_, ok := m.matches[id]
	return ok
}

// MatchCount returns the number of distinct matches.
func (m *Molecule) MatchCount() int { return len(m.matches) }

// Matches returns the recorded ids in ascending order.  Never nil.
func (m *Molecule) Matches() []string {
	out := make([]string, 0, len(m.matches))
	for id := range m.matches {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetMatches replaces the match set, e.g. from a cached result.
func (m *Molecule) SetMatches(ids []string) {
	m.matches = nil
	for _, id := range ids {
		m.AddMatch(id)
	}
}

// Release drops the graph once matching is done.
func (m *Molecule) Release() { m.Graph = nil }

// ToAnnotated renders the Molecule as an output row.
func (m *Molecule) ToAnnotated() mtypes.AnnotatedRecord {
	return mtypes.AnnotatedRecord{Record: m.Record(), Matches: m.Matches()}
}
