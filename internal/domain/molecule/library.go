package molecule

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// ─────────────────────────────────────────────────────────────────────────────
// ReferenceLibrary
// ─────────────────────────────────────────────────────────────────────────────

// LibraryEntry is one reference molecule.
type LibraryEntry struct {
	ID    string
	Name  string
	Graph *MolecularGraph
}

// isoClass groups library ids under one representative graph.  Every graph
// in the same bucket that is isomorphic to rep belongs to this class.
type isoClass struct {
	rep *MolecularGraph
	ids []string
}

// ReferenceLibrary is the read-only set of molecules a run is compared
// against, together with its isomorphism-class index.  It is never mutated
// after Build and may be shared by any number of goroutines.
type ReferenceLibrary struct {
	mode       mtypes.MatchMode
	entries    map[string]*LibraryEntry
	ids        []string
	index      map[Invariant][]*isoClass
	classes    int
	maxIndexed int
	version    string
}

// Get returns the entry for id.
func (l *ReferenceLibrary) Get(id string) (*LibraryEntry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

// IDs returns every entry id in ascending order.
func (l *ReferenceLibrary) IDs() []string { return append([]string(nil), l.ids...) }

// Len returns the entry count.
func (l *ReferenceLibrary) Len() int { return len(l.ids) }

// Mode returns the match mode the index was built for.
func (l *ReferenceLibrary) Mode() mtypes.MatchMode { return l.mode }

// Version is a content hash over the entries, the mode and the enumeration
// bounds.  Two libraries with equal versions answer every query alike.
func (l *ReferenceLibrary) Version() string { return l.version }

// ClassCount returns the number of distinct indexed isomorphism classes.
func (l *ReferenceLibrary) ClassCount() int { return l.classes }

// MaxIndexedSize returns the node count of the largest indexed graph.  No
// query subgraph larger than this can match.
func (l *ReferenceLibrary) MaxIndexedSize() int { return l.maxIndexed }

// lookup returns the ids whose indexed class is isomorphic to g.
func (l *ReferenceLibrary) lookup(g *MolecularGraph) []string {
	if g.NumNodes() > l.maxIndexed {
		return nil
	}
	for _, c := range l.index[ComputeInvariant(g)] {
		if Isomorphic(c.rep, g) {
			return c.ids
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// LibraryBuilder
// ─────────────────────────────────────────────────────────────────────────────

// PreparedEntry is a library molecule with its distinct indexable graphs
// already computed.  Preparation is the expensive half of library
// construction and may run concurrently.
type PreparedEntry struct {
	LibraryEntry
	classes []indexedGraph
}

// Classes returns the number of distinct isomorphism classes in the entry.
func (p *PreparedEntry) Classes() int { return len(p.classes) }

type indexedGraph struct {
	inv   Invariant
	graph *MolecularGraph
}

// LibraryBuilder accumulates entries and produces a ReferenceLibrary.
// Prepare is safe for concurrent use; AddPrepared, Add and Build are not.
type LibraryBuilder struct {
	mode    mtypes.MatchMode
	enum    *Enumerator
	entries map[string]*LibraryEntry
	index   map[Invariant][]*isoClass
	classes int
	maxSize int
}

// NewLibraryBuilder creates a builder for mode.  In shared mode enum bounds
// the library's own subgraph enumeration.
func NewLibraryBuilder(mode mtypes.MatchMode, enum *Enumerator) (*LibraryBuilder, error) {
	if !mode.Valid() {
		return nil, errors.New(errors.ErrCodeInvalidMatchMode, "unknown match mode").WithDetail(string(mode))
	}
	if enum == nil {
		enum = NewEnumerator(0, 0)
	}
	return &LibraryBuilder{
		mode:    mode,
		enum:    enum,
		entries: make(map[string]*LibraryEntry),
		index:   make(map[Invariant][]*isoClass),
	}, nil
}

// Len returns the number of entries added so far.
func (b *LibraryBuilder) Len() int { return len(b.entries) }

// Prepare computes the indexable graphs of one molecule.  In shared mode
// these are the distinct isomorphism classes among its connected
// subgraphs; in contains mode it is the whole graph.
func (b *LibraryBuilder) Prepare(id, name string, g *MolecularGraph) (*PreparedEntry, error) {
	if id == "" {
		return nil, errors.New(errors.ErrCodeInvalidLibrary, "library entry without id")
	}
	if g == nil {
		return nil, errors.New(errors.ErrCodeInvalidLibrary, "library entry without graph").WithDetail(id)
	}
	p := &PreparedEntry{LibraryEntry: LibraryEntry{ID: id, Name: name, Graph: g}}

	if b.mode == mtypes.MatchContains {
		if g.NumNodes() >= MinSubgraphSize {
			p.classes = []indexedGraph{{inv: ComputeInvariant(g), graph: g}}
		}
		return p, nil
	}

	seq, err := b.enum.Enumerate(g)
	if err != nil {
		return nil, err
	}
	local := make(map[Invariant][]*MolecularGraph)
	for sub := range seq {
		sg := sub.Graph()
		inv := ComputeInvariant(sg)
		if containsIsomorphic(local[inv], sg) {
			continue
		}
		local[inv] = append(local[inv], sg)
		p.classes = append(p.classes, indexedGraph{inv: inv, graph: sg})
	}
	return p, nil
}

func containsIsomorphic(graphs []*MolecularGraph, g *MolecularGraph) bool {
	for _, h := range graphs {
		if Isomorphic(h, g) {
			return true
		}
	}
	return false
}

// AddPrepared merges a prepared entry into the index.  Duplicate ids are
// rejected.
func (b *LibraryBuilder) AddPrepared(p *PreparedEntry) error {
	if _, dup := b.entries[p.ID]; dup {
		return errors.New(errors.ErrCodeInvalidLibrary, "duplicate library id").WithDetail(p.ID)
	}
	entry := p.LibraryEntry
	b.entries[p.ID] = &entry

	for _, ig := range p.classes {
		bucket := b.index[ig.inv]
		var class *isoClass
		for _, c := range bucket {
			if Isomorphic(c.rep, ig.graph) {
				class = c
				break
			}
		}
		if class == nil {
			class = &isoClass{rep: ig.graph}
			b.index[ig.inv] = append(bucket, class)
			b.classes++
		}
		class.ids = append(class.ids, p.ID)
		if n := ig.graph.NumNodes(); n > b.maxSize {
			b.maxSize = n
		}
	}
	return nil
}

// Add prepares and merges one entry.
func (b *LibraryBuilder) Add(id, name string, g *MolecularGraph) error {
	p, err := b.Prepare(id, name, g)
	if err != nil {
		return err
	}
	return b.AddPrepared(p)
}

// Build freezes the accumulated entries.  An empty library is an error.
// The builder must not be used afterwards.
func (b *LibraryBuilder) Build() (*ReferenceLibrary, error) {
	if len(b.entries) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidLibrary, "reference library is empty")
	}
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, bucket := range b.index {
		for _, c := range bucket {
			sort.Strings(c.ids)
		}
	}

	lib := &ReferenceLibrary{
		mode:       b.mode,
		entries:    b.entries,
		ids:        ids,
		index:      b.index,
		classes:    b.classes,
		maxIndexed: b.maxSize,
	}
	lib.version = b.version(ids)
	b.entries, b.index = nil, nil
	return lib, nil
}

func (b *LibraryBuilder) version(ids []string) string {
	d := xxhash.New()
	var buf [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	_, _ = d.WriteString(string(b.mode))
	put(b.enum.MaxNodes())
	put(b.enum.MaxSubgraphSize())
	for _, id := range ids {
		e := b.entries[id]
		put(len(id))
		_, _ = d.WriteString(id)
		put(e.Graph.NumNodes())
		for i := 0; i < e.Graph.NumNodes(); i++ {
			_, _ = d.WriteString(e.Graph.Element(i))
		}
		for _, edge := range e.Graph.Edges() {
			put(edge[0])
			put(edge[1])
		}
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
