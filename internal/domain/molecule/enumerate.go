package molecule

import (
	"iter"
	"math/bits"

	"github.com/turtacn/subsim/pkg/errors"
)

// DefaultMaxNodes is the graph size bound used when none is configured.
const DefaultMaxNodes = 24

// MinSubgraphSize is the smallest subgraph ever enumerated.
const MinSubgraphSize = 2

// ─────────────────────────────────────────────────────────────────────────────
// Subgraph
// ─────────────────────────────────────────────────────────────────────────────

// Subgraph is a connected node-induced subset of a parent graph, held as a
// node bitmask.  It is ephemeral: produced by enumeration, tested, dropped.
type Subgraph struct {
	parent *MolecularGraph
	mask   uint64
}

// NewSubgraph wraps mask over parent.  No connectivity check is performed.
func NewSubgraph(parent *MolecularGraph, mask uint64) Subgraph {
	return Subgraph{parent: parent, mask: mask}
}

// Mask returns the node bitmask.
func (s Subgraph) Mask() uint64 { return s.mask }

// Size returns the number of nodes.
func (s Subgraph) Size() int { return bits.OnesCount64(s.mask) }

// Parent returns the graph the subgraph was taken from.
func (s Subgraph) Parent() *MolecularGraph { return s.parent }

// Nodes returns the parent node indices in ascending order.
func (s Subgraph) Nodes() []int {
	out := make([]int, 0, s.Size())
	for m := s.mask; m != 0; m &= m - 1 {
		out = append(out, bits.TrailingZeros64(m))
	}
	return out
}

// Graph materialises the induced subgraph.
func (s Subgraph) Graph() *MolecularGraph { return s.parent.Induce(s.mask) }

// ─────────────────────────────────────────────────────────────────────────────
// Enumerator
// ─────────────────────────────────────────────────────────────────────────────

// Enumerator yields every connected induced subgraph of size >= 2.  The
// search is exhaustive over k-combinations, so graph size is bounded by
// maxNodes and refused beyond it.
type Enumerator struct {
	maxNodes int
	maxSize  int // 0 = no bound on k
}

// NewEnumerator creates an Enumerator.  maxNodes <= 0 selects
// DefaultMaxNodes; values above MaxMaskNodes are clamped.  maxSubgraphSize
// <= 0 leaves k unbounded.
func NewEnumerator(maxNodes, maxSubgraphSize int) *Enumerator {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	if maxNodes > MaxMaskNodes {
		maxNodes = MaxMaskNodes
	}
	if maxSubgraphSize < 0 {
		maxSubgraphSize = 0
	}
	return &Enumerator{maxNodes: maxNodes, maxSize: maxSubgraphSize}
}

// MaxNodes returns the node bound.
func (e *Enumerator) MaxNodes() int { return e.maxNodes }

// MaxSubgraphSize returns the k bound, 0 when unbounded.
func (e *Enumerator) MaxSubgraphSize() int { return e.maxSize }

// WithMaxSize returns a copy whose k bound is the tighter of the current
// bound and k.  k <= 0 returns e unchanged.
func (e *Enumerator) WithMaxSize(k int) *Enumerator {
	if k <= 0 || (e.maxSize > 0 && e.maxSize <= k) {
		return e
	}
	return &Enumerator{maxNodes: e.maxNodes, maxSize: k}
}

// Check reports GraphTooLarge when g exceeds the node bound.
func (e *Enumerator) Check(g *MolecularGraph) error {
	if g.NumNodes() > e.maxNodes {
		return errors.New(errors.CodeGraphTooLarge, "graph too large to enumerate").
			WithDetailf("nodes=%d max_nodes=%d", g.NumNodes(), e.maxNodes)
	}
	return nil
}

// Enumerate returns a single-use sequence of the connected subgraphs of g,
// ordered by size then by mask.  The size check happens before anything is
// yielded.
func (e *Enumerator) Enumerate(g *MolecularGraph) (iter.Seq[Subgraph], error) {
	if err := e.Check(g); err != nil {
		return nil, err
	}
	n := g.NumNodes()
	top := n
	if e.maxSize > 0 && e.maxSize < top {
		top = e.maxSize
	}
	return func(yield func(Subgraph) bool) {
		for k := MinSubgraphSize; k <= top; k++ {
			for mask := range combinations(n, k) {
				if !g.connectedMask(mask) {
					continue
				}
				if !yield(Subgraph{parent: g, mask: mask}) {
					return
				}
			}
		}
	}, nil
}

// Count returns the number of connected subgraphs Enumerate would yield.
func (e *Enumerator) Count(g *MolecularGraph) (int, error) {
	seq, err := e.Enumerate(g)
	if err != nil {
		return 0, err
	}
	count := 0
	for range seq {
		count++
	}
	return count, nil
}

// combinations yields every n-bit mask with exactly k bits set, in
// ascending numeric order (Gosper's hack).
func combinations(n, k int) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if k <= 0 || k > n || n > MaxMaskNodes {
			return
		}
		x := ^uint64(0) >> uint(MaxMaskNodes-k)
		for {
			if n < MaxMaskNodes && x>>uint(n) != 0 {
				return
			}
			if !yield(x) {
				return
			}
			c := x & -x
			r := x + c
			if r == 0 {
				return
			}
			x = (((r ^ x) >> 2) / c) | r
		}
	}
}
