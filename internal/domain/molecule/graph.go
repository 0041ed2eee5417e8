// Package molecule is the core of the substructure similarity engine: the
// element-labeled molecular graph, its construction from structure notation,
// connected-subgraph enumeration, label-preserving isomorphism, and the
// read-only reference library queried during a run.
package molecule

import (
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"github.com/turtacn/subsim/pkg/errors"
)

// MaxMaskNodes is the largest graph whose node subsets fit a uint64 mask.
const MaxMaskNodes = 64

// ─────────────────────────────────────────────────────────────────────────────
// MolecularGraph
// ─────────────────────────────────────────────────────────────────────────────

// MolecularGraph is an immutable undirected simple graph.  Nodes carry only
// an element symbol; edges carry nothing.  Charge, aromaticity, isotope,
// chirality and bond order never reach this type.
type MolecularGraph struct {
	elements []string
	adj      [][]int  // sorted neighbor lists
	masks    []uint64 // adjacency bitmasks, nil when len(elements) > MaxMaskNodes
	edges    int
}

// NewMolecularGraph validates and constructs a graph.  Edges are unordered
// node index pairs; self-loops, duplicates and out-of-range indices are
// rejected.
func NewMolecularGraph(elements []string, edges [][2]int) (*MolecularGraph, error) {
	n := len(elements)
	g := &MolecularGraph{
		elements: append([]string(nil), elements...),
		adj:      make([][]int, n),
	}
	seen := make(map[[2]int]struct{}, len(edges))
	for _, e := range edges {
		a, b := e[0], e[1]
		if a < 0 || b < 0 || a >= n || b >= n {
			return nil, errors.InvalidParam("edge index out of range").WithDetailf("edge=(%d,%d) nodes=%d", a, b, n)
		}
		if a == b {
			return nil, errors.InvalidParam("self-loop").WithDetailf("node=%d", a)
		}
		if a > b {
			a, b = b, a
		}
		key := [2]int{a, b}
		if _, dup := seen[key]; dup {
			return nil, errors.InvalidParam("duplicate edge").WithDetailf("edge=(%d,%d)", a, b)
		}
		seen[key] = struct{}{}
		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}
	for i := range g.adj {
		sort.Ints(g.adj[i])
	}
	g.edges = len(seen)
	if n <= MaxMaskNodes {
		g.masks = make([]uint64, n)
		for i, nbrs := range g.adj {
			for _, j := range nbrs {
				g.masks[i] |= 1 << uint(j)
			}
		}
	}
	return g, nil
}

// NumNodes returns the node count.
func (g *MolecularGraph) NumNodes() int { return len(g.elements) }

// NumEdges returns the edge count.
func (g *MolecularGraph) NumEdges() int { return g.edges }

// Element returns the element label of node i.
func (g *MolecularGraph) Element(i int) string { return g.elements[i] }

// Degree returns the number of neighbors of node i.
func (g *MolecularGraph) Degree(i int) int { return len(g.adj[i]) }

// Neighbors returns the sorted neighbors of node i.  The slice must not be
// modified.
func (g *MolecularGraph) Neighbors(i int) []int { return g.adj[i] }

// HasEdge reports whether i and j are adjacent.
func (g *MolecularGraph) HasEdge(i, j int) bool {
	if g.masks != nil {
		return g.masks[i]&(1<<uint(j)) != 0
	}
	nbrs := g.adj[i]
	k := sort.SearchInts(nbrs, j)
	return k < len(nbrs) && nbrs[k] == j
}

// Edges returns every edge as (low, high) pairs in ascending order.
func (g *MolecularGraph) Edges() [][2]int {
	out := make([][2]int, 0, g.edges)
	for i, nbrs := range g.adj {
		for _, j := range nbrs {
			if i < j {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}

// Maskable reports whether node subsets of g can be expressed as uint64 masks.
func (g *MolecularGraph) Maskable() bool { return g.masks != nil }

// Connected reports whether the whole graph is connected.  The empty graph
// is not.
func (g *MolecularGraph) Connected() bool {
	n := len(g.elements)
	if n == 0 {
		return false
	}
	seen := make([]bool, n)
	stack := []int{0}
	seen[0] = true
	count := 1
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, w := range g.adj[v] {
			if !seen[w] {
				seen[w] = true
				count++
				stack = append(stack, w)
			}
		}
	}
	return count == n
}

// connectedMask reports whether the node subset mask induces a connected
// subgraph.  g must be Maskable and mask non-zero.
func (g *MolecularGraph) connectedMask(mask uint64) bool {
	seen := mask & -mask
	frontier := seen
	for frontier != 0 {
		var next uint64
		for f := frontier; f != 0; f &= f - 1 {
			next |= g.masks[bits.TrailingZeros64(f)]
		}
		next &= mask &^ seen
		seen |= next
		frontier = next
	}
	return seen == mask
}

// Induce returns the subgraph induced by the nodes in mask, renumbered in
// ascending original index order.
func (g *MolecularGraph) Induce(mask uint64) *MolecularGraph {
	k := bits.OnesCount64(mask)
	index := make(map[int]int, k)
	sub := &MolecularGraph{
		elements: make([]string, 0, k),
		adj:      make([][]int, k),
		masks:    make([]uint64, k),
	}
	for m := mask; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		index[i] = len(sub.elements)
		sub.elements = append(sub.elements, g.elements[i])
	}
	for m := mask; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		a := index[i]
		for nb := g.masks[i] & mask; nb != 0; nb &= nb - 1 {
			b := index[bits.TrailingZeros64(nb)]
			sub.adj[a] = append(sub.adj[a], b)
			sub.masks[a] |= 1 << uint(b)
			if a < b {
				sub.edges++
			}
		}
	}
	return sub
}

// Formula returns the element counts in Hill order: C first, then H, then
// the rest alphabetically.  Without carbon all elements are alphabetical.
func (g *MolecularGraph) Formula() string {
	counts := make(map[string]int)
	for _, e := range g.elements {
		counts[e]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	_, hasC := counts["C"]
	sort.Slice(keys, func(i, j int) bool {
		if hasC {
			ri, rj := hillRank(keys[i]), hillRank(keys[j])
			if ri != rj {
				return ri < rj
			}
		}
		return keys[i] < keys[j]
	})
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		if c := counts[k]; c > 1 {
			sb.WriteString(strconv.Itoa(c))
		}
	}
	return sb.String()
}

func hillRank(e string) int {
	switch e {
	case "C":
		return 0
	case "H":
		return 1
	}
	return 2
}

// String implements fmt.Stringer.
func (g *MolecularGraph) String() string {
	return fmt.Sprintf("MolecularGraph(%s, nodes=%d, edges=%d)", g.Formula(), g.NumNodes(), g.NumEdges())
}
