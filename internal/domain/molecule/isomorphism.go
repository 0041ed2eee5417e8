package molecule

import "slices"

// Isomorphic reports whether a node bijection between a and b preserves
// both adjacency and element labels.  Cheap invariants (node and edge
// counts, refined color multiset) reject most non-isomorphic pairs before
// the backtracking search runs.
func Isomorphic(a, b *MolecularGraph) bool {
	if a == b {
		return true
	}
	if a.NumNodes() != b.NumNodes() || a.NumEdges() != b.NumEdges() {
		return false
	}
	n := a.NumNodes()
	if n == 0 {
		return true
	}

	ca, cb := nodeColors(a), nodeColors(b)
	sa, sb := slices.Clone(ca), slices.Clone(cb)
	slices.Sort(sa)
	slices.Sort(sb)
	if !slices.Equal(sa, sb) {
		return false
	}

	s := &isoState{
		a: a, b: b, ca: ca, cb: cb,
		order:  matchOrder(a, ca),
		mapAB:  make([]int, n),
		usedB:  make([]bool, n),
		placed: make([]bool, n),
	}
	for i := range s.mapAB {
		s.mapAB[i] = -1
	}
	return s.extend(0)
}

type isoState struct {
	a, b   *MolecularGraph
	ca, cb []uint64
	order  []int
	mapAB  []int
	usedB  []bool
	placed []bool
}

func (s *isoState) extend(depth int) bool {
	if depth == len(s.order) {
		return true
	}
	u := s.order[depth]

	// Restrict candidates to the neighborhood of an already mapped neighbor.
	var candidates []int
	anchored := false
	for _, w := range s.a.Neighbors(u) {
		if s.placed[w] {
			candidates = s.b.Neighbors(s.mapAB[w])
			anchored = true
			break
		}
	}
	if !anchored {
		candidates = nil
		for v := 0; v < s.b.NumNodes(); v++ {
			candidates = append(candidates, v)
		}
	}

	for _, v := range candidates {
		if s.usedB[v] || s.ca[u] != s.cb[v] || !s.consistent(u, v, depth) {
			continue
		}
		s.mapAB[u], s.usedB[v], s.placed[u] = v, true, true
		if s.extend(depth + 1) {
			return true
		}
		s.mapAB[u], s.usedB[v], s.placed[u] = -1, false, false
	}
	return false
}

// consistent checks that u→v agrees with every pair already placed.
func (s *isoState) consistent(u, v, depth int) bool {
	for _, w := range s.order[:depth] {
		if s.a.HasEdge(u, w) != s.b.HasEdge(v, s.mapAB[w]) {
			return false
		}
	}
	return true
}

// matchOrder picks a visiting order for a: start from the rarest color and
// grow through nodes with the most already-ordered neighbors, so each new
// node is constrained as early as possible.
func matchOrder(g *MolecularGraph, colors []uint64) []int {
	n := g.NumNodes()
	freq := make(map[uint64]int, n)
	for _, c := range colors {
		freq[c]++
	}
	in := make([]bool, n)
	links := make([]int, n)
	order := make([]int, 0, n)
	for len(order) < n {
		best := -1
		for v := 0; v < n; v++ {
			if in[v] {
				continue
			}
			if best < 0 ||
				links[v] > links[best] ||
				links[v] == links[best] && freq[colors[v]] < freq[colors[best]] ||
				links[v] == links[best] && freq[colors[v]] == freq[colors[best]] && g.Degree(v) > g.Degree(best) {
				best = v
			}
		}
		in[best] = true
		order = append(order, best)
		for _, w := range g.Neighbors(best) {
			links[w]++
		}
	}
	return order
}
