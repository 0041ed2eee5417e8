package molecule

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// refinementRounds is the number of neighborhood refinement passes used for
// node colors.  Three passes separate the label environments that occur in
// small organic fragments.
const refinementRounds = 3

// Invariant is an isomorphism-invariant fingerprint of a labeled graph.
// Isomorphic graphs always share an Invariant; the converse does not hold,
// so equal invariants are only a candidate filter.
type Invariant uint64

// ComputeInvariant hashes node and edge counts together with the sorted
// multiset of refined node colors.  The initial color covers element and
// degree, so element multiset and degree sequence mismatches never collide
// except by hash accident.
func ComputeInvariant(g *MolecularGraph) Invariant {
	colors := nodeColors(g)
	sorted := slices.Clone(colors)
	slices.Sort(sorted)

	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(g.NumNodes()))
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(g.NumEdges()))
	_, _ = d.Write(buf[:])
	for _, c := range sorted {
		binary.LittleEndian.PutUint64(buf[:], c)
		_, _ = d.Write(buf[:])
	}
	return Invariant(d.Sum64())
}

// nodeColors returns refined per-node colors.  Two nodes that an
// isomorphism can map onto each other always end with equal colors.
func nodeColors(g *MolecularGraph) []uint64 {
	n := g.NumNodes()
	colors := make([]uint64, n)
	var buf [8]byte
	for i := 0; i < n; i++ {
		d := xxhash.New()
		_, _ = d.WriteString(g.Element(i))
		binary.LittleEndian.PutUint64(buf[:], uint64(g.Degree(i)))
		_, _ = d.Write(buf[:])
		colors[i] = d.Sum64()
	}

	next := make([]uint64, n)
	var nbr []uint64
	for round := 0; round < refinementRounds; round++ {
		for i := 0; i < n; i++ {
			nbr = nbr[:0]
			for _, j := range g.Neighbors(i) {
				nbr = append(nbr, colors[j])
			}
			slices.Sort(nbr)
			d := xxhash.New()
			binary.LittleEndian.PutUint64(buf[:], colors[i])
			_, _ = d.Write(buf[:])
			for _, c := range nbr {
				binary.LittleEndian.PutUint64(buf[:], c)
				_, _ = d.Write(buf[:])
			}
			next[i] = d.Sum64()
		}
		colors, next = next, colors
	}
	return colors
}
