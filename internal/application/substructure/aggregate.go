package substructure

import (
	"github.com/turtacn/subsim/pkg/errors"
)

// Aggregate concatenates per-chunk outputs in chunk order, restoring the
// original item order whatever order results arrived in.  Every expected
// chunk must be present exactly once and carry one output per item.
func Aggregate[T any](expected []Chunk, results []ChunkResult[[]T]) ([]T, error) {
	byIndex := make(map[int]ChunkResult[[]T], len(results))
	for _, r := range results {
		if r.Chunk.Index < 0 || r.Chunk.Index >= len(expected) || expected[r.Chunk.Index] != r.Chunk {
			return nil, errors.Internal("unexpected chunk result").WithDetail(r.Chunk.String())
		}
		if _, dup := byIndex[r.Chunk.Index]; dup {
			return nil, errors.Internal("duplicate chunk result").WithDetail(r.Chunk.String())
		}
		if len(r.Value) != r.Chunk.Len() {
			return nil, errors.Internal("chunk result size mismatch").
				WithDetailf("%s items=%d", r.Chunk, len(r.Value))
		}
		byIndex[r.Chunk.Index] = r
	}

	total := 0
	for _, c := range expected {
		if _, ok := byIndex[c.Index]; !ok {
			return nil, errors.New(errors.CodeMissingChunkResult, "chunk result missing").
				WithDetailf("chunk=%d range=[%d, %d]", c.Index, c.Start, c.End)
		}
		total += c.Len()
	}

	out := make([]T, 0, total)
	for _, c := range expected {
		out = append(out, byIndex[c.Index].Value...)
	}
	return out, nil
}
