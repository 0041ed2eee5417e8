// Package substructure orchestrates similarity runs: it partitions input
// records into chunks, processes chunks on a bounded worker pool against a
// shared read-only reference library, and reassembles the annotated result.
package substructure

import (
	"fmt"

	"github.com/turtacn/subsim/pkg/errors"
)

// Chunk is a contiguous index range [Start, End] (inclusive) of the input.
type Chunk struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of items in the chunk.
func (c Chunk) Len() int { return c.End - c.Start + 1 }

// String implements fmt.Stringer.
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d [%d, %d]", c.Index, c.Start, c.End)
}

// Partition splits total items into contiguous chunks for workers.  The
// worker count is clamped to total.  Chunk sizes differ by at most one: the
// first total%workers chunks carry the extra item.  total == 0 yields no
// chunks.
func Partition(total, workers int) ([]Chunk, error) {
	if workers < 1 {
		return nil, errors.InvalidParam("worker count must be positive").WithDetailf("workers=%d", workers)
	}
	if total < 0 {
		return nil, errors.InvalidParam("total must not be negative").WithDetailf("total=%d", total)
	}
	if total == 0 {
		return []Chunk{}, nil
	}
	if workers > total {
		workers = total
	}

	base, extra := total/workers, total%workers
	chunks := make([]Chunk, 0, workers)
	start := 0
	for i := 0; i < workers; i++ {
		size := base
		if i < extra {
			size++
		}
		chunks = append(chunks, Chunk{Index: i, Start: start, End: start + size - 1})
		start += size
	}
	return chunks, nil
}

// Slice returns the items covered by c.
func Slice[T any](items []T, c Chunk) []T {
	return items[c.Start : c.End+1]
}
