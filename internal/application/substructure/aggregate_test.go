package substructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/subsim/pkg/errors"
)

func resultsFor(t *testing.T, chunks []Chunk) []ChunkResult[[]int] {
	t.Helper()
	out := make([]ChunkResult[[]int], 0, len(chunks))
	for _, c := range chunks {
		vals := make([]int, 0, c.Len())
		for i := c.Start; i <= c.End; i++ {
			vals = append(vals, i)
		}
		out = append(out, ChunkResult[[]int]{Chunk: c, Value: vals})
	}
	return out
}

func TestAggregate_RestoresOrder(t *testing.T) {
	chunks, err := Partition(11, 4)
	require.NoError(t, err)
	results := resultsFor(t, chunks)
	results[0], results[3] = results[3], results[0]
	results[1], results[2] = results[2], results[1]

	out, err := Aggregate(chunks, results)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, out)
}

func TestAggregate_MissingChunk(t *testing.T) {
	chunks, err := Partition(10, 3)
	require.NoError(t, err)
	results := resultsFor(t, chunks)
	results = append(results[:1], results[2:]...)

	_, err = Aggregate(chunks, results)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMissingChunkResult))
	assert.Contains(t, err.Error(), "chunk=1 range=[4, 6]")
}

func TestAggregate_RejectsInconsistentResults(t *testing.T) {
	chunks, err := Partition(6, 2)
	require.NoError(t, err)

	t.Run("duplicate", func(t *testing.T) {
		results := resultsFor(t, chunks)
		results = append(results, results[0])
		_, err := Aggregate(chunks, results)
		assert.True(t, errors.IsCode(err, errors.CodeInternal))
	})
	t.Run("unexpected", func(t *testing.T) {
		results := resultsFor(t, chunks)
		results[1].Chunk.End++
		_, err := Aggregate(chunks, results)
		assert.True(t, errors.IsCode(err, errors.CodeInternal))
	})
	t.Run("size mismatch", func(t *testing.T) {
		results := resultsFor(t, chunks)
		results[0].Value = results[0].Value[:1]
		_, err := Aggregate(chunks, results)
		assert.True(t, errors.IsCode(err, errors.CodeInternal))
	})
}

func TestAggregate_Empty(t *testing.T) {
	out, err := Aggregate[int](nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
