package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

type libEntry struct {
	id, notation string
}

func buildLibrary(t *testing.T, mode mtypes.MatchMode, opts BuilderOptions, entries ...libEntry) *ReferenceLibrary {
	t.Helper()
	gb := NewGraphBuilder(opts)
	lb, err := NewLibraryBuilder(mode, NewEnumerator(0, 0))
	require.NoError(t, err)
	for _, e := range entries {
		g, err := gb.Build(e.notation)
		require.NoError(t, err)
		require.NoError(t, lb.Add(e.id, e.id+"-name", g))
	}
	lib, err := lb.Build()
	require.NoError(t, err)
	return lib
}

func TestNewLibraryBuilder_InvalidMode(t *testing.T) {
	_, err := NewLibraryBuilder("fuzzy", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidMatchMode))
}

func TestLibraryBuilder_Errors(t *testing.T) {
	lb, err := NewLibraryBuilder(mtypes.MatchShared, nil)
	require.NoError(t, err)

	_, err = lb.Build()
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidLibrary), "empty library")

	g := pathGraph(t, "C", "C")
	assert.True(t, errors.IsCode(lb.Add("", "x", g), errors.ErrCodeInvalidLibrary))
	assert.True(t, errors.IsCode(lb.Add("X", "x", nil), errors.ErrCodeInvalidLibrary))

	require.NoError(t, lb.Add("L1", "x", g))
	assert.True(t, errors.IsCode(lb.Add("L1", "y", g), errors.ErrCodeInvalidLibrary))
	assert.Equal(t, 1, lb.Len())
}

func TestLibraryBuilder_TooLargeEntry(t *testing.T) {
	lb, err := NewLibraryBuilder(mtypes.MatchShared, NewEnumerator(4, 0))
	require.NoError(t, err)
	err = lb.Add("L1", "big", pathGraph(t, "C", "C", "C", "C", "C"))
	assert.True(t, errors.IsCode(err, errors.CodeGraphTooLarge))

	// contains mode never enumerates library graphs
	lc, err := NewLibraryBuilder(mtypes.MatchContains, NewEnumerator(4, 0))
	require.NoError(t, err)
	assert.NoError(t, lc.Add("L1", "big", pathGraph(t, "C", "C", "C", "C", "C")))
}

func TestReferenceLibrary_Accessors(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{HeavyAtomsOnly: true},
		libEntry{"HMDB02", "CCO"}, libEntry{"HMDB01", "CC"})

	assert.Equal(t, []string{"HMDB01", "HMDB02"}, lib.IDs())
	assert.Equal(t, 2, lib.Len())
	assert.Equal(t, mtypes.MatchShared, lib.Mode())
	assert.Equal(t, 3, lib.MaxIndexedSize())
	// C-C, C-O, C-C-O
	assert.Equal(t, 3, lib.ClassCount())

	e, ok := lib.Get("HMDB02")
	require.True(t, ok)
	assert.Equal(t, "HMDB02-name", e.Name)
	assert.Equal(t, 3, e.Graph.NumNodes())

	_, ok = lib.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"HMDB01", "HMDB02"}, lib.lookup(pathGraph(t, "C", "C")))
	assert.Equal(t, []string{"HMDB02"}, lib.lookup(pathGraph(t, "O", "C")))
	assert.Nil(t, lib.lookup(pathGraph(t, "N", "C")))
}

func TestReferenceLibrary_Version(t *testing.T) {
	opts := BuilderOptions{HeavyAtomsOnly: true}
	a := buildLibrary(t, mtypes.MatchShared, opts, libEntry{"A", "CCO"}, libEntry{"B", "CCN"})
	b := buildLibrary(t, mtypes.MatchShared, opts, libEntry{"B", "CCN"}, libEntry{"A", "CCO"})
	c := buildLibrary(t, mtypes.MatchShared, opts, libEntry{"A", "CCO"}, libEntry{"B", "CCC"})
	d := buildLibrary(t, mtypes.MatchContains, opts, libEntry{"A", "CCO"}, libEntry{"B", "CCN"})

	assert.Len(t, a.Version(), 16)
	assert.Equal(t, a.Version(), b.Version(), "insertion order must not matter")
	assert.NotEqual(t, a.Version(), c.Version())
	assert.NotEqual(t, a.Version(), d.Version())
}

func TestLibraryBuilder_PrepareThenAdd(t *testing.T) {
	lb, err := NewLibraryBuilder(mtypes.MatchShared, nil)
	require.NoError(t, err)

	p, err := lb.Prepare("L1", "propane", pathGraph(t, "C", "C", "C"))
	require.NoError(t, err)
	// C-C and C-C-C
	assert.Equal(t, 2, p.Classes())
	assert.Equal(t, 0, lb.Len(), "Prepare must not mutate the builder")

	require.NoError(t, lb.AddPrepared(p))
	lib, err := lb.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, lib.ClassCount())
}
