package molecule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

func annotate(t *testing.T, lib *ReferenceLibrary, opts BuilderOptions, id, notation string) *Molecule {
	t.Helper()
	mol := NewMolecule(mtypes.Record{ID: id, Name: id, Notation: notation})
	g, err := NewGraphBuilder(opts).Build(notation)
	require.NoError(t, err)
	mol.Graph = g
	_, err = NewMatcher(lib, NewEnumerator(0, 0)).Annotate(context.Background(), mol)
	require.NoError(t, err)
	return mol
}

func TestMatcher_EthanolPropane(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{}, libEntry{"PROPANE", "CCC"})

	mol := annotate(t, lib, BuilderOptions{}, "ETHANOL", "CCO")
	assert.Equal(t, []string{"PROPANE"}, mol.Matches())
}

func TestMatcher_SingleAtomHasNoMatches(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{}, libEntry{"PROPANE", "CCC"}, libEntry{"SALT", "[Na+].[Cl-]"})

	mol := annotate(t, lib, BuilderOptions{}, "SODIUM", "[Na+]")
	assert.Empty(t, mol.Matches())
	assert.NotNil(t, mol.Matches())
}

func TestMatcher_Symmetry(t *testing.T) {
	pairs := []struct{ x, y string }{
		{"CCO", "CCC"},
		{"c1ccccc1", "C=C"},
		{"CN", "OCCO"},
		{"[Na+]", "CC"},
	}
	opts := BuilderOptions{HeavyAtomsOnly: true}
	for _, p := range pairs {
		libY := buildLibrary(t, mtypes.MatchShared, opts, libEntry{"Y", p.y})
		libX := buildLibrary(t, mtypes.MatchShared, opts, libEntry{"X", p.x})

		xMatchesY := annotate(t, libY, opts, "X", p.x).HasMatch("Y")
		yMatchesX := annotate(t, libX, opts, "Y", p.y).HasMatch("X")
		assert.Equal(t, xMatchesY, yMatchesX, "%s vs %s", p.x, p.y)
	}
}

func TestMatcher_ExcludesSelf(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{},
		libEntry{"A", "CCO"}, libEntry{"B", "CCC"}, libEntry{"C", "[Na+]"})

	mol := annotate(t, lib, BuilderOptions{}, "A", "CCO")
	assert.Equal(t, []string{"B"}, mol.Matches())
	assert.False(t, mol.HasMatch("A"))
}

func TestMatcher_ContainsMode(t *testing.T) {
	opts := BuilderOptions{HeavyAtomsOnly: true}
	lib := buildLibrary(t, mtypes.MatchContains, opts,
		libEntry{"ETHANE", "CC"}, libEntry{"METHYLAMINE", "CN"}, libEntry{"ETHANOL", "CCO"})

	mol := annotate(t, lib, opts, "Q", "CCCO")
	assert.Equal(t, []string{"ETHANE", "ETHANOL"}, mol.Matches())

	// the library molecule must fit inside the query, not the other way round
	mol = annotate(t, lib, opts, "Q2", "C")
	assert.Empty(t, mol.Matches())
}

func TestMatcher_Matches(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{HeavyAtomsOnly: true}, libEntry{"L", "CO"})
	m := NewMatcher(lib, nil)
	assert.Equal(t, 2, m.Enumerator().MaxSubgraphSize())
	assert.Same(t, lib, m.Library())

	g := pathGraph(t, "C", "O", "C")
	assert.Equal(t, []string{"L"}, m.Matches(NewSubgraph(g, 0b011)))
	assert.Nil(t, m.Matches(NewSubgraph(g, 0b111)))
}

func TestMatcher_AnnotateErrors(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{}, libEntry{"L", "CC"})
	m := NewMatcher(lib, NewEnumerator(10, 0))

	mol := NewMolecule(mtypes.Record{ID: "Q"})
	_, err := m.Annotate(context.Background(), mol)
	assert.True(t, errors.IsCode(err, errors.CodeInternal))

	g, err := NewGraphBuilder(BuilderOptions{}).Build("CCCC")
	require.NoError(t, err)
	mol.Graph = g
	_, err = m.Annotate(context.Background(), mol)
	assert.True(t, errors.IsCode(err, errors.CodeGraphTooLarge))
}

func TestMatcher_AnnotateCancelled(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{}, libEntry{"L", "CC"})
	g, err := NewGraphBuilder(BuilderOptions{}).Build("CCCCCC")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mol := NewMolecule(mtypes.Record{ID: "Q"})
	mol.Graph = g
	stats, err := NewMatcher(lib, NewEnumerator(0, 0)).Annotate(ctx, mol)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCancelled))
	assert.Equal(t, ctxCheckInterval, stats.Subgraphs)
}

func TestMatcher_MatchAllKeepsSelf(t *testing.T) {
	lib := buildLibrary(t, mtypes.MatchShared, BuilderOptions{HeavyAtomsOnly: true},
		libEntry{"A", "CCO"}, libEntry{"B", "CCC"})
	g, err := NewGraphBuilder(BuilderOptions{HeavyAtomsOnly: true}).Build("CCO")
	require.NoError(t, err)

	ids, stats, err := NewMatcher(lib, nil).MatchAll(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
	assert.Equal(t, 3, stats.Subgraphs)
	assert.Equal(t, 2, stats.Matches)
}
