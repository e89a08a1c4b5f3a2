package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/step"
)

const catalogYAML = `steps:
  snapshot/faostat/2024-01-01/crops.csv: []
  snapshot/demography/2024-01-01/pop.csv: []
  meadow/faostat/2024-01-01/crops:
    - snapshot/faostat/2024-01-01/crops.csv
  garden/faostat/2024-01-01/crops:
    - meadow/faostat/2024-01-01/crops
    - garden/demography/2024-01-01/pop
  garden/demography/2024-01-01/pop:
    - snapshot/demography/2024-01-01/pop.csv
  grapher/faostat/2024-01-01/crops:
    - garden/faostat/2024-01-01/crops
`

func selectionGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := buildFromYAML(t, catalogYAML)
	require.NoError(t, err)
	return g
}

func TestSelect_NoPatternsSelectsAll(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, nil, SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, g.Len(), sel.Steps.Len())
	require.Equal(t, g.Len(), sel.Matched.Len())
}

func TestSelect_GlobPattern(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, []string{"garden/**"}, SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, []step.ID{
		step.MustParse("garden/demography/2024-01-01/pop"),
		step.MustParse("garden/faostat/2024-01-01/crops"),
	}, sel.Steps.Sorted())
}

func TestSelect_SubstringPattern(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, []string{"demography"}, SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, []step.ID{
		step.MustParse("garden/demography/2024-01-01/pop"),
		step.MustParse("snapshot/demography/2024-01-01/pop.csv"),
	}, sel.Steps.Sorted())
}

func TestSelect_ExactRequiresFullURI(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, []string{"garden/faostat/2024-01-01/crops"}, SelectOptions{Exact: true})
	require.NoError(t, err)
	require.Equal(t,
		[]step.ID{step.MustParse("garden/faostat/2024-01-01/crops")},
		sel.Steps.Sorted())

	// A substring is not an exact match.
	sel, err = Select(g, []string{"faostat"}, SelectOptions{Exact: true})
	require.NoError(t, err)
	require.Equal(t, 0, sel.Steps.Len())
}

func TestSelect_IncludeDependencies(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, []string{"garden/faostat/2024-01-01/crops"},
		SelectOptions{Exact: true, IncludeDependencies: true})
	require.NoError(t, err)

	require.Equal(t, []step.ID{
		step.MustParse("garden/demography/2024-01-01/pop"),
		step.MustParse("garden/faostat/2024-01-01/crops"),
		step.MustParse("meadow/faostat/2024-01-01/crops"),
		step.MustParse("snapshot/demography/2024-01-01/pop.csv"),
		step.MustParse("snapshot/faostat/2024-01-01/crops.csv"),
	}, sel.Steps.Sorted())

	// Matched stays narrow even when Steps expands.
	require.Equal(t,
		[]step.ID{step.MustParse("garden/faostat/2024-01-01/crops")},
		sel.Matched.Sorted())
}

func TestSelect_IncludeDependents(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, []string{"snapshot/faostat/2024-01-01/crops.csv"},
		SelectOptions{Exact: true, IncludeDependents: true})
	require.NoError(t, err)

	require.Equal(t, []step.ID{
		step.MustParse("garden/faostat/2024-01-01/crops"),
		step.MustParse("grapher/faostat/2024-01-01/crops"),
		step.MustParse("meadow/faostat/2024-01-01/crops"),
		step.MustParse("snapshot/faostat/2024-01-01/crops.csv"),
	}, sel.Steps.Sorted())
}

func TestSelect_ExcludePatterns(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, nil, SelectOptions{ExcludePatterns: []string{"grapher/**"}})
	require.NoError(t, err)
	require.Equal(t, g.Len()-1, sel.Steps.Len())
	require.False(t, sel.Steps.Contains(step.MustParse("grapher/faostat/2024-01-01/crops")))
}

func TestSelect_StrictNoMatch(t *testing.T) {
	g := selectionGraph(t)

	_, err := Select(g, []string{"nosuchthing"}, SelectOptions{Strict: true})
	require.Error(t, err)

	var nm *NoMatchError
	require.True(t, errors.As(err, &nm))
	require.Equal(t, "nosuchthing", nm.Pattern)
}

func TestSelect_LenientNoMatchYieldsEmpty(t *testing.T) {
	g := selectionGraph(t)

	sel, err := Select(g, []string{"nosuchthing"}, SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, sel.Steps.Len())
}
