package mod

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDependencyGraphCycles(t *testing.T) {
	graph := NewDependencyGraph()
	graph.AddEdge("a", "b")
	graph.AddEdge("b", "c")
	graph.AddEdge("c", "a")
	graph.AddEdge("x", "y")
	graph.AddEdge("y", "x")
	graph.AddEdge("self", "self")
	graph.AddEdge("d", "a")

	require.Equal(t, [][]string{{"a", "b", "c"}, {"self"}, {"x", "y"}}, graph.Cycles())

	acyclic := NewDependencyGraph()
	acyclic.AddEdge("a", "b")
	acyclic.AddEdge("b", "c")
	require.Empty(t, acyclic.Cycles())
}

func TestDependencyGraphTopologicalSort(t *testing.T) {
	graph := NewDependencyGraph()
	graph.AddEdge("b", "a")
	graph.AddEdge("c", "b")
	graph.AddEdge("c", "a")
	graph.AddNode("z")

	order, err := graph.TopologicalSort()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "z"}, order)

	cyclic := NewDependencyGraph()
	cyclic.AddEdge("a", "b")
	cyclic.AddEdge("b", "a")

	_, err = cyclic.TopologicalSort()
	var cycle ErrCircularDependency
	require.ErrorAs(t, err, &cycle)
	require.Equal(t, []string{"a", "b"}, cycle.Cycle)
}

func TestDependencyGraphUtilities(t *testing.T) {
	graph := NewDependencyGraph()
	graph.AddEdge("minimap", "render_lib")
	graph.AddEdge("minimap", "core_lib")
	graph.AddEdge("render_lib", "core_lib")
	graph.AddEdge("hud", "minimap")

	require.Equal(t, []string{"core_lib", "render_lib"}, graph.GetDependencies("minimap"))
	require.Equal(t, []string{"minimap", "render_lib"}, graph.GetDependents("core_lib"))
	require.Equal(t, []string{"hud", "minimap"}, graph.TransitiveDependents("render_lib"))
	require.True(t, graph.HasNode("minimap"))
	require.False(t, graph.HasNode("missing"))

	trimmed := graph.Without(map[string]struct{}{"minimap": {}})
	require.Equal(t, 3, trimmed.Len())
	require.Empty(t, trimmed.GetDependencies("hud"))
}
