package mod

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// DependencyGraph holds "depends on" edges between mod ids.
type DependencyGraph struct {
	nodes    map[string]struct{}
	incoming map[string]map[string]struct{}
	outgoing map[string]map[string]struct{}
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]struct{}),
		incoming: make(map[string]map[string]struct{}),
		outgoing: make(map[string]map[string]struct{}),
	}
}

// AddNode ensures the mod exists within the graph.
func (g *DependencyGraph) AddNode(id string) {
	if _, exists := g.nodes[id]; exists {
		return
	}
	g.nodes[id] = struct{}{}
	g.incoming[id] = make(map[string]struct{})
	g.outgoing[id] = make(map[string]struct{})
}

// AddEdge records that dependent depends on dependency.
func (g *DependencyGraph) AddEdge(dependent, dependency string) {
	g.AddNode(dependent)
	g.AddNode(dependency)

	g.outgoing[dependent][dependency] = struct{}{}
	g.incoming[dependency][dependent] = struct{}{}
}

// HasNode reports if the node exists in the graph.
func (g *DependencyGraph) HasNode(id string) bool {
	if g == nil {
		return false
	}
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}

// GetDependencies returns the sorted direct dependencies of id.
func (g *DependencyGraph) GetDependencies(id string) []string {
	return sortedKeys(g.outgoing[id])
}

// GetDependents returns the sorted mods that directly depend on id.
func (g *DependencyGraph) GetDependents(id string) []string {
	return sortedKeys(g.incoming[id])
}

// TransitiveDependents returns every mod that reaches one of roots through
// dependency edges, excluding the roots themselves, in sorted order.
func (g *DependencyGraph) TransitiveDependents(roots ...string) []string {
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		seen[root] = struct{}{}
	}

	queue := append([]string{}, roots...)
	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range g.GetDependents(current) {
			if _, ok := seen[dependent]; ok {
				continue
			}
			seen[dependent] = struct{}{}
			result = append(result, dependent)
			queue = append(queue, dependent)
		}
	}
	slices.Sort(result)
	return result
}

// Cycles returns every dependency cycle as a sorted list of members, using
// Tarjan's strongly connected components. A self-dependency is a cycle of one.
// Cycles are ordered by their first member.
func (g *DependencyGraph) Cycles() [][]string {
	index := 0
	indices := make(map[string]int, len(g.nodes))
	lowlink := make(map[string]int, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	var stack []string
	var cycles [][]string

	var strongConnect func(node string)
	strongConnect = func(node string) {
		indices[node] = index
		lowlink[node] = index
		index++
		stack = append(stack, node)
		onStack[node] = true

		for _, dependency := range g.GetDependencies(node) {
			if _, visited := indices[dependency]; !visited {
				strongConnect(dependency)
				lowlink[node] = min(lowlink[node], lowlink[dependency])
			} else if onStack[dependency] {
				lowlink[node] = min(lowlink[node], indices[dependency])
			}
		}

		if lowlink[node] != indices[node] {
			return
		}

		var component []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == node {
				break
			}
		}

		_, selfLoop := g.outgoing[node][node]
		if len(component) > 1 || selfLoop {
			slices.Sort(component)
			cycles = append(cycles, component)
		}
	}

	for _, node := range g.sortedNodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	slices.SortFunc(cycles, func(a, b []string) int { return cmp.Compare(a[0], b[0]) })
	return cycles
}

// TopologicalSort returns nodes in dependency order (dependencies first).
// Nodes that become ready at the same time are taken in lexical order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	pending := make(map[string]int, len(g.nodes))
	var ready []string
	for _, node := range g.sortedNodes() {
		if n := len(g.outgoing[node]); n > 0 {
			pending[node] = n
			continue
		}
		ready = append(ready, node)
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for dependent := range g.incoming[next] {
			pending[dependent]--
			if pending[dependent] > 0 {
				continue
			}
			delete(pending, dependent)
			at, _ := slices.BinarySearch(ready, dependent)
			ready = slices.Insert(ready, at, dependent)
		}
	}

	if len(pending) > 0 {
		if cycles := g.Cycles(); len(cycles) > 0 {
			return nil, ErrCircularDependency{Cycle: cycles[0]}
		}
		return nil, fmt.Errorf("dependency graph has %d unresolved nodes", len(pending))
	}
	return order, nil
}

// Without returns a copy of the graph with the given nodes and their edges removed.
func (g *DependencyGraph) Without(excluded map[string]struct{}) *DependencyGraph {
	out := NewDependencyGraph()
	for node := range g.nodes {
		if _, skip := excluded[node]; skip {
			continue
		}
		out.AddNode(node)
		for dependency := range g.outgoing[node] {
			if _, skip := excluded[dependency]; skip {
				continue
			}
			out.AddEdge(node, dependency)
		}
	}
	return out
}

func (g *DependencyGraph) sortedNodes() []string {
	return sortedKeys(g.nodes)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}
