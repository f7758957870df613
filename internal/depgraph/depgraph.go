// Package depgraph walks a package catalog's workspace-dependency edges,
// starting from the packages a user selected, and assigns each reachable
// package a topological level. It is the component the task graph builder
// consults to expand `^name` dependency tokens across package boundaries.
package depgraph

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/sail-build/sail/internal/pkggraph"
)

// Node is one package's position in the dependency graph.
type Node struct {
	Package *pkggraph.Package
	// DependentPackages are the nodes that depend on this node (i.e. the
	// packages that would need to rebuild if this one changes). Named to
	// match the direction a downstream consumer cares about: "which nodes
	// are dependent on me".
	DependentPackages []*Node
	// Dependencies are this node's own workspace dependencies within the
	// graph (after filtering).
	Dependencies []*Node
	// Level is the topological level: 0 for a leaf with no in-graph
	// dependencies, otherwise one greater than the deepest dependency.
	Level int
}

// Graph is the resolved, leveled dependency graph over a set of packages.
type Graph struct {
	Nodes map[string]*Node
}

// CycleError is returned when the workspace dependency edges cannot be
// assigned a finite level — i.e. there is a cycle. It names one full cycle
// path so the user has somewhere concrete to start looking.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	msg := "found a cycle in workspace dependencies: "
	for i, name := range e.Path {
		if i > 0 {
			msg += " -> "
		}
		msg += name
	}
	return msg
}

// Resolve walks catalog from matched, following each package's filtered
// dependency edges, and returns a Graph containing every package
// transitively reachable from matched (matched packages included).
func Resolve(catalog *pkggraph.Catalog, matched []string, filter pkggraph.DependencyFilter) (*Graph, error) {
	nodes := make(map[string]*Node)

	var getNode func(name string) *Node
	getNode = func(name string) *Node {
		if n, ok := nodes[name]; ok {
			return n
		}
		pkg := catalog.Packages[name]
		n := &Node{Package: pkg}
		nodes[name] = n
		return n
	}

	// BFS out from the matched set, wiring dependency/dependent edges as we
	// discover them. Order doesn't matter for correctness here: levels are
	// computed afterwards by a separate topological pass so that BFS
	// discovery order can never produce an incorrect level.
	queue := make([]string, 0, len(matched))
	seen := mapset.NewThreadUnsafeSet()
	for _, name := range matched {
		if _, ok := catalog.Packages[name]; !ok {
			continue
		}
		queue = append(queue, name)
		seen.Add(name)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		pkg := catalog.Packages[name]
		node := getNode(name)

		for _, depName := range catalog.FilteredDependencies(pkg, filter) {
			depNode := getNode(depName)
			node.Dependencies = append(node.Dependencies, depNode)
			depNode.DependentPackages = append(depNode.DependentPackages, node)

			if !seen.Contains(depName) {
				seen.Add(depName)
				queue = append(queue, depName)
			}
		}
	}

	if err := assignLevels(nodes); err != nil {
		return nil, err
	}

	return &Graph{Nodes: nodes}, nil
}

// assignLevels computes each node's topological level with an iterative
// Kahn's-algorithm pass (in-degree over Dependencies edges). Any node left
// unassigned once the frontier is exhausted is part of a cycle; walkCycle
// reconstructs a path through it for the error message.
func assignLevels(nodes map[string]*Node) error {
	remaining := make(map[string]int, len(nodes))
	for name, n := range nodes {
		remaining[name] = len(n.Dependencies)
	}

	level := 0
	assigned := make(map[string]bool, len(nodes))
	for len(assigned) < len(nodes) {
		frontier := make([]string, 0)
		for name, deg := range remaining {
			if !assigned[name] && deg == 0 {
				frontier = append(frontier, name)
			}
		}
		if len(frontier) == 0 {
			return &CycleError{Path: findCycle(nodes, remaining, assigned)}
		}
		for _, name := range frontier {
			nodes[name].Level = level
			assigned[name] = true
		}
		for _, name := range frontier {
			for _, dependent := range nodes[name].DependentPackages {
				remaining[dependent.Package.Name]--
			}
		}
		level++
	}
	return nil
}

// findCycle walks forward through Dependencies from any still-unassigned
// node until a node repeats, producing a concrete path for the diagnostic.
func findCycle(nodes map[string]*Node, remaining map[string]int, assigned map[string]bool) []string {
	var start string
	for name := range remaining {
		if !assigned[name] {
			start = name
			break
		}
	}
	if start == "" {
		return nil
	}

	visited := make(map[string]int)
	path := []string{}
	cur := start
	for {
		if idx, ok := visited[cur]; ok {
			return append(path[idx:], cur)
		}
		visited[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range nodes[cur].Dependencies {
			if !assigned[dep.Package.Name] {
				next = dep.Package.Name
				break
			}
		}
		if next == "" {
			// Shouldn't happen for a genuine cycle, but avoid an infinite loop.
			return path
		}
		cur = next
	}
}
