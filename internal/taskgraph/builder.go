package taskgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pyr-sh/dag"
	"github.com/sail-build/sail/internal/depgraph"
	"github.com/sail-build/sail/internal/taskdef"
)

// CycleError reports a cycle discovered while expanding hard dependsOn
// edges. Unlike before/after edges (which silently collapse to no edge on a
// cycle), a dependsOn cycle is always fatal.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("found a cycle in the task graph: %s", strings.Join(e.Path, " -> "))
}

// Graph is the fully resolved set of tasks for a run: every Task reachable
// from the requested entry points, with dependsOn edges expanded and
// weights computed.
type Graph struct {
	Tasks map[string]*Task // by ID, "pkg#name"
	dag   *dag.AcyclicGraph
}

// Builder instantiates Task objects across a package dependency graph,
// resolving symbolic dependency tokens into concrete edges. Entry points
// seed a work queue, and expanding each task's dependencies may enqueue
// more tasks until the queue drains.
type Builder struct {
	Packages *depgraph.Graph
	// Definitions holds each package's already-resolved TaskDefinition set,
	// keyed by package name.
	Definitions map[string]map[string]taskdef.TaskDefinition
}

// NewBuilder constructs a Builder over a resolved package dependency graph
// and the per-package task definitions taskdef.Resolve produced.
func NewBuilder(packages *depgraph.Graph, definitions map[string]map[string]taskdef.TaskDefinition) *Builder {
	return &Builder{Packages: packages, Definitions: definitions}
}

// Build instantiates every task reachable from the requested (package,
// taskName) entry points, expands dependsOn/before/after edges, attaches
// GroupTask children, computes transitive leaf dependencies, and assigns
// weights.
func (b *Builder) Build(entryPoints []string) (*Graph, error) {
	g := &Graph{
		Tasks: make(map[string]*Task),
		dag:   &dag.AcyclicGraph{},
	}

	queue := append([]string{}, entryPoints...)
	queued := make(map[string]bool)
	for _, id := range queue {
		queued[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if _, ok := g.Tasks[id]; ok {
			continue
		}
		pkgName, taskName := splitTaskID(id)
		node, ok := b.Packages.Nodes[pkgName]
		if !ok {
			return nil, fmt.Errorf("task %q: unknown package %q", id, pkgName)
		}
		def, ok := b.Definitions[pkgName][taskName]
		if !ok {
			// This package has no definition for the task; it is simply
			// absent from the graph, not an error (a workspace package
			// that doesn't implement "lint" is skipped, not failed).
			continue
		}

		t := &Task{
			Package: pkgName,
			Name:    taskName,
			ID:      id,
			Def:     def,
			OwnCost: 1,
		}
		if def.Script {
			t.Kind = KindLeaf
		} else {
			t.Kind = KindGroup
		}
		g.Tasks[id] = t
		g.dag.Add(id)

		for _, childName := range def.Children {
			childID := taskID(pkgName, childName)
			if !queued[childID] {
				queued[childID] = true
				queue = append(queue, childID)
			}
		}

		for _, token := range def.DependsOn {
			depIDs, err := expandToken(token, pkgName, node)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", id, err)
			}
			for _, depID := range depIDs {
				if !queued[depID] {
					queued[depID] = true
					queue = append(queue, depID)
				}
				g.dag.Add(depID)
				g.dag.Connect(dag.BasicEdge(id, depID))
			}
		}
	}

	if err := detectCycle(g); err != nil {
		return nil, err
	}

	wireEdges(g)
	resolveChildren(g)
	if err := attachSoftEdges(g, b); err != nil {
		return nil, err
	}
	computeLeafDependencies(g)
	computeWeights(g)

	return g, nil
}

func splitTaskID(id string) (pkg, task string) {
	idx := strings.Index(id, "#")
	if idx < 0 {
		return id, id
	}
	return id[:idx], id[idx+1:]
}

// expandToken turns one dependsOn token into a set of concrete task IDs:
//   - "name"     -> same package, task "name"
//   - "^name"    -> task "name" in every package this one directly depends on
//   - "pkg#name" -> exactly that task
func expandToken(token, pkgName string, node *depgraph.Node) ([]string, error) {
	switch {
	case strings.HasPrefix(token, "^"):
		name := token[1:]
		var out []string
		for _, dep := range node.Dependencies {
			out = append(out, taskID(dep.Package.Name, name))
		}
		return out, nil
	case strings.Contains(token, "#"):
		return []string{token}, nil
	default:
		return []string{taskID(pkgName, token)}, nil
	}
}

// wireEdges populates Dependencies/Dependents from the dag's recorded edges.
func wireEdges(g *Graph) {
	for id, t := range g.Tasks {
		for dep := range g.dag.DownEdges(id) {
			depID, ok := dep.(string)
			if !ok {
				continue
			}
			depTask, ok := g.Tasks[depID]
			if !ok {
				continue
			}
			t.Dependencies = append(t.Dependencies, depTask)
			depTask.Dependents = append(depTask.Dependents, t)
		}
	}
	for _, t := range g.Tasks {
		sort.Slice(t.Dependencies, func(i, j int) bool { return t.Dependencies[i].ID < t.Dependencies[j].ID })
		sort.Slice(t.Dependents, func(i, j int) bool { return t.Dependents[i].ID < t.Dependents[j].ID })
	}
}

// resolveChildren fills in the nil placeholders left by Build with the
// actual child Task pointers, now that every task has been instantiated.
func resolveChildren(g *Graph) {
	for _, t := range g.Tasks {
		if len(t.Def.Children) == 0 {
			continue
		}
		var resolved []*Task
		for _, childName := range t.Def.Children {
			childID := taskID(t.Package, childName)
			if child, ok := g.Tasks[childID]; ok {
				resolved = append(resolved, child)
			}
		}
		t.Children = resolved
	}
}

// detectCycle walks the dependsOn graph looking for a cycle, using plain DFS
// over DownEdges so the precise diagnostic path is ours to control rather
// than whatever an underlying library's own validation happens to report.
func detectCycle(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Tasks))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		path = append(path, id)
		for dep := range g.dag.DownEdges(id) {
			depID, ok := dep.(string)
			if !ok {
				continue
			}
			switch color[depID] {
			case white:
				if err := visit(depID); err != nil {
					return err
				}
			case gray:
				start := 0
				for i, p := range path {
					if p == depID {
						start = i
						break
					}
				}
				cyclePath := append(append([]string{}, path[start:]...), depID)
				return &CycleError{Path: cyclePath}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	ids := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// attachSoftEdges resolves before/after tokens, including the `*`/`^*`
// wildcards, into additional dependency edges between tasks that already
// exist in the graph. A before/after edge never creates a new task, and if
// adding it would introduce a cycle it is silently dropped rather than
// failing the build.
func attachSoftEdges(g *Graph, b *Builder) error {
	for _, t := range g.Tasks {
		for _, targetID := range softTargets(g, b, t, t.Def.After) {
			if target, ok := g.Tasks[targetID]; ok {
				tryAddSoftEdge(g, t, target)
			}
		}
		for _, targetID := range softTargets(g, b, t, t.Def.Before) {
			if target, ok := g.Tasks[targetID]; ok {
				tryAddSoftEdge(g, target, t)
			}
		}
	}
	return nil
}

// softTargets expands a before/after token list into concrete task IDs,
// given the wildcards `*` (every other task in the same package) and `^*`
// (every task in each package this one directly depends on).
func softTargets(g *Graph, b *Builder, t *Task, tokens []string) []string {
	var out []string
	for _, token := range tokens {
		switch {
		case token == "*":
			for otherID, other := range g.Tasks {
				if other.Package == t.Package && otherID != t.ID {
					out = append(out, otherID)
				}
			}
		case token == "^*":
			node := b.Packages.Nodes[t.Package]
			if node == nil {
				continue
			}
			for _, dep := range node.Dependencies {
				for otherID, other := range g.Tasks {
					if other.Package == dep.Package.Name {
						out = append(out, otherID)
					}
				}
			}
		case strings.HasPrefix(token, "^"):
			name := token[1:]
			node := b.Packages.Nodes[t.Package]
			if node == nil {
				continue
			}
			for _, dep := range node.Dependencies {
				out = append(out, taskID(dep.Package.Name, name))
			}
		case strings.Contains(token, "#"):
			out = append(out, token)
		default:
			out = append(out, taskID(t.Package, token))
		}
	}
	return out
}

// tryAddSoftEdge connects from -> to (meaning "from" runs after "to") if
// doing so does not create a cycle; otherwise it is a no-op. The check is
// done by reachability before mutating the graph, rather than speculatively
// connecting and rolling back, since the underlying DAG doesn't expose an
// edge-removal primitive.
func tryAddSoftEdge(g *Graph, from, to *Task) {
	if from == to {
		return
	}
	for _, existing := range from.Dependencies {
		if existing == to {
			return
		}
	}
	// Connecting from -> to closes a cycle iff "to" can already reach
	// "from" by following existing dependsOn edges.
	if reaches(g, to.ID, from.ID) {
		return
	}
	g.dag.Connect(dag.BasicEdge(from.ID, to.ID))
	from.Dependencies = append(from.Dependencies, to)
	to.Dependents = append(to.Dependents, from)
}

// reaches reports whether target is reachable from start by following
// DownEdges (dependsOn edges).
func reaches(g *Graph, start, target string) bool {
	if start == target {
		return true
	}
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for dep := range g.dag.DownEdges(id) {
			depID, ok := dep.(string)
			if !ok || seen[depID] {
				continue
			}
			if depID == target {
				return true
			}
			seen[depID] = true
			queue = append(queue, depID)
		}
	}
	return false
}

// computeLeafDependencies flattens each task's transitive dependsOn closure
// down to the LeafTask IDs the executor actually schedules, expanding
// through any GroupTask to its children.
func computeLeafDependencies(g *Graph) {
	for _, t := range g.Tasks {
		seen := make(map[string]bool)
		var out []string
		var walk func(dep *Task)
		walk = func(dep *Task) {
			for _, id := range LeafIDsOf(dep) {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
		for _, dep := range t.Dependencies {
			walk(dep)
		}
		sort.Strings(out)
		t.LeafDependencies = out
	}
}

// computeWeights assigns each task's scheduling weight: its own cost plus
// the weight of every task that depends on it directly. This must run in
// reverse topological order — a task's dependents (the things waiting on
// it) have to be finalized before its own weight can be known, so
// processing starts from tasks nothing depends on and flows weight down
// into their dependencies.
func computeWeights(g *Graph) {
	remaining := make(map[string]int, len(g.Tasks))
	var queue []string
	for id, t := range g.Tasks {
		remaining[id] = len(t.Dependents)
		if remaining[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	weight := make(map[string]int, len(g.Tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		t := g.Tasks[id]

		w := t.OwnCost
		for _, dependent := range t.Dependents {
			w += weight[dependent.ID]
		}
		weight[id] = w
		t.Weight = w

		for _, dep := range t.Dependencies {
			remaining[dep.ID]--
			if remaining[dep.ID] == 0 {
				queue = append(queue, dep.ID)
			}
		}
	}
}
