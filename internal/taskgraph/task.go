// Package taskgraph instantiates Task objects for a set of requested task
// names across a package dependency graph, resolving the symbolic
// dependency tokens (`name`, `^name`, `pkg#name`, `*`, `^*`, `...`) into a
// concrete graph, then assigns each task a scheduling weight.
package taskgraph

import (
	"fmt"

	"github.com/sail-build/sail/internal/taskdef"
)

// State is a Task's position in its lifecycle state machine.
type State int

const (
	Pending State = iota
	Ready
	Running
	Succeeded
	Failed
	UpToDate
	CachedHit
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case UpToDate:
		return "up to date"
	case CachedHit:
		return "cached"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Successful reports whether a terminal state counts as "successful" for
// the purposes of unblocking dependents.
func (s State) Successful() bool {
	return s == Succeeded || s == UpToDate || s == CachedHit
}

// Terminal reports whether a state is one the executor will never transition
// out of.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, UpToDate, CachedHit, Skipped:
		return true
	default:
		return false
	}
}

// Kind distinguishes a LeafTask (runs a command) from a GroupTask (succeeds
// iff all its children do). Per the "polymorphism over task kinds" design
// note, this is the only branch point — there is no separate Go type per
// kind, just a field that changes which methods are meaningful.
type Kind int

const (
	KindLeaf Kind = iota
	KindGroup
)

// Task is a single (package, task-name) node in the build graph.
type Task struct {
	Package string
	Name    string
	ID      string // "pkg#name"

	Def  taskdef.TaskDefinition
	Kind Kind

	// Dependencies are this task's direct `dependsOn` edges, after symbolic
	// expansion. Dependents is the reverse: tasks with a direct edge to
	// this one. Both are populated by Builder.Build.
	Dependencies []*Task
	Dependents   []*Task

	// Children holds a GroupTask's fanned-out child LeafTasks/GroupTasks,
	// derived from script parsing. A GroupTask is never itself scheduled;
	// dependents of a group wait on its leaves directly, because
	// LeafDependencies expands through it.
	Children []*Task

	// LeafDependencies is the transitive closure of Dependencies, flattened
	// down to only the schedulable LeafTask IDs (expanding through any
	// GroupTask to its Children).
	LeafDependencies []string

	// Weight is this task's scheduling priority: its own estimated cost
	// plus the weight of everything that depends on it directly.
	Weight int

	// OwnCost is the estimated cost of this task alone, before factoring in
	// dependents. Defaults to 1; task-kind-specific estimators may override
	// it (e.g. a task kind known to be expensive).
	OwnCost int

	state State
}

// State returns the task's current lifecycle state.
func (t *Task) State() State { return t.state }

// SetState transitions the task to a new state. The executor is the only
// caller expected to use this; it is exported so tests can set up fixtures
// without needing a full executor run.
func (t *Task) SetState(s State) { t.state = s }

// IsLeaf reports whether this task runs an actual command.
func (t *Task) IsLeaf() bool { return t.Kind == KindLeaf }

// LeafIDsOf flattens a task to the set of leaf task IDs it represents for
// scheduling purposes: itself if it's a leaf, or the (recursively
// flattened) set of its children if it's a group.
func LeafIDsOf(t *Task) []string {
	if t.Kind == KindLeaf {
		return []string{t.ID}
	}
	seen := make(map[string]bool)
	var out []string
	var walk func(*Task)
	walk = func(g *Task) {
		for _, c := range g.Children {
			if c.Kind == KindLeaf {
				if !seen[c.ID] {
					seen[c.ID] = true
					out = append(out, c.ID)
				}
			} else {
				walk(c)
			}
		}
	}
	walk(t)
	return out
}

// GroupSuccessful reports whether every leaf under a GroupTask reached a
// successful terminal state. Meaningless for a LeafTask.
func GroupSuccessful(t *Task, byID map[string]*Task) bool {
	for _, id := range LeafIDsOf(t) {
		leaf, ok := byID[id]
		if !ok || !leaf.State().Successful() {
			return false
		}
	}
	return true
}

// taskID joins a package name and task name using the same "#" convention
// dependency tokens use, so parsing a dependency token and building an ID
// are the same operation.
func taskID(pkg, name string) string {
	return fmt.Sprintf("%s#%s", pkg, name)
}
