package taskgraph

import (
	"testing"

	"github.com/sail-build/sail/internal/depgraph"
	"github.com/sail-build/sail/internal/pkggraph"
	"github.com/sail-build/sail/internal/taskdef"
	"github.com/stretchr/testify/require"
)

// linearPackages builds a two-package graph: app depends on lib.
func linearPackages(t *testing.T) *depgraph.Graph {
	t.Helper()
	lib := &pkggraph.Package{Name: "lib"}
	app := &pkggraph.Package{Name: "app", DependsOn: []string{"lib"}}
	catalog := pkggraph.NewCatalog([]*pkggraph.Package{lib, app})
	g, err := depgraph.Resolve(catalog, []string{"app", "lib"}, nil)
	require.NoError(t, err)
	return g
}

func buildDefs(build, test taskdef.TaskDefinition) map[string]map[string]taskdef.TaskDefinition {
	return map[string]map[string]taskdef.TaskDefinition{
		"app": {"build": build, "test": test},
		"lib": {"build": build, "test": test},
	}
}

func TestBuild_ExpandsCaretDependency(t *testing.T) {
	packages := linearPackages(t)
	build := taskdef.TaskDefinition{Script: true, DependsOn: []string{"^build"}}
	defs := buildDefs(build, taskdef.TaskDefinition{Script: true})

	builder := NewBuilder(packages, defs)
	graph, err := builder.Build([]string{"app#build"})
	require.NoError(t, err)

	require.Contains(t, graph.Tasks, "app#build")
	require.Contains(t, graph.Tasks, "lib#build")
	require.Equal(t, []string{"lib#build"}, graph.Tasks["app#build"].LeafDependencies)
}

func TestBuild_SamePackageDependency(t *testing.T) {
	packages := linearPackages(t)
	test := taskdef.TaskDefinition{Script: true, DependsOn: []string{"build"}}
	build := taskdef.TaskDefinition{Script: true}
	defs := buildDefs(build, test)

	builder := NewBuilder(packages, defs)
	graph, err := builder.Build([]string{"app#test"})
	require.NoError(t, err)

	require.Equal(t, []string{"app#build"}, graph.Tasks["app#test"].LeafDependencies)
}

func TestBuild_DetectsCycle(t *testing.T) {
	packages := linearPackages(t)
	defs := map[string]map[string]taskdef.TaskDefinition{
		"app": {"build": {Script: true, DependsOn: []string{"app#test"}}},
	}
	defs["app"]["test"] = taskdef.TaskDefinition{Script: true, DependsOn: []string{"app#build"}}

	builder := NewBuilder(packages, defs)
	_, err := builder.Build([]string{"app#build"})
	require.Error(t, err)
	require.IsType(t, &CycleError{}, err)
}

func TestBuild_GroupTaskFansOutToChildren(t *testing.T) {
	packages := linearPackages(t)
	defs := map[string]map[string]taskdef.TaskDefinition{
		"app": {
			"build":       {Script: false, Children: []string{"build:types", "build:js"}},
			"build:types": {Script: true},
			"build:js":    {Script: true},
		},
		"lib": {},
	}

	builder := NewBuilder(packages, defs)
	graph, err := builder.Build([]string{"app#build"})
	require.NoError(t, err)

	group := graph.Tasks["app#build"]
	require.Equal(t, KindGroup, group.Kind)
	require.Len(t, group.Children, 2)

	leaves := LeafIDsOf(group)
	require.ElementsMatch(t, []string{"app#build:types", "app#build:js"}, leaves)
}

func TestBuild_WeightsAccumulateFromDependents(t *testing.T) {
	packages := linearPackages(t)
	build := taskdef.TaskDefinition{Script: true, DependsOn: []string{"^build"}}
	defs := buildDefs(build, taskdef.TaskDefinition{Script: true})

	builder := NewBuilder(packages, defs)
	graph, err := builder.Build([]string{"app#build"})
	require.NoError(t, err)

	// app#build has no dependents -> weight == its own cost (1).
	require.Equal(t, 1, graph.Tasks["app#build"].Weight)
	// lib#build is depended on by app#build -> weight == 1 (own) + 1 (app#build).
	require.Equal(t, 2, graph.Tasks["lib#build"].Weight)
}

func TestBuild_SoftEdgeDroppedOnCycle(t *testing.T) {
	packages := linearPackages(t)
	defs := map[string]map[string]taskdef.TaskDefinition{
		"app": {
			"build": {Script: true, DependsOn: []string{"^build"}, Before: []string{"lib#build"}},
		},
		"lib": {
			"build": {Script: true},
		},
	}

	builder := NewBuilder(packages, defs)
	graph, err := builder.Build([]string{"app#build"})
	require.NoError(t, err)

	// "app#build before lib#build" would contradict the hard "app#build
	// depends on lib#build" edge, so it must be silently dropped rather
	// than reported as a cycle.
	require.NotContains(t, graph.Tasks["lib#build"].LeafDependencies, "app#build")
}
