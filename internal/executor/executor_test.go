package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sail-build/sail/internal/cachestore"
	"github.com/sail-build/sail/internal/depgraph"
	"github.com/sail-build/sail/internal/filehash"
	"github.com/sail-build/sail/internal/increment"
	"github.com/sail-build/sail/internal/pkggraph"
	"github.com/sail-build/sail/internal/taskdef"
	"github.com/sail-build/sail/internal/taskgraph"
	"github.com/sail-build/sail/internal/turbopath"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (r *fakeRunner) Run(ctx context.Context, t *taskgraph.Task, pkg *pkggraph.Package) (string, string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, t.ID)
	r.mu.Unlock()
	if r.fail[t.ID] {
		return "", "boom", errors.New("boom")
	}
	return "ok", "", nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// buildTestGraph wires a two-package graph (app depends on lib) with one
// "build" task each, app's build depending on lib's via the `^build` token.
func buildTestGraph(t *testing.T) (*taskgraph.Graph, map[string]*pkggraph.Package) {
	t.Helper()
	lib := &pkggraph.Package{Name: "lib", Dir: turbopath.AbsoluteSystemPath(t.TempDir())}
	app := &pkggraph.Package{Name: "app", Dir: turbopath.AbsoluteSystemPath(t.TempDir()), DependsOn: []string{"lib"}}
	catalog := pkggraph.NewCatalog([]*pkggraph.Package{lib, app})
	packages, err := depgraph.Resolve(catalog, []string{"app", "lib"}, nil)
	require.NoError(t, err)

	defs := map[string]map[string]taskdef.TaskDefinition{
		"app": {"build": {Script: true, DependsOn: []string{"^build"}, Command: "true"}},
		"lib": {"build": {Script: true, Command: "true"}},
	}
	builder := taskgraph.NewBuilder(packages, defs)
	graph, err := builder.Build([]string{"app#build"})
	require.NoError(t, err)

	return graph, map[string]*pkggraph.Package{"app": app, "lib": lib}
}

func testEnv(t *testing.T) increment.Env {
	t.Helper()
	store, err := cachestore.New(turbopath.AbsoluteSystemPath(t.TempDir()), nil)
	require.NoError(t, err)
	return increment.Env{Files: filehash.New(), Cache: store}
}

func TestRun_ExecutesInDependencyOrder(t *testing.T) {
	graph, packages := buildTestGraph(t)
	runner := &fakeRunner{fail: map[string]bool{}}

	status, err := Run(context.Background(), Config{
		Graph:       graph,
		Packages:    packages,
		Runner:      runner,
		Env:         testEnv(t),
		Concurrency: 2,
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	require.Equal(t, Success, status)
	require.Equal(t, taskgraph.Succeeded, graph.Tasks["lib#build"].State())
	require.Equal(t, taskgraph.Succeeded, graph.Tasks["app#build"].State())

	libIdx, appIdx := -1, -1
	for i, id := range runner.calls {
		if id == "lib#build" {
			libIdx = i
		}
		if id == "app#build" {
			appIdx = i
		}
	}
	require.GreaterOrEqual(t, libIdx, 0)
	require.GreaterOrEqual(t, appIdx, 0)
	require.Less(t, libIdx, appIdx)
}

func TestRun_FailurePropagatesToSkipped(t *testing.T) {
	graph, packages := buildTestGraph(t)
	runner := &fakeRunner{fail: map[string]bool{"lib#build": true}}

	status, err := Run(context.Background(), Config{
		Graph:       graph,
		Packages:    packages,
		Runner:      runner,
		Env:         testEnv(t),
		Concurrency: 2,
		MaxAttempts: 1,
	})
	require.Error(t, err)
	require.Equal(t, Failed, status)
	require.Equal(t, taskgraph.Failed, graph.Tasks["lib#build"].State())
	require.Equal(t, taskgraph.Skipped, graph.Tasks["app#build"].State())
}

func TestRun_SecondRunIsUpToDate(t *testing.T) {
	graph, packages := buildTestGraph(t)
	runner := &fakeRunner{fail: map[string]bool{}}
	cfg := Config{
		Graph:       graph,
		Packages:    packages,
		Runner:      runner,
		Env:         testEnv(t),
		Concurrency: 2,
		MaxAttempts: 1,
	}

	status, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, Success, status)
	require.Equal(t, 2, runner.callCount())

	status2, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, UpToDate, status2)
	require.Equal(t, 2, runner.callCount())
	require.Equal(t, taskgraph.UpToDate, graph.Tasks["lib#build"].State())
	require.Equal(t, taskgraph.UpToDate, graph.Tasks["app#build"].State())
}

func TestRun_RetriesFailingCommand(t *testing.T) {
	graph, packages := buildTestGraph(t)
	delete(graph.Tasks, "app#build")
	graph.Tasks["lib#build"].LeafDependencies = nil

	runner := &countingFailNTimesRunner{failFirst: 2}

	status, err := Run(context.Background(), Config{
		Graph:       graph,
		Packages:    packages,
		Runner:      runner,
		Env:         testEnv(t),
		Concurrency: 1,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.Equal(t, Success, status)
	require.Equal(t, 3, runner.attempts)
	require.Equal(t, taskgraph.Succeeded, graph.Tasks["lib#build"].State())
}

type countingFailNTimesRunner struct {
	mu        sync.Mutex
	attempts  int
	failFirst int
}

func (r *countingFailNTimesRunner) Run(ctx context.Context, t *taskgraph.Task, pkg *pkggraph.Package) (string, string, error) {
	r.mu.Lock()
	r.attempts++
	n := r.attempts
	r.mu.Unlock()
	if n <= r.failFirst {
		return "", "transient", errors.New("transient failure")
	}
	return "ok", "", nil
}
