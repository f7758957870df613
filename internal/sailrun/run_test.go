package sailrun

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sail-build/sail/internal/depgraph"
	"github.com/sail-build/sail/internal/executor"
	"github.com/sail-build/sail/internal/pkggraph"
	"github.com/sail-build/sail/internal/taskdef"
	"github.com/sail-build/sail/internal/taskgraph"
	"github.com/sail-build/sail/internal/turbopath"
)

func resolveForTest(catalog *pkggraph.Catalog) (*depgraph.Graph, error) {
	names := make([]string, 0, len(catalog.Packages))
	for name := range catalog.Packages {
		names = append(names, name)
	}
	return depgraph.Resolve(catalog, names, pkggraph.SameReleaseGroup)
}

// recordingRunner is a TaskRunner that records which task IDs it ran, for
// asserting scope expansion without touching a real shell.
type recordingRunner struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordingRunner) Run(ctx context.Context, t *taskgraph.Task, pkg *pkggraph.Package) (string, string, error) {
	r.mu.Lock()
	r.runs = append(r.runs, t.ID)
	r.mu.Unlock()
	return "ok", "", nil
}

func (r *recordingRunner) ran(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run == id {
			return true
		}
	}
	return false
}

// threePackageCatalog builds core <- lib <- app, all in the same release
// group, with core the only package the user matched directly.
func threePackageCatalog(t *testing.T) *pkggraph.Catalog {
	t.Helper()
	core := &pkggraph.Package{
		Name:    "core",
		Dir:     turbopath.AbsoluteSystemPath(t.TempDir()),
		Scripts: map[string]string{"build": "true"},
		Matched: true,
	}
	lib := &pkggraph.Package{
		Name:      "lib",
		Dir:       turbopath.AbsoluteSystemPath(t.TempDir()),
		Scripts:   map[string]string{"build": "true"},
		DependsOn: []string{"core"},
	}
	app := &pkggraph.Package{
		Name:      "app",
		Dir:       turbopath.AbsoluteSystemPath(t.TempDir()),
		Scripts:   map[string]string{"build": "true"},
		DependsOn: []string{"lib"},
	}
	return pkggraph.NewCatalog([]*pkggraph.Package{core, lib, app})
}

func baseOptions(t *testing.T, catalog *pkggraph.Catalog, runner executor.TaskRunner) Options {
	t.Helper()
	return Options{
		Catalog: catalog,
		GlobalTasks: map[string]taskdef.RawOverride{
			"build": {DependsOn: []string{"^build"}},
		},
		Tasks:       []string{"build"},
		Concurrency: 2,
		MaxAttempts: 1,
		CacheRoot:   turbopath.AbsoluteSystemPath(t.TempDir()),
		Runner:      runner,
	}
}

func TestRun_DefaultScopeIncludesTransitiveDependents(t *testing.T) {
	catalog := threePackageCatalog(t)
	runner := &recordingRunner{}
	opts := baseOptions(t, catalog, runner)

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, executor.Success, result.Status)

	require.True(t, runner.ran("core#build"))
	require.True(t, runner.ran("lib#build"))
	require.True(t, runner.ran("app#build"))
}

func TestRun_MatchedOnlyRestrictsScope(t *testing.T) {
	catalog := threePackageCatalog(t)
	runner := &recordingRunner{}
	opts := baseOptions(t, catalog, runner)
	opts.MatchedOnly = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, executor.Success, result.Status)

	require.True(t, runner.ran("core#build"))
	require.False(t, runner.ran("lib#build"))
	require.False(t, runner.ran("app#build"))
}

func TestRun_ForceReRunsEvenWhenUpToDate(t *testing.T) {
	catalog := threePackageCatalog(t)
	runner := &recordingRunner{}
	opts := baseOptions(t, catalog, runner)
	opts.MatchedOnly = true

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, runner.runs, 1)

	opts.Force = true
	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, executor.Success, result.Status)
	require.Len(t, runner.runs, 2)
}

func TestRun_CacheDisabledStillBuilds(t *testing.T) {
	catalog := threePackageCatalog(t)
	runner := &recordingRunner{}
	opts := baseOptions(t, catalog, runner)
	opts.MatchedOnly = true
	opts.CacheDisabled = true

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, executor.Success, result.Status)
	require.True(t, runner.ran("core#build"))
}

func TestPackageScope_MatchedOnlyExcludesDependents(t *testing.T) {
	catalog := threePackageCatalog(t)
	graph, err := resolveForTest(catalog)
	require.NoError(t, err)

	scope := packageScope(graph, []string{"core"}, true)
	require.Equal(t, []string{"core"}, scope)
}

func TestPackageScope_DefaultExpandsToDependents(t *testing.T) {
	catalog := threePackageCatalog(t)
	graph, err := resolveForTest(catalog)
	require.NoError(t, err)

	scope := packageScope(graph, []string{"core"}, false)
	require.Equal(t, []string{"app", "core", "lib"}, scope)
}

func TestCacheAffectingEnv_OnlyKeepsNodeEnvAndCacheBustVars(t *testing.T) {
	env := cacheAffectingEnv([]string{
		"NODE_ENV=production",
		"SAIL_CACHE_BUST_FOO=1",
		"PATH=/usr/bin",
		"HOME=/root",
	})
	require.Equal(t, map[string]string{
		"NODE_ENV":            "production",
		"SAIL_CACHE_BUST_FOO": "1",
	}, env)
}

func TestCacheAffectingEnv_DifferentBustValuesProduceDifferentEnv(t *testing.T) {
	a := cacheAffectingEnv([]string{"SAIL_CACHE_BUST_X=1"})
	b := cacheAffectingEnv([]string{"SAIL_CACHE_BUST_X=2"})
	require.NotEqual(t, a, b)
}

func TestBaseKeyContext_PopulatesRuntimeArchPlatform(t *testing.T) {
	ctx := baseKeyContext()
	require.NotEmpty(t, ctx.RuntimeVersion)
	require.NotEmpty(t, ctx.Arch)
	require.NotEmpty(t, ctx.Platform)
}
