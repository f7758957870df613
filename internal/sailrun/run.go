// Package sailrun ties the seven core components together into the single
// entrypoint the CLI invokes: resolve task definitions, build the package
// and task graphs, wire the incremental/cache environment, and drain the
// result through the executor.
package sailrun

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/sail-build/sail/internal/cachestore"
	"github.com/sail-build/sail/internal/depgraph"
	"github.com/sail-build/sail/internal/executor"
	"github.com/sail-build/sail/internal/filehash"
	"github.com/sail-build/sail/internal/increment"
	"github.com/sail-build/sail/internal/pkggraph"
	"github.com/sail-build/sail/internal/taskdef"
	"github.com/sail-build/sail/internal/taskgraph"
	"github.com/sail-build/sail/internal/turbopath"
)

// cacheBustPrefix marks an environment variable as cache-affecting: any var
// named with this prefix busts the cache the same way a declared input
// file change does, letting a caller force a miss without touching a file.
const cacheBustPrefix = "SAIL_CACHE_BUST"

// cacheAffectingEnv collects the environment variables that influence a
// task's cache key: NODE_ENV (carried for parity with the ecosystem's own
// convention of keying build output on it) and anything prefixed
// SAIL_CACHE_BUST, sorted deterministically by cachestore.ComputeKey itself.
func cacheAffectingEnv(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if name == "NODE_ENV" || strings.HasPrefix(name, cacheBustPrefix) {
			out[name] = value
		}
	}
	return out
}

// baseKeyContext builds the run-wide portion of the cache key: the parts
// that are fixed for every task in this process rather than computed per
// task (those are filled in by the incremental adapter per task: package,
// task name, command, inputs, lockfile hash).
func baseKeyContext() cachestore.CacheKeyInputs {
	return cachestore.CacheKeyInputs{
		RuntimeVersion: runtime.Version(),
		Arch:           runtime.GOARCH,
		Platform:       runtime.GOOS,
		EnvVars:        cacheAffectingEnv(os.Environ()),
	}
}

// Options is the full CLI-facing surface: the core run controls, plus the
// already-resolved package/task configuration that discovery and
// config-file loading (both out of scope here) hand in.
type Options struct {
	Catalog *pkggraph.Catalog

	// GlobalTasks and PackageOverrides are the raw task configuration, one
	// taskdef.Resolve call's worth of input per package. ReleaseGroupRoots
	// flags packages that are a release-group root with no turbo-config of
	// their own (taskdef.Resolve's isUnconfiguredReleaseRoot).
	GlobalTasks       map[string]taskdef.RawOverride
	PackageOverrides  map[string]map[string]taskdef.RawOverride
	ReleaseGroupRoots map[string]bool

	// Tasks are the requested task names.
	Tasks []string
	// MatchedOnly restricts the build to exactly the catalog's matched
	// packages, without pulling in their transitive dependents.
	MatchedOnly bool

	Concurrency int
	// Force bypasses all skip logic: every leaf task reruns.
	Force       bool
	MaxAttempts int

	// CacheDisabled skips opening a shared cache entirely; every task falls
	// back to its local done-file check only.
	CacheDisabled        bool
	CacheRoot            turbopath.AbsoluteSystemPath
	SkipCacheWrite       bool
	VerifyCacheIntegrity bool

	Runner   executor.TaskRunner
	Progress executor.ProgressFunc
	Logger   hclog.Logger
}

// Result is what a Run reports back to the CLI layer.
type Result struct {
	Status executor.Status
}

// Run resolves task definitions for every package in scope, builds the
// task graph from the requested entry points, and drains it through the
// executor. ctx cancellation is honored as the run-wide cancellation
// signal.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	allNames := make([]string, 0, len(opts.Catalog.Packages))
	for name := range opts.Catalog.Packages {
		allNames = append(allNames, name)
	}
	sort.Strings(allNames)

	fullGraph, err := depgraph.Resolve(opts.Catalog, allNames, pkggraph.SameReleaseGroup)
	if err != nil {
		return Result{}, fmt.Errorf("resolving package graph: %w", err)
	}

	matchedSet := opts.Catalog.MatchedSet()
	matchedNames := make([]string, matchedSet.Cardinality())
	for i, m := range matchedSet.ToSlice() {
		matchedNames[i] = m.(string)
	}
	scope := packageScope(fullGraph, matchedNames, opts.MatchedOnly)

	definitions := make(map[string]map[string]taskdef.TaskDefinition, len(allNames))
	for _, name := range allNames {
		pkg := opts.Catalog.Packages[name]
		defs, err := taskdef.Resolve(
			opts.GlobalTasks,
			packageOverridesWithScripts(opts.PackageOverrides[name], pkg.Scripts),
			pkg.Scripts,
			opts.Tasks,
			opts.ReleaseGroupRoots[name],
		)
		if err != nil {
			return Result{}, fmt.Errorf("resolving task definitions for %q: %w", name, err)
		}
		definitions[name] = defs
	}

	entryPoints := make([]string, 0, len(scope)*len(opts.Tasks))
	for _, name := range scope {
		for _, task := range opts.Tasks {
			entryPoints = append(entryPoints, name+"#"+task)
		}
	}

	builder := taskgraph.NewBuilder(fullGraph, definitions)
	graph, err := builder.Build(entryPoints)
	if err != nil {
		return Result{}, fmt.Errorf("building task graph: %w", err)
	}

	var store *cachestore.Store
	if !opts.CacheDisabled {
		store, err = cachestore.New(opts.CacheRoot, opts.Logger)
		if err != nil {
			return Result{}, fmt.Errorf("opening cache store: %w", err)
		}
		store.SkipWrite = opts.SkipCacheWrite
		store.VerifyIntegrity = opts.VerifyCacheIntegrity
	}

	packages := make(map[string]*pkggraph.Package, len(fullGraph.Nodes))
	for name, node := range fullGraph.Nodes {
		packages[name] = node.Package
	}

	runner := opts.Runner
	if runner == nil {
		runner = &executor.ShellRunner{}
	}

	status, err := executor.Run(ctx, executor.Config{
		Graph:       graph,
		Packages:    packages,
		Runner:      runner,
		Env:         increment.Env{Files: filehash.New(), Cache: store, KeyContext: baseKeyContext()},
		Concurrency: opts.Concurrency,
		Force:       opts.Force,
		MaxAttempts: opts.MaxAttempts,
		Progress:    opts.Progress,
		Logger:      opts.Logger,
	})
	return Result{Status: status}, err
}

// packageOverridesWithScripts layers a package's declared script commands
// underneath its explicit task overrides: a script named "build" becomes the
// command for a "build" task unless an override already specifies one, the
// same way a package.json script is the command "turbo run build" invokes
// absent a config-level override.
func packageOverridesWithScripts(overrides map[string]taskdef.RawOverride, scripts map[string]string) map[string]taskdef.RawOverride {
	merged := make(map[string]taskdef.RawOverride, len(overrides)+len(scripts))
	for name, ov := range overrides {
		merged[name] = ov
	}
	for name, command := range scripts {
		ov := merged[name]
		if ov.Command == "" {
			ov.Command = command
		}
		merged[name] = ov
	}
	return merged
}

// packageScope expands matched packages to include their transitive
// dependents, unless matchedOnly restricts the build to exactly the
// matched set.
func packageScope(g *depgraph.Graph, matched []string, matchedOnly bool) []string {
	if matchedOnly {
		out := append([]string{}, matched...)
		sort.Strings(out)
		return out
	}

	seen := make(map[string]bool, len(matched))
	queue := append([]string{}, matched...)
	for _, m := range matched {
		seen[m] = true
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		node, ok := g.Nodes[name]
		if !ok {
			continue
		}
		for _, dependent := range node.DependentPackages {
			dn := dependent.Package.Name
			if !seen[dn] {
				seen[dn] = true
				queue = append(queue, dn)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
