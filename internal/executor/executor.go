// Package executor drains a built task graph: a single priority queue of
// ready leaf tasks feeds a bounded pool of workers, each of which consults
// the incremental/cache adapter before (and after) actually running a
// task's command, retrying transient command failures, and propagating
// failure to everything downstream.
package executor

import (
	"container/heap"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/sail-build/sail/internal/increment"
	"github.com/sail-build/sail/internal/pkggraph"
	"github.com/sail-build/sail/internal/taskgraph"
	"github.com/sail-build/sail/internal/util"
)

// Status is the overall build result, matching the CLI's exit-status
// contract: a run either built something, found everything already done,
// or hit a failure.
type Status int

const (
	Success Status = iota
	UpToDate
	Failed
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case UpToDate:
		return "up to date"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config wires a Run: the resolved graph and the packages it spans, the
// command runner, the incremental/cache environment, and the scheduling
// knobs (concurrency, force, retry count).
type Config struct {
	Graph       *taskgraph.Graph
	Packages    map[string]*pkggraph.Package
	Runner      TaskRunner
	Env         increment.Env
	Concurrency int
	// Force bypasses all skip logic: every leaf task runs regardless of its
	// done-file or the shared cache.
	Force bool
	// MaxAttempts bounds command retries. <= 1 means no retry.
	MaxAttempts int
	Progress    ProgressFunc
	Logger      hclog.Logger
}

// Run drains cfg.Graph to completion and reports the overall status.
func Run(ctx context.Context, cfg Config) (Status, error) {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	leaves := schedulableLeaves(cfg.Graph)
	remaining, dependents := dependencyCounts(leaves)

	pq := &priorityQueue{}
	heap.Init(pq)
	queuedAt := make(map[string]time.Time, len(leaves))

	for _, t := range leaves {
		if remaining[t.ID] == 0 {
			t.SetState(taskgraph.Ready)
			queuedAt[t.ID] = time.Now()
			heap.Push(pq, t)
		}
	}

	var (
		mu       sync.Mutex
		cond     = sync.NewCond(&mu)
		inFlight int
		counts   = Counts{Total: len(leaves)}
		firstErr error
		wg       sync.WaitGroup
	)
	sem := util.NewSemaphore(cfg.Concurrency)

	emit := func(ev Event) {
		if cfg.Progress != nil {
			cfg.Progress(ev)
		}
	}

	for {
		mu.Lock()
		for pq.Len() == 0 && inFlight > 0 {
			cond.Wait()
		}
		if pq.Len() == 0 {
			mu.Unlock()
			break
		}
		t := heap.Pop(pq).(*taskgraph.Task)
		waitStart := queuedAt[t.ID]
		inFlight++
		mu.Unlock()

		wg.Add(1)
		go func(t *taskgraph.Task, waitStart time.Time) {
			defer wg.Done()
			sem.Acquire()
			defer sem.Release()

			queueWait := time.Since(waitStart)
			emit(Event{Kind: TaskStarted, TaskID: t.ID, QueueWaitMs: queueWait.Milliseconds()})

			start := time.Now()
			if ctx.Err() != nil {
				t.SetState(taskgraph.Skipped)
			} else {
				t.SetState(taskgraph.Running)
				runTask(ctx, cfg, t)
			}
			elapsed := time.Since(start)

			mu.Lock()
			inFlight--
			counts.record(t.State())
			emit(Event{
				Kind:        TaskFinished,
				TaskID:      t.ID,
				Outcome:     t.State(),
				QueueWaitMs: queueWait.Milliseconds(),
				ElapsedMs:   elapsed.Milliseconds(),
				Counts:      counts,
			})

			if !t.State().Successful() {
				if firstErr == nil && t.State() == taskgraph.Failed {
					firstErr = errors.Errorf("task %s failed", t.ID)
				}
				propagateSkip(t, dependents, cfg.Graph, &counts, emit)
			} else {
				for _, depID := range dependents[t.ID] {
					remaining[depID]--
					if remaining[depID] == 0 {
						dep := cfg.Graph.Tasks[depID]
						dep.SetState(taskgraph.Ready)
						queuedAt[dep.ID] = time.Now()
						heap.Push(pq, dep)
					}
				}
			}
			cond.Broadcast()
			mu.Unlock()
		}(t, waitStart)
	}

	wg.Wait()

	if firstErr != nil {
		return Failed, firstErr
	}
	if counts.Built == 0 && counts.Failed == 0 && counts.Skipped == 0 {
		return UpToDate, nil
	}
	return Success, nil
}

// runTask runs the full per-task lifecycle: incremental check, command
// execution with retry on failure, and finalize-on-success. It always
// leaves t in a terminal state.
func runTask(ctx context.Context, cfg Config, t *taskgraph.Task) {
	pkg, ok := cfg.Packages[t.Package]
	if !ok {
		cfg.Logger.Error("unknown package for task", "task", t.ID, "package", t.Package)
		t.SetState(taskgraph.Failed)
		return
	}

	adapter := &increment.Adapter{
		Env:          cfg.Env,
		PackageDir:   pkg.Dir,
		LockfilePath: pkg.LockfilePath,
		TaskName:     t.Name,
		Def:          t.Def,
	}
	depHash := dependencyFingerprint(cfg.Graph, cfg.Packages, t)

	var (
		result increment.CheckResult
		err    error
	)
	if cfg.Force {
		result, err = adapter.ForceCheck(depHash, t.Def.Command)
	} else {
		result, err = adapter.Check(depHash, t.Def.Command)
	}
	if err != nil {
		cfg.Logger.Error("incremental check failed", "task", t.ID, "error", err)
		t.SetState(taskgraph.Failed)
		return
	}

	switch result.Outcome {
	case increment.UpToDate:
		t.SetState(taskgraph.UpToDate)
		return
	case increment.CachedHit:
		t.SetState(taskgraph.CachedHit)
		return
	}

	start := time.Now()
	stdout, stderr, runErr := runWithRetry(ctx, cfg, t, pkg)
	elapsedMs := time.Since(start).Milliseconds()

	if runErr != nil {
		cfg.Logger.Error("task command failed", "task", t.ID, "error", runErr)
		t.SetState(taskgraph.Failed)
		return
	}

	if err := adapter.Finalize(result, stdout, stderr, elapsedMs); err != nil {
		cfg.Logger.Warn("finalize failed, task result will not be cached", "task", t.ID, "error", err)
	}
	t.SetState(taskgraph.Succeeded)
}

// runWithRetry runs a leaf task's command, retrying up to
// cfg.MaxAttempts-1 additional times on a non-nil error. Retries stop
// immediately once the context is cancelled.
func runWithRetry(ctx context.Context, cfg Config, t *taskgraph.Task, pkg *pkggraph.Package) (string, string, error) {
	var stdout, stderr string
	attempt := 0
	op := func() error {
		attempt++
		var err error
		stdout, stderr, err = cfg.Runner.Run(ctx, t, pkg)
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.MaxAttempts-1))
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err != nil && attempt > 1 {
		cfg.Logger.Warn("task command failed after retries", "task", t.ID, "attempts", attempt)
	}
	return stdout, stderr, err
}

// schedulableLeaves returns every LeafTask in the graph; GroupTasks are
// never directly scheduled, only derived via GroupSuccessful.
func schedulableLeaves(g *taskgraph.Graph) []*taskgraph.Task {
	leaves := make([]*taskgraph.Task, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		if t.IsLeaf() {
			leaves = append(leaves, t)
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].ID < leaves[j].ID })
	return leaves
}

// dependencyCounts builds the scheduling adjacency over leaf tasks only:
// how many of each leaf's (already-flattened) dependencies remain
// unresolved, and the reverse edges needed to notify dependents.
func dependencyCounts(leaves []*taskgraph.Task) (remaining map[string]int, dependents map[string][]string) {
	remaining = make(map[string]int, len(leaves))
	dependents = make(map[string][]string)
	for _, t := range leaves {
		remaining[t.ID] = len(t.LeafDependencies)
		for _, depID := range t.LeafDependencies {
			dependents[depID] = append(dependents[depID], t.ID)
		}
	}
	return remaining, dependents
}

// propagateSkip marks every transitive dependent of an unsuccessful task as
// Skipped, stopping at anything already terminal (a dependent may have
// multiple failed ancestors; only the first one to reach it does the work).
func propagateSkip(t *taskgraph.Task, dependents map[string][]string, g *taskgraph.Graph, counts *Counts, emit func(Event)) {
	queue := append([]string{}, dependents[t.ID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		dep := g.Tasks[id]
		if dep.State().Terminal() {
			continue
		}
		dep.SetState(taskgraph.Skipped)
		counts.record(taskgraph.Skipped)
		emit(Event{Kind: TaskFinished, TaskID: dep.ID, Outcome: taskgraph.Skipped, Counts: *counts})
		queue = append(queue, dependents[dep.ID]...)
	}
}

// dependencyFingerprint combines the post-execution fingerprints of a
// task's direct dependencies into the single depHash its own incremental
// check is compared against.
func dependencyFingerprint(g *taskgraph.Graph, packages map[string]*pkggraph.Package, t *taskgraph.Task) string {
	if len(t.Dependencies) == 0 {
		return ""
	}
	fps := make(map[string]string, len(t.Dependencies))
	ids := make([]string, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		ids = append(ids, dep.ID)
		pkg := packages[dep.Package]
		if dep.Kind == taskgraph.KindGroup {
			children := taskgraph.LeafIDsOf(dep)
			childFPs := make([]string, len(children))
			for i, cid := range children {
				leaf := g.Tasks[cid]
				childFPs[i] = increment.DependencyFingerprint(packages[leaf.Package].Dir, leaf.Name, false, nil)
			}
			fps[dep.ID] = increment.DependencyFingerprint(pkg.Dir, dep.Name, true, childFPs)
		} else {
			fps[dep.ID] = increment.DependencyFingerprint(pkg.Dir, dep.Name, false, nil)
		}
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(fps[id])
		b.WriteByte(';')
	}
	return b.String()
}
