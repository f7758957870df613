package executor

import "github.com/sail-build/sail/internal/taskgraph"

// EventKind distinguishes a task dispatch event from its completion.
type EventKind int

const (
	TaskStarted EventKind = iota
	TaskFinished
)

// Counts is the running aggregate the progress UI renders: how many of the
// total tasks have landed in each terminal bucket so far.
type Counts struct {
	Total    int
	UpToDate int
	Cached   int
	Built    int
	Failed   int
	Skipped  int
}

func (c *Counts) record(s taskgraph.State) {
	switch s {
	case taskgraph.UpToDate:
		c.UpToDate++
	case taskgraph.CachedHit:
		c.Cached++
	case taskgraph.Succeeded:
		c.Built++
	case taskgraph.Failed:
		c.Failed++
	case taskgraph.Skipped:
		c.Skipped++
	}
}

// Event is emitted once when a task is dispatched (Kind == TaskStarted) and
// once when it reaches a terminal state (Kind == TaskFinished).
type Event struct {
	Kind        EventKind
	TaskID      string
	Outcome     taskgraph.State
	QueueWaitMs int64
	ElapsedMs   int64
	Counts      Counts
}

// ProgressFunc receives every Event a Run produces, in emission order for a
// single task but interleaved across concurrently running tasks.
type ProgressFunc func(Event)
