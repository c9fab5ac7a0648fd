// Package executor schedules an execution plan's job DAG (component F):
// jobs are dispatched strictly in topological order, each receiving the
// union of its predecessors' results, with either a sequential or a
// bounded-parallel scheduler.
//
// Grounded on bdcrrm_api/graph_executor.py's CustomizableSelector
// (`max(0, processors - len(running))`) for the Scheduler contract, and on
// scriptweaver/internal/dag/executor.go's mutex-guarded coordinator loop for
// the dispatch/completion bookkeeping.
package executor

import (
	"context"
	"sort"
	"sync"

	"compendium/internal/metrics"
	"compendium/internal/planner"

	"golang.org/x/sync/errgroup"
)

// Status is a job's terminal disposition.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// JobResult is what an Operator reports for a single job. Outputs maps a
// produced file's digest to its local path, forwarded as the executor's
// "previous_output_files" to every direct successor.
type JobResult struct {
	JobID   planner.JobID
	Status  Status
	Outputs map[string]string
	Err     error
}

// Operator executes one job, combining the union of its predecessors'
// results itself; the executor is oblivious to job semantics.
type Operator interface {
	Execute(ctx context.Context, job planner.Job, predecessors []JobResult) JobResult
}

// Scheduler decides, at each tick, which idle jobs to start given the set
// currently running. Implementations must be deterministic for a given
// (running, idle) pair.
type Scheduler interface {
	Select(running, idle []planner.JobID) []planner.JobID
}

// Bounded is a Scheduler admitting at most P jobs in flight at once.
// P == 1 gives sequential execution.
type Bounded struct {
	P int
}

// Select starts as many idle jobs as fit under the P-in-flight bound,
// preserving idle's order (callers should pass idle pre-sorted
// deterministically).
func (b Bounded) Select(running, idle []planner.JobID) []planner.JobID {
	n := b.P - len(running)
	if n <= 0 {
		return nil
	}
	if n > len(idle) {
		n = len(idle)
	}
	return append([]planner.JobID(nil), idle[:n]...)
}

// Sequential returns a Scheduler that runs exactly one job at a time.
func Sequential() Scheduler { return Bounded{P: 1} }

// Parallel returns a Scheduler that allows up to p jobs in flight.
func Parallel(p int) Scheduler {
	if p < 1 {
		p = 1
	}
	return Bounded{P: p}
}

// Mode selects between the two processor modes the original implementation
// exposed as processor_mode ("single"/"multiple"): ModeSequential always
// yields a one-job-at-a-time Scheduler, ModeParallel honors the configured
// bound P.
type Mode string

const (
	ModeSequential Mode = "single"
	ModeParallel   Mode = "multiple"
)

// NewScheduler builds the Scheduler a Mode/P pair describes. P is ignored
// under ModeSequential.
func NewScheduler(mode Mode, p int) Scheduler {
	if mode == ModeParallel {
		return Parallel(p)
	}
	return Sequential()
}

// Executor runs a Plan to completion against an Operator using a Scheduler.
type Executor struct {
	// Metrics is optional; a nil Metrics disables instrumentation entirely.
	Metrics *metrics.Registry
}

// New returns a ready-to-use Executor.
func New() *Executor { return &Executor{} }

type jobState int

const (
	stateIdle jobState = iota
	stateRunning
	stateDone
)

// Run dispatches plan in strict topological order. Within a topological
// level, interleaving is governed entirely by sched. ctx cancellation
// aborts all not-yet-started jobs at the next tick; jobs already running
// are allowed to finish and their results are still collected.
func (e *Executor) Run(ctx context.Context, plan *planner.Plan, op Operator, sched Scheduler) (map[planner.JobID]JobResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	indeg := make(map[planner.JobID]int, len(plan.Jobs))
	successors := make(map[planner.JobID][]planner.JobID, len(plan.Jobs))
	order := make(map[planner.JobID]int, len(plan.Jobs))
	for i, j := range plan.Jobs {
		indeg[j.ID] = 0
		order[j.ID] = i
	}
	for id, preds := range plan.Edges {
		indeg[id] = len(preds)
		for _, p := range preds {
			successors[p] = append(successors[p], id)
		}
	}

	var mu sync.Mutex
	state := make(map[planner.JobID]jobState, len(plan.Jobs))
	for _, j := range plan.Jobs {
		state[j.ID] = stateIdle
	}
	results := make(map[planner.JobID]JobResult, len(plan.Jobs))
	running := map[planner.JobID]struct{}{}
	doneCh := make(chan planner.JobID, len(plan.Jobs))

	var g errgroup.Group

	dispatch := func(id planner.JobID) {
		job, _ := plan.JobByID(id)
		mu.Lock()
		preds := make([]JobResult, 0, len(plan.Edges[id]))
		for _, p := range plan.Edges[id] {
			preds = append(preds, results[p])
		}
		mu.Unlock()

		e.Metrics.RecordJobStart()
		g.Go(func() error {
			res := op.Execute(ctx, job, preds)
			res.JobID = id
			if res.Status == StatusSuccess {
				e.Metrics.RecordJobSuccess()
			} else {
				e.Metrics.RecordJobFailure()
			}

			mu.Lock()
			results[id] = res
			delete(running, id)
			state[id] = stateDone
			for _, succ := range successors[id] {
				indeg[succ]--
			}
			mu.Unlock()

			doneCh <- id
			return nil
		})
	}

	for {
		mu.Lock()
		var idle []planner.JobID
		for _, j := range plan.Jobs {
			if state[j.ID] == stateIdle && indeg[j.ID] == 0 {
				idle = append(idle, j.ID)
			}
		}
		sort.Slice(idle, func(i, k int) bool { return order[idle[i]] < order[idle[k]] })

		runningIDs := make([]planner.JobID, 0, len(running))
		for id := range running {
			runningIDs = append(runningIDs, id)
		}
		sort.Slice(runningIDs, func(i, k int) bool { return order[runningIDs[i]] < order[runningIDs[k]] })

		allDone := len(idle) == 0 && len(running) == 0
		mu.Unlock()
		if allDone {
			break
		}

		cancelled := false
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}

		var toStart []planner.JobID
		if !cancelled {
			toStart = sched.Select(runningIDs, idle)
		}

		if len(toStart) == 0 {
			mu.Lock()
			nothingRunning := len(running) == 0
			mu.Unlock()
			if nothingRunning {
				// Cancelled with nothing left in flight: stop.
				break
			}
			<-doneCh
			continue
		}

		mu.Lock()
		for _, id := range toStart {
			state[id] = stateRunning
			running[id] = struct{}{}
		}
		mu.Unlock()
		for _, id := range toStart {
			dispatch(id)
		}
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}
