package cli

import (
	"context"

	"compendium/internal/compendium"
	"compendium/internal/errcode"
	"compendium/internal/executor"
	"compendium/internal/indexer"
	"compendium/internal/planner"
)

// RunOutput is what the run subcommand reports.
type RunOutput struct {
	Command []string             `json:"command"`
	Results map[string]JobReport `json:"results"`
}

// JobReport is one job's outcome, flattened for printing.
type JobReport struct {
	Status  executor.Status   `json:"status"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func reportOf(results map[planner.JobID]executor.JobResult) map[string]JobReport {
	out := make(map[string]JobReport, len(results))
	for id, r := range results {
		jr := JobReport{Status: r.Status, Outputs: r.Outputs}
		if r.Err != nil {
			jr.Error = r.Err.Error()
		}
		out[string(id)] = jr
	}
	return out
}

// runAll executes plan to completion against rt's operator/scheduler, then
// persists the resulting index state.
func (rt *Runtime) runAll(ctx context.Context, plan *planner.Plan) (map[planner.JobID]executor.JobResult, error) {
	ex := &executor.Executor{Metrics: rt.Metrics}
	results, err := ex.Run(ctx, plan, &operator{rt: rt}, rt.scheduler())
	if perr := rt.persist(); perr != nil && err == nil {
		err = perr
	}
	return results, err
}

// Run traces argv as a brand-new command, indexes the resulting compendium,
// and persists the updated graph (spec.md §4.E plan_run + §4.F executor).
func (rt *Runtime) Run(ctx context.Context, argv []string) (*RunOutput, error) {
	plan, err := planner.PlanRun(rt.Index, argv)
	if err != nil {
		return nil, err
	}
	results, err := rt.runAll(ctx, plan)
	if err != nil {
		return nil, err
	}
	return &RunOutput{Command: argv, Results: reportOf(results)}, nil
}

// Rerun re-traces every OUTDATED vertex's recorded command (spec.md §4.E
// plan_rerun). Returns an empty RunOutput if nothing was OUTDATED.
func (rt *Runtime) Rerun(ctx context.Context) (*RunOutput, error) {
	plan, err := planner.PlanRerun(rt.Index)
	if err != nil {
		return nil, err
	}
	rt.logger().Printf("rerun: %d outdated vertex(es) selected", len(plan.Jobs))
	results, err := rt.runAll(ctx, plan)
	if err != nil {
		return nil, err
	}
	return &RunOutput{Results: reportOf(results)}, nil
}

// Reproduce replays every indexed vertex's sealed bundle inside a sandbox
// (spec.md §4.E plan_reproduce + §4.G sandbox driver), confirming the whole
// graph reproduces from its bundles alone.
func (rt *Runtime) Reproduce(ctx context.Context) (*RunOutput, error) {
	plan, err := planner.PlanReproduce(rt.Index)
	if err != nil {
		return nil, err
	}
	rt.logger().Printf("reproduce: %d vertex(es) selected", len(plan.Jobs))
	results, err := rt.runAll(ctx, plan)
	if err != nil {
		return nil, err
	}
	return &RunOutput{Results: reportOf(results)}, nil
}

// Remake is bdcrrm_api/engine.py's `remake()` supplemented onto this CLI
// layer rather than onto internal/planner: a Planner-level Remake would need
// to import internal/executor to actually run the rerun plan, but
// internal/executor already imports internal/planner (for Job/Plan/JobID),
// so that placement would create an import cycle. Sugar over PlanRerun +
// Executor.Run, living where both are already in scope.
func (rt *Runtime) Remake(ctx context.Context) (*RunOutput, error) {
	return rt.Rerun(ctx)
}

// Deindex removes a vertex (and optionally its descendants) from the graph
// index (spec.md §4.H deindex), and persists the result.
func (rt *Runtime) Deindex(name string, includeDescendants bool) error {
	if err := rt.Indexer.Deindex(name, includeDescendants); err != nil {
		return err
	}
	return rt.persist()
}

// QueryMode selects which of the indexer façade's three query shapes Query
// runs.
type QueryMode string

const (
	QueryAll          QueryMode = "all"
	QueryOutdated     QueryMode = "outdated"
	QueryNeighborhood QueryMode = "neighborhood"
)

// QueryOutput is the query subcommand's result.
type QueryOutput struct {
	Entries       []indexer.Entry             `json:"entries,omitempty"`
	Neighborhoods []indexer.NeighborhoodEntry `json:"neighborhoods,omitempty"`
}

// Query runs one of the indexer façade's query shapes. name, if non-empty,
// restricts the match to the vertex with that name; an empty name matches
// everything (subject to mode).
func (rt *Runtime) Query(mode QueryMode, name string, neighborhoodMode indexer.NeighborhoodMode) (*QueryOutput, error) {
	predicate := func(c *compendium.Compendium) bool {
		return name == "" || c.Name == name
	}

	switch mode {
	case QueryOutdated:
		var entries []indexer.Entry
		for _, e := range rt.Indexer.Outdated() {
			if predicate(e.Compendium) {
				entries = append(entries, e)
			}
		}
		return &QueryOutput{Entries: entries}, nil
	case QueryNeighborhood:
		return &QueryOutput{Neighborhoods: rt.Indexer.Neighborhood(neighborhoodMode, predicate)}, nil
	case QueryAll, "":
		return &QueryOutput{Entries: rt.Indexer.Find(predicate)}, nil
	default:
		return nil, errcode.New(errcode.KindValidation, "query: unknown mode %q", mode)
	}
}
