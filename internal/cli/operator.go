package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"compendium/internal/executor"
	"compendium/internal/planner"
	"compendium/internal/sandbox"
)

// operator implements executor.Operator, dispatching each job to a
// sandbox.CommandJob or sandbox.CompendiumJob depending on its Kind, and
// indexing the resulting compendium as a side effect of command jobs.
type operator struct {
	rt *Runtime
}

func (o *operator) Execute(ctx context.Context, job planner.Job, preds []executor.JobResult) executor.JobResult {
	switch job.Kind {
	case planner.KindCommandJob:
		return o.executeCommand(ctx, job)
	case planner.KindCompendiumJob:
		return o.executeCompendium(ctx, job, preds)
	default:
		return executor.JobResult{JobID: job.ID, Status: executor.StatusError, Err: fmt.Errorf("cli: unknown job kind %q", job.Kind)}
	}
}

func (o *operator) executeCommand(ctx context.Context, job planner.Job) executor.JobResult {
	sj := sandbox.CommandJob{
		Argv:               job.Command,
		Tracer:             o.rt.Tracer,
		BuilderConfig:      o.rt.BuilderConfig,
		PredecessorOutputs: o.rt.predecessorOutputs(),
		Sealer:             o.rt.Sealer,
	}
	res, err := sj.Submit(ctx)
	if err != nil {
		return executor.JobResult{JobID: job.ID, Status: executor.StatusError, Err: err}
	}

	view, err := o.rt.Indexer.IndexCompendium(res.Compendium)
	if err != nil {
		return executor.JobResult{JobID: job.ID, Status: executor.StatusError, Err: err}
	}
	if o.rt.Bundles != nil {
		dest, err := o.rt.Bundles.Put(view.Name, view.Bundle.Path)
		if err != nil {
			return executor.JobResult{JobID: job.ID, Status: executor.StatusError, Err: err}
		}
		view.Bundle.Path = dest
	}

	outputs := make(map[string]string, len(view.Outputs))
	for _, ref := range view.Outputs {
		outputs[string(ref.Digest)] = ref.Path
	}
	return executor.JobResult{JobID: job.ID, Status: executor.StatusSuccess, Outputs: outputs}
}

func (o *operator) executeCompendium(ctx context.Context, job planner.Job, preds []executor.JobResult) executor.JobResult {
	c := job.Compendium
	unpacker := o.rt.NewUnpacker(c.Command, outputPathsOf(c))
	cj := sandbox.CompendiumJob{
		Compendium:          c,
		PreviousOutputFiles: digestMap(preds),
		Unpacker:            unpacker,
		ScratchDir:          filepath.Join(o.rt.ScratchRoot, c.Name),
		DownloadDir:         filepath.Join(o.rt.DownloadRoot, c.Name),
		Metrics:             o.rt.Metrics,
	}
	res, err := cj.Submit(ctx)
	if err != nil {
		return executor.JobResult{JobID: job.ID, Status: executor.StatusError, Err: err}
	}

	// Reproduction verifies and forwards; it does not mutate the index.
	// bdcrrm_api/engine.py's reproduce() never touches graph vertex status,
	// and neither plan_reproduce (spec.md §4.E) nor CompendiumJob.submit
	// (§4.G) describe one. Leaving c's Status/UpdatedAt untouched here.
	outputs := make(map[string]string, len(res.Outputs))
	for d, path := range res.Outputs {
		outputs[string(d)] = path
	}
	return executor.JobResult{JobID: job.ID, Status: executor.StatusSuccess, Outputs: outputs}
}
