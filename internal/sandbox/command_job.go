package sandbox

import (
	"context"
	"fmt"

	"compendium/internal/compendium"
	"compendium/internal/tracer"
)

// CommandResult is what CommandJob.Submit returns: the raw trace directory
// and command echo, plus the compendium the builder assembled from the
// trace so the caller can index it.
type CommandResult struct {
	TraceDir   string
	Command    []string
	Compendium *compendium.Compendium
}

// CommandJob wraps a literal, not-yet-indexed command.
type CommandJob struct {
	Argv               []string
	Tracer             *tracer.Adapter
	BuilderConfig      compendium.Config
	PredecessorOutputs compendium.PredecessorOutputs
	Sealer             compendium.Sealer
}

// Submit traces the command, then hands the resulting trace record to the
// compendium builder. Tracer failures (TracerUnavailable, TraceAborted)
// surface unwrapped so the caller's operator can classify them.
func (j CommandJob) Submit(ctx context.Context) (CommandResult, error) {
	if j.Tracer == nil {
		return CommandResult{}, fmt.Errorf("sandbox: CommandJob has no tracer adapter")
	}
	rec, err := j.Tracer.Trace(ctx, j.Argv)
	if err != nil {
		return CommandResult{}, err
	}

	c, err := compendium.Build(rec, j.BuilderConfig, j.PredecessorOutputs, j.Sealer)
	if err != nil {
		return CommandResult{}, err
	}

	return CommandResult{TraceDir: rec.Dir, Command: j.Argv, Compendium: c}, nil
}
