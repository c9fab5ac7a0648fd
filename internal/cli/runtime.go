package cli

import (
	"log"
	"os"

	"compendium/internal/compendium"
	"compendium/internal/config"
	"compendium/internal/executor"
	"compendium/internal/graph"
	"compendium/internal/hash"
	"compendium/internal/indexer"
	"compendium/internal/metrics"
	"compendium/internal/persistence"
	"compendium/internal/sandbox"
	"compendium/internal/tracer"
)

// UnpackerFactory builds the Unpacker a CompendiumJob reproduces argv into,
// reporting outputPaths from ListOutputs. Substituting this is how a
// container-capable sandbox replaces the default ProcessUnpacker without
// this package changing.
type UnpackerFactory func(argv []string, outputPaths []string) sandbox.Unpacker

// Runtime bundles every collaborator a CLI invocation needs: the live graph
// index and its indexer façade, the snapshot/bundle persistence stores, the
// metrics registry, the builder/execution configuration, the tracer
// adapter, the bundle sealer, and the unpacker factory the sandbox driver
// uses at reproduction time.
type Runtime struct {
	Index   *graph.Index
	Indexer *indexer.Facade

	Snapshots *persistence.SnapshotStore
	Bundles   *persistence.BundleStore
	Metrics   *metrics.Registry

	BuilderConfig compendium.Config
	Execution     config.Execution

	Tracer *tracer.Adapter
	Sealer compendium.Sealer

	NewUnpacker  UnpackerFactory
	ScratchRoot  string
	DownloadRoot string

	// Logger reports operational events (snapshot writes, GC sweeps, plan
	// sizes) the way scriptweaver/bdcrrm_api both do: plain stdlib `log`,
	// no framework. A nil Logger defaults on first use to a new stderr
	// logger with the standard flags.
	Logger *log.Logger
}

func (rt *Runtime) logger() *log.Logger {
	if rt.Logger == nil {
		rt.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return rt.Logger
}

// NewRuntime wires idx (loaded from snapshot or freshly created per
// persistence.SnapshotStore.Load) into a ready-to-use Runtime.
func NewRuntime(idx *graph.Index, snapshots *persistence.SnapshotStore, bundles *persistence.BundleStore, m *metrics.Registry, cfg config.Config, t *tracer.Adapter, sealer compendium.Sealer, newUnpacker UnpackerFactory, scratchRoot, downloadRoot string) (*Runtime, error) {
	bc, err := cfg.BuilderConfig()
	if err != nil {
		return nil, err
	}
	idx.Metrics = m
	return &Runtime{
		Index:         idx,
		Indexer:       indexer.New(idx),
		Snapshots:     snapshots,
		Bundles:       bundles,
		Metrics:       m,
		BuilderConfig: bc,
		Execution:     cfg.Execution,
		Tracer:        t,
		Sealer:        sealer,
		NewUnpacker:   newUnpacker,
		ScratchRoot:   scratchRoot,
		DownloadRoot:  downloadRoot,
	}, nil
}

// persist saves a snapshot of the current index and garbage-collects any
// bundle no longer referenced by it (spec.md §4.I: one snapshot write per
// plan invocation, GC run after every mutation).
func (rt *Runtime) persist() error {
	if rt.Snapshots != nil {
		if err := rt.Snapshots.Save(rt.Index); err != nil {
			return err
		}
		rt.logger().Printf("persistence: snapshot saved (%d vertices)", rt.Index.Len())
	}
	if rt.Bundles != nil {
		removed, missing, err := rt.Bundles.GC(rt.Index)
		if err != nil {
			return err
		}
		if len(removed) > 0 || len(missing) > 0 {
			rt.logger().Printf("persistence: bundle GC removed=%v missing=%v", removed, missing)
		}
	}
	return nil
}

// scheduler builds the Scheduler the configured Execution section
// describes: parallelism <= 1 is sequential, otherwise bounded-parallel.
func (rt *Runtime) scheduler() executor.Scheduler {
	if rt.Execution.Parallelism <= 1 {
		return executor.NewScheduler(executor.ModeSequential, 1)
	}
	return executor.NewScheduler(executor.ModeParallel, rt.Execution.Parallelism)
}

// predecessorOutputs returns the digests of every output currently produced
// by an indexed vertex, for the compendium builder's graph-dedup filter
// (spec.md §4.C rule 1).
func (rt *Runtime) predecessorOutputs() compendium.PredecessorOutputs {
	out := make(compendium.PredecessorOutputs)
	for _, c := range rt.Index.All() {
		for d := range c.OutputDigests() {
			out[d] = struct{}{}
		}
	}
	return out
}

// outputPathsOf flattens c's recorded output FileRefs into the sandbox
// ListOutputs convention a ProcessUnpacker reports: the tracer's own
// (possibly absolute) recorded paths, which Download/Upload re-root under
// the sandbox scratch directory.
func outputPathsOf(c *compendium.Compendium) []string {
	paths := make([]string, len(c.Outputs))
	for i, ref := range c.Outputs {
		paths[i] = ref.Path
	}
	return paths
}

// digestMap converts an executor.JobResult's string-keyed Outputs back into
// the hash.Digest-keyed map CompendiumJob.PreviousOutputFiles expects.
func digestMap(preds []executor.JobResult) map[hash.Digest]string {
	out := map[hash.Digest]string{}
	for _, p := range preds {
		for d, path := range p.Outputs {
			out[hash.Digest(d)] = path
		}
	}
	return out
}
