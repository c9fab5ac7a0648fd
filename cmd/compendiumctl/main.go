// Command compendiumctl is the CLI front end for the pipeline-graph
// compendium system (spec.md §4): it traces commands, seals and indexes
// their compendia, and replays the graph from its sealed bundles.
//
// Usage:
//
//	compendiumctl run -- <command> [args...]
//	compendiumctl rerun
//	compendiumctl reproduce
//	compendiumctl query --mode outdated
//	compendiumctl deindex <name> [--descendants]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"compendium/internal/cli"
	"compendium/internal/compendium"
	"compendium/internal/config"
	"compendium/internal/errcode"
	"compendium/internal/metrics"
	"compendium/internal/persistence"
	"compendium/internal/sandbox"
	"compendium/internal/tracer"
)

func main() {
	fs := flag.NewFlagSet("compendiumctl", flag.ContinueOnError)
	configPath := fs.String("config", "compendium.yaml", "path to the builder/execution config file")
	dataDir := fs.String("data-dir", ".compendium", "root directory for snapshot, bundle, scratch, and download state")
	tracerPath := fs.String("tracer", "", "path to the external tracer binary (empty disables run/rerun)")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address instead of exiting")
	jsonOutput := fs.Bool("json", false, "render output as JSON")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(errcode.KindValidation.ExitCode())
	}
	args := fs.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compendiumctl: %v\n", err)
		os.Exit(errcode.ExitCodeFor(err))
	}

	snapshots := persistence.NewSnapshotStore(filepath.Join(*dataDir, "snapshot.gob"))
	bundles := persistence.NewBundleStore(filepath.Join(*dataDir, "bundles"))
	m := metrics.New()

	idx, err := snapshots.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "compendiumctl: %v\n", err)
		os.Exit(errcode.ExitCodeFor(err))
	}

	adapter := tracer.New(&tracer.ProcessBackend{
		TracerPath: *tracerPath,
		TraceDir:   filepath.Join(*dataDir, "trace"),
	})
	sealer := &compendium.TarZstdSealer{OutDir: filepath.Join(*dataDir, "staging")}

	newUnpacker := func(argv []string, outputPaths []string) sandbox.Unpacker {
		return sandbox.NewProcessUnpacker(argv, outputPaths)
	}

	rt, err := cli.NewRuntime(idx, snapshots, bundles, m, cfg, adapter, sealer, newUnpacker,
		filepath.Join(*dataDir, "scratch"), filepath.Join(*dataDir, "download"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "compendiumctl: %v\n", err)
		os.Exit(errcode.ExitCodeFor(err))
	}

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, rt)
		return
	}

	result := cli.Execute(context.Background(), rt, cli.Invocation{
		Args:   args,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		JSON:   *jsonOutput,
	})
	os.Exit(result.ExitCode)
}

// serveMetrics exposes rt's Prometheus registry over HTTP and blocks until
// the process is killed; a dedicated, optional mode rather than the default
// since most invocations are one-shot CLI calls.
func serveMetrics(addr string, rt *cli.Runtime) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	fmt.Fprintf(os.Stderr, "compendiumctl: serving metrics on %s/metrics\n", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "compendiumctl: metrics server: %v\n", err)
		os.Exit(1)
	}
}
