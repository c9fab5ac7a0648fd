package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"compendium/internal/errcode"
	"compendium/internal/indexer"
)

// Invocation is one CLI call: the subcommand + its arguments, plus the
// streams output is rendered to.
type Invocation struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	JSON   bool
}

// Result is what Execute returns: the process exit code spec.md §6
// specifies for the invocation's outcome.
type Result struct {
	ExitCode int
}

// Execute parses inv and dispatches to the named subcommand against rt. It
// never calls os.Exit; callers (cmd/compendiumctl's main) do that with the
// returned Result.ExitCode.
func Execute(ctx context.Context, rt *Runtime, inv Invocation) Result {
	if len(inv.Args) == 0 {
		fmt.Fprintln(inv.Stderr, usage)
		return Result{ExitCode: errcode.KindValidation.ExitCode()}
	}

	sub, rest := inv.Args[0], inv.Args[1:]
	var (
		out any
		err error
	)

	switch sub {
	case "run":
		out, err = runRun(ctx, rt, rest)
	case "rerun":
		out, err = rt.Rerun(ctx)
	case "reproduce":
		out, err = rt.Reproduce(ctx)
	case "remake":
		out, err = rt.Remake(ctx)
	case "query":
		out, err = runQuery(rt, rest)
	case "deindex":
		err = runDeindex(rt, rest)
	default:
		fmt.Fprintf(inv.Stderr, "compendiumctl: unknown subcommand %q\n\n%s\n", sub, usage)
		return Result{ExitCode: errcode.KindValidation.ExitCode()}
	}

	if err != nil {
		return Result{ExitCode: writeError(inv.Stderr, inv.JSON, err)}
	}
	if out != nil {
		writeOutput(inv.Stdout, inv.JSON, out)
	}
	return Result{ExitCode: 0}
}

func runRun(ctx context.Context, rt *Runtime, args []string) (*RunOutput, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return nil, errcode.Wrap(errcode.KindValidation, err, "run: parse arguments")
	}
	argv := fs.Args()
	if len(argv) == 0 {
		return nil, errcode.New(errcode.KindValidation, "run: requires a command, e.g. compendiumctl run -- ./script.sh")
	}
	return rt.Run(ctx, argv)
}

func runQuery(rt *Runtime, args []string) (*QueryOutput, error) {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	mode := fs.String("mode", "all", "query mode: all, outdated, neighborhood")
	name := fs.String("name", "", "restrict to the vertex with this name")
	direction := fs.String("direction", "all", "neighborhood direction: in, out, all")
	if err := fs.Parse(args); err != nil {
		return nil, errcode.Wrap(errcode.KindValidation, err, "query: parse arguments")
	}
	return rt.Query(QueryMode(*mode), *name, indexer.NeighborhoodMode(*direction))
}

func runDeindex(rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("deindex", flag.ContinueOnError)
	descendants := fs.Bool("descendants", false, "also remove every forward-reachable descendant")
	if err := fs.Parse(args); err != nil {
		return errcode.Wrap(errcode.KindValidation, err, "deindex: parse arguments")
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return errcode.New(errcode.KindValidation, "deindex: requires exactly one vertex name")
	}
	return rt.Deindex(rest[0], *descendants)
}

func writeOutput(w io.Writer, jsonOutput bool, v any) {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Fprintf(w, "%+v\n", v)
}

const usage = `Usage: compendiumctl <command> [options]

Commands:
  run <command...>     Trace and index a new command (spec.md plan_run)
  rerun                 Re-trace every OUTDATED vertex (plan_rerun)
  reproduce             Replay every vertex from its sealed bundle (plan_reproduce)
  remake                Convenience: rerun, then report (bdcrrm_api remake())
  query                 Query the graph index (--mode all|outdated|neighborhood)
  deindex <name>        Remove a vertex from the graph index
`
