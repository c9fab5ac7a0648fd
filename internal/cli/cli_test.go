package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"compendium/internal/compendium"
	"compendium/internal/config"
	"compendium/internal/graph"
	"compendium/internal/hash"
	"compendium/internal/indexer"
	"compendium/internal/metrics"
	"compendium/internal/persistence"
	"compendium/internal/sandbox"
	"compendium/internal/tracer"
)

func newTestRuntime(t *testing.T, rec *tracer.TraceRecord) *Runtime {
	t.Helper()
	dataDir := t.TempDir()
	idx := graph.New()
	return &Runtime{
		Index:     idx,
		Indexer:   indexer.New(idx),
		Snapshots: persistence.NewSnapshotStore(filepath.Join(dataDir, "snapshot.gob")),
		// Bundles stays nil: FakeSealer never writes a bundle file to disk,
		// so there is nothing for a BundleStore to move into place. The
		// real CLI wiring in cmd/compendiumctl always sets it.
		Metrics:       metrics.New(),
		BuilderConfig: compendium.Config{Algorithm: hash.SHA256},
		Execution:     config.Execution{Parallelism: 1},
		Tracer:        tracer.New(&tracer.FakeBackend{Record: rec}),
		Sealer:        &compendium.FakeSealer{},
		NewUnpacker: func(argv []string, outputPaths []string) sandbox.Unpacker {
			return sandbox.NewFakeUnpacker()
		},
		ScratchRoot:  filepath.Join(dataDir, "scratch"),
		DownloadRoot: filepath.Join(dataDir, "download"),
	}
}

func writeOutputFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func traceRecord(t *testing.T, outPath string) *tracer.TraceRecord {
	t.Helper()
	return &tracer.TraceRecord{
		Dir:  t.TempDir(),
		Runs: []tracer.Run{{Argv: []string{"echo", "hi"}, Environ: map[string]string{}}},
		InputsOutputs: []tracer.FileActivity{
			{Path: outPath, WrittenByRuns: []int{0}},
		},
	}
}

func TestRuntime_Run_IndexesCompendium(t *testing.T) {
	dir := t.TempDir()
	out := writeOutputFile(t, dir, "out.csv", "a,b,c\n")
	rt := newTestRuntime(t, traceRecord(t, out))

	res, err := rt.Run(context.Background(), []string{"echo", "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected one job result, got %d", len(res.Results))
	}
	for _, jr := range res.Results {
		if jr.Status != "success" {
			t.Fatalf("expected success, got %+v", jr)
		}
	}
	if rt.Index.Len() != 1 {
		t.Fatalf("expected one indexed vertex, got %d", rt.Index.Len())
	}
}

func TestRuntime_Run_RefusesWhenOutdated(t *testing.T) {
	dir := t.TempDir()
	outA := writeOutputFile(t, dir, "a.csv", "1\n")
	recA := traceRecord(t, outA)
	recA.Runs[0].Argv = []string{"cmdA"}
	rt := newTestRuntime(t, recA)
	rt.BuilderConfig.WorkingDirectories = []string{dir}

	if _, err := rt.Run(context.Background(), []string{"cmdA"}); err != nil {
		t.Fatal(err)
	}
	a := rt.Index.All()[0]

	// B consumes A's output as an input, wiring an A -> B edge.
	recB := &tracer.TraceRecord{
		Dir:  t.TempDir(),
		Runs: []tracer.Run{{Argv: []string{"cmdB"}, Environ: map[string]string{}}},
		InputsOutputs: []tracer.FileActivity{
			{Path: outA},
		},
	}
	rt.Tracer.Backend = &tracer.FakeBackend{Record: recB}
	if _, err := rt.Run(context.Background(), []string{"cmdB"}); err != nil {
		t.Fatal(err)
	}

	// Re-updating A bumps its logical clock and propagates staleness to B
	// (spec.md §4.D invariant 4), which Runtime.Run must then refuse to
	// plan past.
	if err := rt.Index.Update(a.CommandDigest, graph.Changes{Outputs: a.Outputs}); err != nil {
		t.Fatal(err)
	}
	if !rt.Index.IsOutdated() {
		t.Fatal("expected an OUTDATED vertex after re-updating A")
	}

	if _, err := rt.Run(context.Background(), []string{"cmdC"}); err == nil {
		t.Fatal("expected Run to refuse planning with an OUTDATED vertex present")
	}
}

func TestRuntime_Deindex(t *testing.T) {
	dir := t.TempDir()
	out := writeOutputFile(t, dir, "out.csv", "1\n")
	rt := newTestRuntime(t, traceRecord(t, out))

	if _, err := rt.Run(context.Background(), []string{"echo", "hi"}); err != nil {
		t.Fatal(err)
	}
	all := rt.Index.All()
	if len(all) != 1 {
		t.Fatalf("expected one vertex, got %d", len(all))
	}
	name := all[0].Name

	if err := rt.Deindex(name, false); err != nil {
		t.Fatal(err)
	}
	if rt.Index.Len() != 0 {
		t.Fatalf("expected empty index after deindex, got %d", rt.Index.Len())
	}
}

func TestRuntime_Query_All(t *testing.T) {
	dir := t.TempDir()
	out := writeOutputFile(t, dir, "out.csv", "1\n")
	rt := newTestRuntime(t, traceRecord(t, out))

	if _, err := rt.Run(context.Background(), []string{"echo", "hi"}); err != nil {
		t.Fatal(err)
	}
	qo, err := rt.Query(QueryAll, "", indexer.ModeAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(qo.Entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(qo.Entries))
	}
}

func TestExecute_UnknownSubcommand(t *testing.T) {
	rt := newTestRuntime(t, traceRecord(t, writeOutputFile(t, t.TempDir(), "o", "x")))
	var stdout, stderr bytes.Buffer
	res := Execute(context.Background(), rt, Invocation{
		Args:   []string{"bogus"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if res.ExitCode == 0 {
		t.Fatal("expected non-zero exit code for unknown subcommand")
	}
}

func TestExecute_DeindexUnknownVertex(t *testing.T) {
	rt := newTestRuntime(t, traceRecord(t, writeOutputFile(t, t.TempDir(), "o", "x")))
	var stdout, stderr bytes.Buffer
	res := Execute(context.Background(), rt, Invocation{
		Args:   []string{"deindex", "does-not-exist"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if res.ExitCode == 0 {
		t.Fatal("expected non-zero exit code for deindexing an unknown vertex")
	}
	if stderr.Len() == 0 {
		t.Fatal("expected an error message on stderr")
	}
}

func TestExecute_QueryJSON(t *testing.T) {
	dir := t.TempDir()
	out := writeOutputFile(t, dir, "out.csv", "1\n")
	rt := newTestRuntime(t, traceRecord(t, out))
	if _, err := rt.Run(context.Background(), []string{"echo", "hi"}); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	res := Execute(context.Background(), rt, Invocation{
		Args:   []string{"query", "--mode", "all"},
		Stdout: &stdout,
		Stderr: &stderr,
		JSON:   true,
	})
	if res.ExitCode != 0 {
		t.Fatalf("expected success, got exit %d: %s", res.ExitCode, stderr.String())
	}
	if stdout.Len() == 0 {
		t.Fatal("expected JSON output on stdout")
	}
}

func TestPresentedError_Format(t *testing.T) {
	pe := &PresentedError{Message: "something broke", Cause: "disk full", ExitCode: 5}
	text := pe.Format(true)
	if !bytes.Contains([]byte(text), []byte("something broke")) {
		t.Fatalf("expected message in output, got %q", text)
	}
	if !bytes.Contains([]byte(text), []byte("disk full")) {
		t.Fatalf("expected cause in output, got %q", text)
	}
}
