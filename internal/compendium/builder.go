package compendium

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"compendium/internal/hash"
	"compendium/internal/tracer"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
)

// Action is a data-source rule's disposition.
type Action string

const (
	Include Action = "include"
	Exclude Action = "exclude"
)

// DataSourceRule is one ordered pattern in Config.DataSources.
type DataSourceRule struct {
	Pattern string
	Action  Action
}

// Config is the compendium builder's configuration (spec.md §4.C).
type Config struct {
	WorkingDirectories []string
	DataSources        []DataSourceRule
	IgnoredDataObjects []string
	SecretEnvVars      []string

	// Algorithm selects the digest function used for all file/command
	// hashing in this build. Defaults to hash.SHA256.
	Algorithm hash.Algorithm

	// NameEntropy supplies randomness for compendium name generation; tests
	// can substitute a deterministic source. Defaults to crypto/rand via
	// ulid.DefaultEntropy when nil.
	NameEntropy ulid.MonotonicReader
}

// Sealer packages a set of files rooted at dir into a single immutable
// bundle archive and returns its reference.
type Sealer interface {
	Seal(dir string, keepRelPaths []string) (BundleRef, error)
}

// PredecessorOutputs is the set of output digests already produced by some
// indexed predecessor, used by the graph-dedup filter (spec.md §4.C rule 1).
type PredecessorOutputs map[hash.Digest]struct{}

// Build classifies, filters, and seals a trace record into a Compendium.
//
// Grounded on bdcrrm_api/engine.py's `execute`: trace, scrub secrets, filter
// config files, pack, then compute metadata — in that order.
func Build(rec *tracer.TraceRecord, cfg Config, predecessorOutputs PredecessorOutputs, sealer Sealer) (*Compendium, error) {
	if rec == nil {
		return nil, fmt.Errorf("compendium: nil trace record")
	}
	if len(rec.Runs) == 0 {
		return nil, fmt.Errorf("compendium: trace record has no runs")
	}
	alg := cfg.Algorithm
	if alg == "" {
		alg = hash.SHA256
	}

	argv := rec.Runs[0].Argv
	if len(argv) == 0 {
		return nil, fmt.Errorf("compendium: empty command")
	}
	scriptPath := resolveScriptPath(argv[0])

	inputs, outputs := classify(rec.InputsOutputs, cfg.WorkingDirectories, scriptPath)
	inputs = dropIgnored(inputs, cfg.IgnoredDataObjects)
	outputs = dropIgnored(outputs, cfg.IgnoredDataObjects)

	inputRefs, err := toFileRefs(inputs, alg)
	if err != nil {
		return nil, err
	}
	outputRefs, err := toFileRefs(outputs, alg)
	if err != nil {
		return nil, err
	}

	otherFiles := append([]string(nil), rec.OtherFiles...)
	otherFiles = graphDedupFilter(otherFiles, predecessorOutputs, alg)
	kept, unpackedPaths := dataSourceFilter(otherFiles, cfg.DataSources)

	unpackedRefs, err := toFileRefsFromPaths(unpackedPaths, alg)
	if err != nil {
		return nil, err
	}

	scrubSecrets(rec.Runs, cfg.SecretEnvVars)
	unpackedEnv := unpackedEnvNames(cfg.SecretEnvVars)

	commandDigest, err := hash.HashCommand(argv, alg)
	if err != nil {
		return nil, err
	}

	bundleDir := rec.Dir
	bundleRef, err := sealer.Seal(bundleDir, kept)
	if err != nil {
		return nil, err
	}

	name := newName(cfg.NameEntropy)

	return &Compendium{
		Name:                         name,
		Command:                     argv,
		CommandDigest:               commandDigest,
		Bundle:                      bundleRef,
		Inputs:                      inputRefs,
		Outputs:                     outputRefs,
		ExternalInputsRequired:      nil,
		UnpackedFiles:               unpackedRefs,
		UnpackedEnvironmentVariables: unpackedEnv,
		Status:                      Updated,
		CommandConfig: CommandConfig{
			Splitter:  "shell",
			Algorithm: alg,
		},
	}, nil
}

func resolveScriptPath(first string) string {
	abs, err := filepath.Abs(first)
	if err != nil {
		return first
	}
	return abs
}

// classify splits inputs_outputs entries into inputs/outputs per spec.md
// §4.C's classification rules.
func classify(entries []tracer.FileActivity, workingDirs []string, scriptPath string) (inputs, outputs []string) {
	for _, e := range entries {
		if len(e.WrittenByRuns) > 0 {
			outputs = append(outputs, e.Path)
			continue
		}
		if !underAnyWorkingDir(e.Path, workingDirs) {
			continue
		}
		if samePath(e.Path, scriptPath) {
			continue
		}
		inputs = append(inputs, e.Path)
	}
	sort.Strings(inputs)
	sort.Strings(outputs)
	return inputs, outputs
}

func underAnyWorkingDir(path string, dirs []string) bool {
	if len(dirs) == 0 {
		return false
	}
	for _, d := range dirs {
		rel, err := filepath.Rel(d, path)
		if err != nil {
			continue
		}
		if rel == "." || !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

func dropIgnored(paths []string, ignoredGlobs []string) []string {
	if len(ignoredGlobs) == 0 {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if matchesAny(p, ignoredGlobs) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

func toFileRefs(paths []string, alg hash.Algorithm) ([]FileRef, error) {
	return toFileRefsFromPaths(paths, alg)
}

func toFileRefsFromPaths(paths []string, alg hash.Algorithm) ([]FileRef, error) {
	refs := make([]FileRef, 0, len(paths))
	for _, p := range paths {
		d, err := hash.HashFile(p, alg)
		if err != nil {
			return nil, fmt.Errorf("compendium: hash %s: %w", p, err)
		}
		refs = append(refs, FileRef{Path: p, Digest: d, Algorithm: alg})
	}
	return refs, nil
}

// graphDedupFilter drops other_files paths whose digest equals a digest
// already produced as an output by some indexed predecessor — it will
// arrive via a graph edge at reproduction time (spec.md §4.C rule 1).
func graphDedupFilter(paths []string, predecessorOutputs PredecessorOutputs, alg hash.Algorithm) []string {
	if len(predecessorOutputs) == 0 {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		d, err := hash.HashFile(p, alg)
		if err != nil {
			// Unreadable paths are left for the data-source filter / sealer
			// to deal with; dedup only removes paths it could positively match.
			out = append(out, p)
			continue
		}
		if _, dup := predecessorOutputs[d]; dup {
			continue
		}
		out = append(out, p)
	}
	return out
}

// dataSourceFilter applies the ordered data-source rules (spec.md §4.C
// rule 2): excluded paths move to "unpacked" (must be supplied again at
// reproduction time) instead of being sealed into the bundle.
func dataSourceFilter(paths []string, rules []DataSourceRule) (kept, unpacked []string) {
	for _, p := range paths {
		action := Include
		for _, r := range rules {
			if ok, _ := doublestar.Match(r.Pattern, p); ok {
				action = r.Action
			}
		}
		if action == Exclude {
			unpacked = append(unpacked, p)
		} else {
			kept = append(kept, p)
		}
	}
	return kept, unpacked
}

// scrubSecrets removes secret env var values from every run's environ,
// mutating rec.Runs in place so the sealer never sees them (spec.md §4.C
// rule 3).
func scrubSecrets(runs []tracer.Run, secretNames []string) {
	if len(secretNames) == 0 {
		return
	}
	for i := range runs {
		for _, name := range secretNames {
			delete(runs[i].Environ, name)
		}
	}
}

// unpackedEnvNames returns the deduplicated, sorted set of secret variable
// names to record in Compendium.UnpackedEnvironmentVariables. Per spec.md
// §4.C rule 3, every configured secret name is recorded regardless of
// whether any particular run actually observed it.
func unpackedEnvNames(secretNames []string) []string {
	seen := make(map[string]struct{}, len(secretNames))
	out := make([]string, 0, len(secretNames))
	for _, n := range secretNames {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func newName(entropy ulid.MonotonicReader) string {
	if entropy == nil {
		return ulid.Make().String()
	}
	return ulid.MustNew(ulid.Now(), entropy).String()
}
