package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"compendium/internal/compendium"
	"compendium/internal/hash"
	"compendium/internal/metrics"
)

// RequiredDataObject is one user-supplied external input: a local path and
// the digest the caller claims it has.
type RequiredDataObject struct {
	Path     string
	Checksum hash.Digest
}

// CompendiumResult is what CompendiumJob.Submit returns: the digests of
// every output it collected, mapped to their local download paths, so the
// executor can forward them as previous_output_files to successor jobs.
type CompendiumResult struct {
	Outputs map[hash.Digest]string
}

// CompendiumJob reproduces a single indexed compendium inside a sandbox.
type CompendiumJob struct {
	Compendium                   *compendium.Compendium
	RequiredDataObjects          []RequiredDataObject
	PreviousOutputFiles          map[hash.Digest]string // forwarded from predecessor jobs
	RequiredEnvironmentVariables []string                // "NAME=VALUE" pairs

	Unpacker    Unpacker
	ScratchDir  string
	DownloadDir string

	// Metrics is optional; a nil Metrics disables instrumentation entirely.
	Metrics *metrics.Registry
}

// Submit runs the eight-step reproduction protocol: integrity check,
// isolation setup, env injection, external-input validation, input wiring,
// execution, output collection, teardown (teardown always runs).
func (j CompendiumJob) Submit(ctx context.Context) (CompendiumResult, error) {
	c := j.Compendium
	if c == nil {
		return CompendiumResult{}, fmt.Errorf("sandbox: CompendiumJob has no compendium")
	}

	// 1. Integrity check.
	result, err := hash.Verify(c.Bundle.Path, c.Bundle.Digest)
	if err != nil {
		return CompendiumResult{}, err
	}
	if result == hash.Mismatch {
		got, _ := hash.HashFile(c.Bundle.Path, c.Bundle.Algorithm)
		return CompendiumResult{}, BundleCorrupt(c.Bundle.Path, c.Bundle.Digest, got)
	}

	// 2. Isolation setup.
	if err := j.Unpacker.Setup(ctx, c.Bundle.Path, j.ScratchDir); err != nil {
		return CompendiumResult{}, err
	}
	defer j.Unpacker.Teardown(ctx) // 8. Teardown: always executed, even on error.

	// 3. Env injection.
	for _, pair := range j.RequiredEnvironmentVariables {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return CompendiumResult{}, BadEnvVar(pair)
		}
		if err := j.Unpacker.AddEnv(ctx, name, value); err != nil {
			return CompendiumResult{}, err
		}
	}

	// 4. External input validation: every required digest must be satisfied
	// either by a forwarded predecessor output or by a supplied external
	// input with a matching checksum.
	externalByDigest := make(map[hash.Digest]RequiredDataObject, len(j.RequiredDataObjects))
	for _, obj := range j.RequiredDataObjects {
		externalByDigest[obj.Checksum] = obj
	}
	for _, required := range c.ExternalInputsRequired {
		_, fromPredecessor := j.PreviousOutputFiles[required]
		_, fromExternal := externalByDigest[required]
		if !fromPredecessor && !fromExternal {
			return CompendiumResult{}, MissingExternalInput(required)
		}
	}

	// 5. Input wiring: forwarded predecessor outputs first, then external
	// inputs, both keyed to the path recorded at trace time.
	pathByDigest := make(map[hash.Digest]string, len(c.Inputs))
	for _, in := range c.Inputs {
		pathByDigest[in.Digest] = in.Path
	}
	for _, in := range c.UnpackedFiles {
		pathByDigest[in.Digest] = in.Path
	}

	for digest, localPath := range j.PreviousOutputFiles {
		target, ok := pathByDigest[digest]
		if !ok {
			continue
		}
		if err := j.Unpacker.Upload(ctx, localPath, target); err != nil {
			return CompendiumResult{}, err
		}
	}
	for digest, obj := range externalByDigest {
		target, ok := pathByDigest[digest]
		if !ok {
			continue
		}
		if err := j.Unpacker.Upload(ctx, obj.Path, target); err != nil {
			return CompendiumResult{}, err
		}
	}

	// 6. Execution.
	exitCode, err := j.Unpacker.Run(ctx)
	if err != nil {
		return CompendiumResult{}, err
	}
	if exitCode != 0 {
		return CompendiumResult{}, ReproductionFailed(exitCode)
	}

	// 7. Output collection.
	outputPaths, err := j.Unpacker.ListOutputs(ctx)
	if err != nil {
		return CompendiumResult{}, err
	}
	sort.Strings(outputPaths)
	if err := os.MkdirAll(j.DownloadDir, 0o755); err != nil {
		return CompendiumResult{}, err
	}

	outputs := make(map[hash.Digest]string, len(outputPaths))
	for _, p := range outputPaths {
		dest := filepath.Join(j.DownloadDir, filepath.Base(p))
		if err := j.Unpacker.Download(ctx, p, dest); err != nil {
			// Some tracer-reported outputs may not exist at reproduction
			// time (e.g. ephemeral temp files); skip silently, but keep the
			// skip observable via a counter (spec.md §9 open question).
			j.Metrics.RecordOutputDownloadSkipped()
			continue
		}
		d, err := hash.HashFile(dest, c.CommandConfig.Algorithm)
		if err != nil {
			continue
		}
		outputs[d] = dest
	}

	return CompendiumResult{Outputs: outputs}, nil
}
