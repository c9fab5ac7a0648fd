// Package compendium implements the compendium builder (component C of
// spec.md §4.C) and the compendium data model (spec.md §3): a self-contained,
// sealed bundle for a single traced command plus the structured metadata
// needed to index it in the pipeline graph and later reproduce it.
//
// Grounded on bdcrrm_api/reprozip.py (filter_reprozip_config_files,
// reprozip_remove_environment_variables, reprozip_pack_execution) for the
// classification/filtering/sealing pipeline, and on
// scriptweaver/internal/core/harvester.go for the artifact-harvesting shape.
package compendium

import "compendium/internal/hash"

// FileRef is a single file observed by the tracer: its path inside the
// traced environment and the digest of its contents at observation time
// (spec.md §3 "File reference").
type FileRef struct {
	Path      string        `json:"path"`
	Digest    hash.Digest   `json:"digest"`
	Algorithm hash.Algorithm `json:"algorithm"`
}

// BundleRef identifies the sealed bundle file on disk.
type BundleRef struct {
	Path      string        `json:"path"`
	Digest    hash.Digest   `json:"digest"`
	Algorithm hash.Algorithm `json:"algorithm"`
}

// Status is the vertex status described by spec.md §3/§4.D.
type Status string

const (
	Updated  Status = "UPDATED"
	Outdated Status = "OUTDATED"
)

// CommandConfig carries command-parsing hints, per spec.md §3.
type CommandConfig struct {
	Splitter  string        `json:"splitter"`
	Algorithm hash.Algorithm `json:"algorithm"`
}

// Compendium is the vertex payload of the pipeline graph: a sealed,
// content-addressed bundle for a single traced command, together with its
// structured metadata (spec.md §3).
type Compendium struct {
	Name          string      `json:"name"`
	Command       []string    `json:"command"`
	CommandDigest hash.Digest `json:"command_digest"`
	Bundle        BundleRef   `json:"bundle"`

	Inputs  []FileRef `json:"inputs"`
	Outputs []FileRef `json:"outputs"`

	// ExternalInputsRequired is the set of input digests not produced by any
	// in-index predecessor. Maintained by the graph index, not the builder;
	// the builder leaves it empty (spec.md §4.D "recompute_required_inputs").
	ExternalInputsRequired []hash.Digest `json:"external_inputs_required"`

	// UnpackedFiles are inputs filtered out of the bundle by data-source
	// rules; they must be supplied again at reproduction time.
	UnpackedFiles []FileRef `json:"unpacked_files"`

	// UnpackedEnvironmentVariables are environment variable names scrubbed
	// from the bundle as secrets.
	UnpackedEnvironmentVariables []string `json:"unpacked_environment_variables"`

	Status    Status `json:"status"`
	UpdatedAt int64  `json:"updated_at"`

	CommandConfig CommandConfig `json:"command_config"`
}

// OutputDigests returns the set of digests this compendium produces.
func (c *Compendium) OutputDigests() map[hash.Digest]struct{} {
	out := make(map[hash.Digest]struct{}, len(c.Outputs))
	for _, o := range c.Outputs {
		out[o.Digest] = struct{}{}
	}
	return out
}

// InputDigests returns the set of digests this compendium requires.
func (c *Compendium) InputDigests() map[hash.Digest]struct{} {
	out := make(map[hash.Digest]struct{}, len(c.Inputs))
	for _, in := range c.Inputs {
		out[in.Digest] = struct{}{}
	}
	return out
}
