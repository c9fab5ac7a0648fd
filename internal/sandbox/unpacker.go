// Package sandbox implements the reproduction side of a pipeline job
// (component G): it materializes a sealed bundle into an isolated scratch
// environment, wires in its inputs, runs the recorded command, and collects
// its outputs.
//
// Grounded on bdcrrm_api/reprozip.py's reprounzip_setup/upload/
// add_environment_variables/run/download_all wrapper functions (the
// Unpacker interface below generalizes that plumbum-backed CLI wrapping
// into a pluggable Go interface) and bdcrrm_api/engine.py's
// _reproduce_operator (the step ordering CommandJob/CompendiumJob.Submit
// follow below).
package sandbox

import "context"

// Unpacker is the abstract, container-capable backend a CompendiumJob
// materializes a bundle into. Implementations wrap whatever isolation
// mechanism is available (a container runtime, a chroot, a plain
// subprocess); the sandbox driver treats it as opaque.
type Unpacker interface {
	// Setup materializes bundlePath's contents into a fresh environment
	// rooted at scratchDir.
	Setup(ctx context.Context, bundlePath, scratchDir string) error

	// Upload copies a local file at source into the sandboxed environment
	// at target.
	Upload(ctx context.Context, source, target string) error

	// AddEnv injects one environment variable into the command that Run
	// will execute.
	AddEnv(ctx context.Context, name, value string) error

	// Run executes the bundle's recorded command inside the sandbox and
	// returns its exit code.
	Run(ctx context.Context) (exitCode int, err error)

	// Download copies a file at path inside the sandbox to a local dest.
	Download(ctx context.Context, path, dest string) error

	// ListOutputs returns the sandbox-relative paths the tracer recorded as
	// outputs for this bundle's command.
	ListOutputs(ctx context.Context) ([]string, error)

	// Teardown releases any resources Setup allocated. Always called, even
	// when an earlier step failed.
	Teardown(ctx context.Context) error
}
