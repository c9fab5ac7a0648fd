package sandbox

import (
	"compendium/internal/errcode"
	"compendium/internal/hash"
)

// BundleCorrupt reports a sealed bundle whose recomputed digest no longer
// matches its recorded value.
func BundleCorrupt(path string, expected, actual hash.Digest) error {
	return errcode.New(errcode.KindIntegrity, "bundle %s corrupt: expected %s, got %s", path, expected, actual)
}

// BadEnvVar reports a malformed "NAME=VALUE" pair supplied as a required
// environment variable.
func BadEnvVar(pair string) error {
	return errcode.New(errcode.KindValidation, "malformed environment variable pair %q", pair)
}

// MissingExternalInput reports a required external input digest that was
// not supplied by the caller and could not be found among forwarded
// predecessor outputs either.
func MissingExternalInput(digest hash.Digest) error {
	return errcode.New(errcode.KindValidation, "missing external input %s", digest)
}

// ReproductionFailed reports a non-zero exit from the sandboxed command.
func ReproductionFailed(exitCode int) error {
	return errcode.New(errcode.KindExternal, "reproduction failed with exit code %d", exitCode)
}

// ReproductionTimeout reports a reproduction that exceeded its deadline.
func ReproductionTimeout() error {
	return errcode.New(errcode.KindExternal, "reproduction timed out")
}
