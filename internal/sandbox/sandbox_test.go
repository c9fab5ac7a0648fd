package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"compendium/internal/compendium"
	"compendium/internal/errcode"
	"compendium/internal/hash"
)

func mustBundle(t *testing.T, dir string) compendium.BundleRef {
	t.Helper()
	path := filepath.Join(dir, "bundle.sealed")
	if err := os.WriteFile(path, []byte("bundle-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := hash.HashFile(path, hash.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	return compendium.BundleRef{Path: path, Digest: d, Algorithm: hash.SHA256}
}

func TestCompendiumJob_BundleCorrupt(t *testing.T) {
	dir := t.TempDir()
	bundle := mustBundle(t, dir)
	bundle.Digest = hash.Digest("sha256:20:deadbeef")

	c := &compendium.Compendium{Bundle: bundle}
	job := CompendiumJob{Compendium: c, Unpacker: NewFakeUnpacker(), ScratchDir: t.TempDir(), DownloadDir: t.TempDir()}

	_, err := job.Submit(context.Background())
	if err == nil {
		t.Fatal("expected bundle-corrupt error")
	}
	var ce *errcode.Error
	if !errors.As(err, &ce) || ce.Kind != errcode.KindIntegrity {
		t.Fatalf("expected KindIntegrity, got %v", err)
	}
}

func TestCompendiumJob_BadEnvVar(t *testing.T) {
	dir := t.TempDir()
	c := &compendium.Compendium{Bundle: mustBundle(t, dir)}
	job := CompendiumJob{
		Compendium:                   c,
		Unpacker:                     NewFakeUnpacker(),
		ScratchDir:                   t.TempDir(),
		DownloadDir:                  t.TempDir(),
		RequiredEnvironmentVariables: []string{"NOVALUEHERE"},
	}
	_, err := job.Submit(context.Background())
	if err == nil {
		t.Fatal("expected bad env var error")
	}
}

func TestCompendiumJob_MissingExternalInput(t *testing.T) {
	dir := t.TempDir()
	c := &compendium.Compendium{
		Bundle:                 mustBundle(t, dir),
		ExternalInputsRequired: []hash.Digest{"sha256:4:abcd"},
	}
	job := CompendiumJob{Compendium: c, Unpacker: NewFakeUnpacker(), ScratchDir: t.TempDir(), DownloadDir: t.TempDir()}
	_, err := job.Submit(context.Background())
	if err == nil {
		t.Fatal("expected missing external input error")
	}
}

func TestCompendiumJob_ReproductionFailed(t *testing.T) {
	dir := t.TempDir()
	c := &compendium.Compendium{Bundle: mustBundle(t, dir)}
	fake := NewFakeUnpacker()
	fake.ExitCode = 1
	job := CompendiumJob{Compendium: c, Unpacker: fake, ScratchDir: t.TempDir(), DownloadDir: t.TempDir()}
	_, err := job.Submit(context.Background())
	if err == nil {
		t.Fatal("expected reproduction-failed error")
	}
	if !fake.TornDown {
		t.Fatal("expected teardown to run even on failure")
	}
}

func TestCompendiumJob_HappyPathCollectsOutputs(t *testing.T) {
	dir := t.TempDir()
	c := &compendium.Compendium{
		Bundle:        mustBundle(t, dir),
		CommandConfig: compendium.CommandConfig{Algorithm: hash.SHA256},
	}
	fake := NewFakeUnpacker()
	fake.Outputs = []string{"out.csv"}
	job := CompendiumJob{Compendium: c, Unpacker: fake, ScratchDir: t.TempDir(), DownloadDir: t.TempDir()}

	res, err := job.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Outputs) != 1 {
		t.Fatalf("expected one collected output, got %+v", res.Outputs)
	}
	if !fake.TornDown {
		t.Fatal("expected teardown to run")
	}
	if !fake.SetupCalled {
		t.Fatal("expected setup to run")
	}
}

func TestCompendiumJob_InputWiringPrefersPredecessorThenExternal(t *testing.T) {
	dir := t.TempDir()
	predecessorFile := filepath.Join(dir, "pred.bin")
	if err := os.WriteFile(predecessorFile, []byte("pred"), 0o644); err != nil {
		t.Fatal(err)
	}
	externalFile := filepath.Join(dir, "ext.bin")
	if err := os.WriteFile(externalFile, []byte("ext"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &compendium.Compendium{
		Bundle: mustBundle(t, dir),
		Inputs: []compendium.FileRef{
			{Path: "/trace/pred.bin", Digest: hash.Digest("d-pred"), Algorithm: hash.SHA256},
		},
		UnpackedFiles: []compendium.FileRef{
			{Path: "/trace/ext.bin", Digest: hash.Digest("d-ext"), Algorithm: hash.SHA256},
		},
		ExternalInputsRequired: []hash.Digest{"d-pred", "d-ext"},
	}

	fake := NewFakeUnpacker()
	job := CompendiumJob{
		Compendium:          c,
		Unpacker:            fake,
		ScratchDir:          t.TempDir(),
		DownloadDir:         t.TempDir(),
		PreviousOutputFiles: map[hash.Digest]string{"d-pred": predecessorFile},
		RequiredDataObjects: []RequiredDataObject{{Path: externalFile, Checksum: "d-ext"}},
	}

	if _, err := job.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fake.Uploaded["/trace/pred.bin"] != predecessorFile {
		t.Fatalf("expected predecessor file uploaded to recorded path, got %+v", fake.Uploaded)
	}
	if fake.Uploaded["/trace/ext.bin"] != externalFile {
		t.Fatalf("expected external file uploaded to recorded path, got %+v", fake.Uploaded)
	}
}
