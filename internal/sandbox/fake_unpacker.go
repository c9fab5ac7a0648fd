package sandbox

import (
	"context"
	"os"
	"path/filepath"
)

// FakeUnpacker is an in-memory Unpacker test double.
type FakeUnpacker struct {
	Uploaded    map[string]string // target -> source
	Env         map[string]string
	ExitCode    int
	RunErr      error
	Outputs     []string
	TornDown    bool
	SetupCalled bool
}

func NewFakeUnpacker() *FakeUnpacker {
	return &FakeUnpacker{Uploaded: map[string]string{}, Env: map[string]string{}}
}

func (f *FakeUnpacker) Setup(ctx context.Context, bundlePath, scratchDir string) error {
	f.SetupCalled = true
	return nil
}

func (f *FakeUnpacker) Upload(ctx context.Context, source, target string) error {
	f.Uploaded[target] = source
	return nil
}

func (f *FakeUnpacker) AddEnv(ctx context.Context, name, value string) error {
	f.Env[name] = value
	return nil
}

func (f *FakeUnpacker) Run(ctx context.Context) (int, error) {
	return f.ExitCode, f.RunErr
}

func (f *FakeUnpacker) Download(ctx context.Context, path, dest string) error {
	return writeFakeFile(dest, path)
}

func (f *FakeUnpacker) ListOutputs(ctx context.Context) ([]string, error) {
	return f.Outputs, nil
}

func (f *FakeUnpacker) Teardown(ctx context.Context) error {
	f.TornDown = true
	return nil
}

func writeFakeFile(dest, content string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(content), 0o644)
}
