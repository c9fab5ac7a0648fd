package sandbox

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ProcessUnpacker is the default Unpacker: it extracts a bundle directly
// onto the local filesystem and runs the recorded command as a plain
// subprocess, without any container or chroot isolation. It exists so the
// sandbox driver has a working backend out of the box; a container-capable
// Unpacker can be substituted without touching CompendiumJob.
type ProcessUnpacker struct {
	Argv           []string
	OutputRelPaths []string

	scratchDir string
	env        []string
}

// NewProcessUnpacker returns an Unpacker that will run argv and report
// outputRelPaths (relative to the scratch directory) from ListOutputs.
func NewProcessUnpacker(argv []string, outputRelPaths []string) *ProcessUnpacker {
	return &ProcessUnpacker{Argv: argv, OutputRelPaths: outputRelPaths}
}

func (p *ProcessUnpacker) Setup(ctx context.Context, bundlePath, scratchDir string) error {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return fmt.Errorf("sandbox: mkdir %s: %w", scratchDir, err)
	}
	p.scratchDir = scratchDir
	p.env = os.Environ()

	f, err := os.Open(bundlePath)
	if err != nil {
		return fmt.Errorf("sandbox: open bundle %s: %w", bundlePath, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("sandbox: zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("sandbox: tar read: %w", err)
		}
		target := filepath.Join(scratchDir, filepath.FromSlash(hdr.Name))
		if hdr.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		out.Close()
	}
	return nil
}

func (p *ProcessUnpacker) Upload(ctx context.Context, source, target string) error {
	dst := filepath.Join(p.scratchDir, target)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("sandbox: upload open %s: %w", source, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("sandbox: upload create %s: %w", dst, err)
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (p *ProcessUnpacker) AddEnv(ctx context.Context, name, value string) error {
	p.env = append(p.env, name+"="+value)
	return nil
}

func (p *ProcessUnpacker) Run(ctx context.Context) (int, error) {
	if len(p.Argv) == 0 {
		return 0, fmt.Errorf("sandbox: empty command")
	}
	cmd := exec.CommandContext(ctx, p.Argv[0], p.Argv[1:]...)
	cmd.Dir = p.scratchDir
	cmd.Env = p.env

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("sandbox: run: %w", err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (p *ProcessUnpacker) Download(ctx context.Context, path, dest string) error {
	src := filepath.Join(p.scratchDir, path)
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func (p *ProcessUnpacker) ListOutputs(ctx context.Context) ([]string, error) {
	return p.OutputRelPaths, nil
}

func (p *ProcessUnpacker) Teardown(ctx context.Context) error {
	return os.RemoveAll(p.scratchDir)
}
