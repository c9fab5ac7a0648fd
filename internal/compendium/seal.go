package compendium

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"compendium/internal/hash"

	"github.com/klauspost/compress/zstd"
)

var unixEpoch = time.Unix(0, 0).UTC()

// TarZstdSealer seals a trace directory's kept files into a single
// tar+zstd archive, written under outDir, then computes its digest.
//
// Sealing is one-shot per spec.md §4.C: the returned bundle path is treated
// as immutable from this point forward.
type TarZstdSealer struct {
	OutDir    string
	Algorithm hash.Algorithm
}

func (s *TarZstdSealer) Seal(dir string, keepRelPaths []string) (BundleRef, error) {
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return BundleRef{}, fmt.Errorf("seal: mkdir %s: %w", s.OutDir, err)
	}
	bundlePath := filepath.Join(s.OutDir, "bundle.sealed")

	f, err := os.Create(bundlePath)
	if err != nil {
		return BundleRef{}, fmt.Errorf("seal: create %s: %w", bundlePath, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return BundleRef{}, fmt.Errorf("seal: zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	sorted := append([]string(nil), keepRelPaths...)
	sort.Strings(sorted)

	for _, p := range sorted {
		full, archiveName := resolveSealEntry(dir, p)
		if err := addFileToTar(tw, full, archiveName); err != nil {
			return BundleRef{}, fmt.Errorf("seal: add %s: %w", p, err)
		}
	}

	if err := tw.Close(); err != nil {
		return BundleRef{}, fmt.Errorf("seal: close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return BundleRef{}, fmt.Errorf("seal: close zstd: %w", err)
	}
	if err := f.Sync(); err != nil {
		return BundleRef{}, fmt.Errorf("seal: sync %s: %w", bundlePath, err)
	}

	alg := s.Algorithm
	if alg == "" {
		alg = hash.SHA256
	}
	digest, err := hash.HashFile(bundlePath, alg)
	if err != nil {
		return BundleRef{}, fmt.Errorf("seal: digest %s: %w", bundlePath, err)
	}

	return BundleRef{Path: bundlePath, Digest: digest, Algorithm: alg}, nil
}

// resolveSealEntry turns one of Build's kept paths into the file to read and
// the name to store it under in the archive. Build's "other_files" entries
// come straight from the tracer as absolute paths, not paths relative to
// dir, so an absolute p is opened as-is; its archive name is then made
// relative to dir when it falls underneath it, and otherwise relative to the
// filesystem root so tar never stores an absolute name.
func resolveSealEntry(dir, p string) (full, archiveName string) {
	if !filepath.IsAbs(p) {
		return filepath.Join(dir, p), p
	}
	full = p
	if rel, err := filepath.Rel(dir, p); err == nil && !strings.HasPrefix(rel, "..") {
		archiveName = rel
		return full, archiveName
	}
	archiveName = strings.TrimPrefix(filepath.ToSlash(p), "/")
	return full, archiveName
}

func addFileToTar(tw *tar.Writer, fullPath, relPath string) error {
	info, err := os.Stat(fullPath)
	if err != nil {
		// A kept path that vanished between tracing and sealing is not
		// fatal to the whole bundle; skip it (mirrors the reproduction
		// side's tolerance of missing ephemeral files, spec.md §4.G).
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(relPath)
	// Normalize timestamps so bundle digests are reproducible across
	// re-packs of identical content (spec.md's staleness/identity model is
	// content-driven, not mtime-driven).
	hdr.ModTime = unixEpoch
	hdr.AccessTime = unixEpoch
	hdr.ChangeTime = unixEpoch

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	src, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}
