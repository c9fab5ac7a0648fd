package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"compendium/internal/graph"
)

// BundleStore lays out sealed bundles content-addressed by compendium name,
// at <root>/<name>/bundle.sealed (spec.md §4.I "Bundle store").
type BundleStore struct {
	root string
}

// NewBundleStore returns a BundleStore rooted at root.
func NewBundleStore(root string) *BundleStore {
	return &BundleStore{root: root}
}

// BundlePath returns the path a compendium named name's sealed bundle
// should live at, regardless of whether it currently exists.
func (s *BundleStore) BundlePath(name string) string {
	return filepath.Join(s.root, name, "bundle.sealed")
}

// Put moves the sealed bundle at sealedPath into the store under name,
// creating <root>/<name>/ if needed.
func (s *BundleStore) Put(name, sealedPath string) (string, error) {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persistence: mkdir %s: %w", dir, err)
	}
	dest := s.BundlePath(name)
	if err := os.Rename(sealedPath, dest); err != nil {
		return "", fmt.Errorf("persistence: move bundle to %s: %w", dest, err)
	}
	return dest, nil
}

// names returns the set of compendium names currently present on
// disk under root, one per immediate subdirectory.
func (s *BundleStore) names() (map[string]struct{}, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("persistence: read bundle root %s: %w", s.root, err)
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out[e.Name()] = struct{}{}
	}
	return out, nil
}

// GC removes every bundle directory not referenced by idx, and reports
// every name in idx that has no bundle directory on disk (a caller may
// treat that as corruption). It is run after every mutation to the index
// (spec.md §4.I: "enumerate compendium names in the index, enumerate
// directories under the bundle root, remove the symmetric difference"),
// grounded on bdcrrm_api/engine.py's _remove_unused_execution_files.
func (s *BundleStore) GC(idx *graph.Index) (removed []string, missing []string, err error) {
	onDisk, err := s.names()
	if err != nil {
		return nil, nil, err
	}
	indexed := namesOf(idx)

	for name := range onDisk {
		if _, ok := indexed[name]; !ok {
			if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
				return nil, nil, fmt.Errorf("persistence: remove orphaned bundle %s: %w", name, err)
			}
			removed = append(removed, name)
		}
	}
	for name := range indexed {
		if _, ok := onDisk[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(removed)
	sort.Strings(missing)
	return removed, missing, nil
}
