// Package persistence implements component I of spec.md §4.I: a
// SnapshotStore that serializes the whole graph index to a single
// versioned file, and a BundleStore that lays out sealed bundles
// content-addressed by compendium name and garbage-collects orphans.
//
// Grounded on scriptweaver/internal/recovery/state/store.go (atomic
// writes, sorted directory listing) and bdcrrm_api/persistence.py
// (GraphPersistencePickle/FilesPersistencePickle) together with
// bdcrrm_api/engine.py's _remove_unused_execution_files symmetric-
// difference GC.
package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"compendium/internal/compendium"
	"compendium/internal/graph"
)

// snapshotVersion guards against loading a snapshot written by an
// incompatible schema.
const snapshotVersion = 1

// snapshotVertex is the gob-encodable mirror of a compendium.Compendium,
// paired with its save-time insertion-order position. A plain
// gob.Encode(*graph.Index) is not possible since Index keeps its vertices
// behind an unexported map; SnapshotStore instead walks idx.All() on save
// (already in insertion order) and restores each vertex's Seq alongside it.
//
// Status and UpdatedAt are fields of the embedded Compendium itself and are
// persisted and restored verbatim: Load must not re-derive them (that would
// silently clear real staleness, since Add/Update assign a fresh monotonic
// tick in whatever order vertices are re-inserted, not their original
// mutation order). Only edges and required-inputs are recomputed on load.
type snapshotVertex struct {
	Compendium *compendium.Compendium
	Seq        int64
}

type snapshotDoc struct {
	Version  int
	Vertices []snapshotVertex
}

// SnapshotStore persists an entire graph.Index to a single file.
type SnapshotStore struct {
	path string
}

// NewSnapshotStore returns a SnapshotStore writing to path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Save serializes every vertex currently in idx, in insertion order, and
// atomically replaces the snapshot file (spec.md §4.I "one write per plan
// invocation, after the whole plan finishes").
func (s *SnapshotStore) Save(idx *graph.Index) error {
	doc := snapshotDoc{Version: snapshotVersion}
	for i, c := range idx.All() {
		doc.Vertices = append(doc.Vertices, snapshotVertex{Compendium: c, Seq: int64(i)})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("persistence: encode snapshot: %w", err)
	}
	if err := renameio.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("persistence: write snapshot %s: %w", s.path, err)
	}
	return nil
}

// Load rebuilds a fresh graph.Index from the snapshot file. Each vertex's
// Status and UpdatedAt are restored exactly as recorded (RestoreVertex,
// keyed by the saved Seq); only edges and required-inputs are recomputed,
// via a single FinalizeRestore once every vertex is in place. If the
// snapshot file does not exist, Load returns an empty index.
func (s *SnapshotStore) Load() (*graph.Index, error) {
	idx := graph.New()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("persistence: open snapshot %s: %w", s.path, err)
	}
	defer f.Close()

	var doc snapshotDoc
	if err := gob.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("persistence: decode snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("persistence: snapshot version %d unsupported (want %d)", doc.Version, snapshotVersion)
	}

	for _, sv := range doc.Vertices {
		if err := idx.RestoreVertex(sv.Compendium, sv.Seq); err != nil {
			return nil, fmt.Errorf("persistence: restore vertex %s: %w", sv.Compendium.Name, err)
		}
	}
	if err := idx.FinalizeRestore(); err != nil {
		return nil, fmt.Errorf("persistence: finalize restore: %w", err)
	}
	return idx, nil
}

// namesOf returns the set of vertex names present in idx.
func namesOf(idx *graph.Index) map[string]struct{} {
	out := map[string]struct{}{}
	for _, c := range idx.All() {
		out[c.Name] = struct{}{}
	}
	return out
}
