// Package graph implements the mutable pipeline graph index (component D):
// it holds compendia as vertices, keyed by their command digest, and
// maintains dependency edges, staleness, and required-external-inputs as an
// invariant of every mutation.
//
// Grounded on bdcrrm_api/graph.py's ExecutionGraphManager for the
// add/update/delete/rebuild_edges/propagate_staleness semantics, and on
// scriptweaver/internal/dag's canonical-ordering and Kahn's-algorithm idiom
// for cycle detection and deterministic topological order.
package graph

import (
	"sort"
	"sync"

	"compendium/internal/compendium"
	"compendium/internal/errcode"
	"compendium/internal/hash"
	"compendium/internal/metrics"
)

// vertex is the index's internal bookkeeping for one compendium.
type vertex struct {
	c   *compendium.Compendium
	out map[hash.Digest]struct{} // successor command digests
	in  map[hash.Digest]struct{} // predecessor command digests
	seq int64                    // insertion order, used as a topo-order tiebreak
}

// Index is the mutable pipeline graph index. The zero value is not usable;
// construct with New. An Index is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	byDigest map[hash.Digest]*vertex
	byName   map[string]*vertex
	clock    int64 // monotonic updated_at counter
	nextSeq  int64

	// Metrics is optional; a nil Metrics disables instrumentation entirely.
	Metrics *metrics.Registry
}

// New returns an empty graph index.
func New() *Index {
	return &Index{
		byDigest: make(map[hash.Digest]*vertex),
		byName:   make(map[string]*vertex),
	}
}

func (idx *Index) tick() int64 {
	idx.clock++
	return idx.clock
}

// Changes is the set of optionally-updated fields for Update.
type Changes struct {
	Bundle  *compendium.BundleRef
	Inputs  []compendium.FileRef
	Outputs []compendium.FileRef
}

func (ch Changes) empty() bool {
	return ch.Bundle == nil && ch.Inputs == nil && ch.Outputs == nil
}

// Add inserts compendium c as a new vertex. If a vertex with the same
// CommandDigest already exists, Add dispatches to Update instead (spec
// invariant 5: command_digest is unique across vertices).
//
// Fails with a errcode.KindGraphInvariant error if the insert would create a
// cycle, or if c.Name collides with a different existing vertex.
func (idx *Index) Add(c *compendium.Compendium) error {
	if c == nil {
		return errcode.New(errcode.KindValidation, "add: nil compendium")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.byDigest[c.CommandDigest]; ok {
		return idx.updateLocked(c.CommandDigest, Changes{
			Bundle:  &c.Bundle,
			Inputs:  c.Inputs,
			Outputs: c.Outputs,
		})
	}
	if other, ok := idx.byName[c.Name]; ok && other.c.CommandDigest != c.CommandDigest {
		return errcode.Wrap(errcode.KindGraphInvariant, ErrDuplicateName, "duplicate vertex name %q", c.Name)
	}

	t := idx.tick()
	c.Status = compendium.Updated
	c.UpdatedAt = t

	v := &vertex{c: c, out: map[hash.Digest]struct{}{}, in: map[hash.Digest]struct{}{}, seq: idx.nextSeq}
	idx.nextSeq++
	idx.byDigest[c.CommandDigest] = v
	idx.byName[c.Name] = v

	if err := idx.rebuildEdgesLocked(); err != nil {
		delete(idx.byDigest, c.CommandDigest)
		delete(idx.byName, c.Name)
		idx.rebuildEdgesLocked() //nolint:errcheck // restores the edge set that was acyclic before this insert.
		return err
	}

	idx.propagateStalenessLocked(c.CommandDigest, t)
	idx.recomputeRequiredInputsLocked()
	idx.Metrics.RecordMutation(len(idx.byDigest))
	return nil
}

// Update applies changes to the vertex identified by commandDigest. A nil
// field in changes leaves that attribute untouched. If changes is entirely
// empty, Update is a no-op.
func (idx *Index) Update(commandDigest hash.Digest, changes Changes) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.updateLocked(commandDigest, changes)
}

func (idx *Index) updateLocked(commandDigest hash.Digest, changes Changes) error {
	v, ok := idx.byDigest[commandDigest]
	if !ok {
		return errcode.Wrap(errcode.KindGraphInvariant, ErrUnknownVertex, "update: unknown vertex %s", commandDigest)
	}
	if changes.empty() {
		return nil
	}

	if changes.Bundle != nil {
		v.c.Bundle = *changes.Bundle
	}
	if changes.Inputs != nil {
		v.c.Inputs = changes.Inputs
	}
	if changes.Outputs != nil {
		v.c.Outputs = changes.Outputs
	}

	t := idx.tick()
	v.c.Status = compendium.Updated
	v.c.UpdatedAt = t

	if err := idx.rebuildEdgesLocked(); err != nil {
		return err
	}
	idx.propagateStalenessLocked(commandDigest, t)
	idx.recomputeRequiredInputsLocked()
	idx.Metrics.RecordMutation(len(idx.byDigest))
	return nil
}

// RestoreVertex inserts c into the index exactly as persisted, preserving
// its recorded Status and UpdatedAt rather than deriving them the way Add
// does. seq fixes c's position in insertion-order tiebreaks (topo order,
// Predecessors/Successors); callers restoring a whole snapshot should pass
// the original save-time ordering. Edges, required-inputs, and the index's
// internal clock are not updated until FinalizeRestore runs — restoring is
// a bulk operation, not a sequence of independent mutations.
func (idx *Index) RestoreVertex(c *compendium.Compendium, seq int64) error {
	if c == nil {
		return errcode.New(errcode.KindValidation, "restore: nil compendium")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.byDigest[c.CommandDigest]; ok {
		return errcode.Wrap(errcode.KindGraphInvariant, ErrDuplicateName, "restore: duplicate command digest %s", c.CommandDigest)
	}
	if _, ok := idx.byName[c.Name]; ok {
		return errcode.Wrap(errcode.KindGraphInvariant, ErrDuplicateName, "restore: duplicate vertex name %q", c.Name)
	}

	v := &vertex{c: c, out: map[hash.Digest]struct{}{}, in: map[hash.Digest]struct{}{}, seq: seq}
	idx.byDigest[c.CommandDigest] = v
	idx.byName[c.Name] = v
	if seq >= idx.nextSeq {
		idx.nextSeq = seq + 1
	}
	if c.UpdatedAt > idx.clock {
		idx.clock = c.UpdatedAt
	}
	return nil
}

// FinalizeRestore rebuilds edges and required-inputs for a freshly restored
// index, without touching any vertex's persisted Status or UpdatedAt. Call
// once after every vertex has been passed to RestoreVertex.
func (idx *Index) FinalizeRestore() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.rebuildEdgesLocked(); err != nil {
		return err
	}
	idx.recomputeRequiredInputsLocked()
	return nil
}

// Delete removes the vertex named name. If includeDescendants is true, the
// entire forward-reachable set (including name itself) is removed. Otherwise
// only name is removed and edges are rebuilt; surviving descendants may gain
// new entries in ExternalInputsRequired (spec.md §4.D edge-case policy: they
// are not automatically marked OUTDATED by this operation).
func (idx *Index) Delete(name string, includeDescendants bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	v, ok := idx.byName[name]
	if !ok {
		return errcode.Wrap(errcode.KindGraphInvariant, ErrUnknownVertex, "delete: unknown vertex %q", name)
	}

	victims := map[hash.Digest]struct{}{v.c.CommandDigest: {}}
	if includeDescendants {
		idx.reachableOutLocked(v.c.CommandDigest, victims)
	}

	for d := range victims {
		dv := idx.byDigest[d]
		delete(idx.byDigest, d)
		delete(idx.byName, dv.c.Name)
	}

	idx.rebuildEdgesLocked() //nolint:errcheck // deletion only shrinks the vertex set; it cannot introduce a cycle.
	idx.recomputeRequiredInputsLocked()
	idx.Metrics.RecordMutation(len(idx.byDigest))
	return nil
}

// reachableOutLocked adds to set every vertex reachable from start by
// following out-edges. start itself is not added; callers seed it.
func (idx *Index) reachableOutLocked(start hash.Digest, set map[hash.Digest]struct{}) {
	v, ok := idx.byDigest[start]
	if !ok {
		return
	}
	for d := range v.out {
		if _, seen := set[d]; seen {
			continue
		}
		set[d] = struct{}{}
		idx.reachableOutLocked(d, set)
	}
}

// rebuildEdgesLocked fully reconstructs the edge set per invariant 1: edge
// u->v exists iff outputs(u) intersect inputs(v) is non-empty. It also
// proves acyclicity via Kahn's algorithm and fails with KindGraphInvariant
// if any vertex is left unordered.
func (idx *Index) rebuildEdgesLocked() error {
	for _, v := range idx.byDigest {
		v.out = map[hash.Digest]struct{}{}
		v.in = map[hash.Digest]struct{}{}
	}

	for du, u := range idx.byDigest {
		uOut := u.c.OutputDigests()
		if len(uOut) == 0 {
			continue
		}
		for dv, v := range idx.byDigest {
			if du == dv {
				continue
			}
			for in := range v.c.InputDigests() {
				if _, hit := uOut[in]; hit {
					u.out[dv] = struct{}{}
					v.in[du] = struct{}{}
					break
				}
			}
		}
	}

	if _, err := idx.topoOrderLocked(outMode); err != nil {
		return err
	}
	return nil
}

// propagateStalenessLocked implements invariant 4: a BFS along out-edges
// from the vertex that just changed at logical time t. Any reached vertex
// with UpdatedAt < t is marked OUTDATED.
func (idx *Index) propagateStalenessLocked(from hash.Digest, t int64) {
	start, ok := idx.byDigest[from]
	if !ok {
		return
	}
	visited := map[hash.Digest]struct{}{from: {}}
	queue := []hash.Digest{}
	for d := range start.out {
		queue = append(queue, d)
	}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if _, seen := visited[d]; seen {
			continue
		}
		visited[d] = struct{}{}
		v := idx.byDigest[d]
		if v.c.UpdatedAt < t {
			v.c.Status = compendium.Outdated
		}
		for next := range v.out {
			queue = append(queue, next)
		}
	}
}

// recomputeRequiredInputsLocked implements invariant 3 for every vertex.
func (idx *Index) recomputeRequiredInputsLocked() {
	for _, v := range idx.byDigest {
		produced := map[hash.Digest]struct{}{}
		for pred := range v.in {
			for d := range idx.byDigest[pred].c.OutputDigests() {
				produced[d] = struct{}{}
			}
		}
		var required []hash.Digest
		for d := range v.c.InputDigests() {
			if _, have := produced[d]; !have {
				required = append(required, d)
			}
		}
		sort.Slice(required, func(i, j int) bool { return required[i] < required[j] })
		v.c.ExternalInputsRequired = required
	}
}

// Get returns the compendium currently indexed under name.
func (idx *Index) Get(name string) (*compendium.Compendium, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.byName[name]
	if !ok {
		return nil, false
	}
	return v.c, true
}

// GetByDigest returns the compendium indexed under the given command digest.
func (idx *Index) GetByDigest(d hash.Digest) (*compendium.Compendium, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.byDigest[d]
	if !ok {
		return nil, false
	}
	return v.c, true
}

// Predecessors returns the command digests of d's direct in-neighbors,
// ordered by insertion time.
func (idx *Index) Predecessors(d hash.Digest) []hash.Digest {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.byDigest[d]
	if !ok {
		return nil
	}
	return idx.sortedLocked(v.in)
}

// Successors returns the command digests of d's direct out-neighbors,
// ordered by insertion time.
func (idx *Index) Successors(d hash.Digest) []hash.Digest {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.byDigest[d]
	if !ok {
		return nil
	}
	return idx.sortedLocked(v.out)
}

func (idx *Index) sortedLocked(set map[hash.Digest]struct{}) []hash.Digest {
	out := make([]hash.Digest, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return idx.byDigest[out[i]].seq < idx.byDigest[out[j]].seq })
	return out
}

// Len returns the number of vertices currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byDigest)
}

// IsOutdated reports whether any vertex currently has OUTDATED status.
func (idx *Index) IsOutdated() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, v := range idx.byDigest {
		if v.c.Status == compendium.Outdated {
			return true
		}
	}
	return false
}

// All returns every indexed compendium, ordered by insertion sequence.
func (idx *Index) All() []*compendium.Compendium {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.orderedLocked()
}

func (idx *Index) orderedLocked() []*compendium.Compendium {
	vs := make([]*vertex, 0, len(idx.byDigest))
	for _, v := range idx.byDigest {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].seq < vs[j].seq })
	out := make([]*compendium.Compendium, len(vs))
	for i, v := range vs {
		out[i] = v.c
	}
	return out
}

// Search returns every indexed compendium satisfying predicate, in
// insertion order.
func (idx *Index) Search(predicate func(*compendium.Compendium) bool) []*compendium.Compendium {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []*compendium.Compendium
	for _, c := range idx.orderedLocked() {
		if predicate(c) {
			out = append(out, c)
		}
	}
	return out
}

// Outdated returns every OUTDATED compendium, in topological order.
func (idx *Index) Outdated() []*compendium.Compendium {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	order, _ := idx.topoOrderLocked(outMode)
	var out []*compendium.Compendium
	for _, d := range order {
		c := idx.byDigest[d].c
		if c.Status == compendium.Outdated {
			out = append(out, c)
		}
	}
	return out
}

type topoMode int

const (
	outMode topoMode = iota
	inMode
)

// TopoOrder returns a topological order of command digests, ties broken by
// insertion time. mode selects whether edges are followed as declared
// ("out": producers before consumers) or reversed ("in": consumers before
// producers).
func (idx *Index) TopoOrder(mode string) ([]hash.Digest, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m := outMode
	if mode == "in" {
		m = inMode
	}
	return idx.topoOrderLocked(m)
}

func (idx *Index) topoOrderLocked(mode topoMode) ([]hash.Digest, error) {
	indeg := make(map[hash.Digest]int, len(idx.byDigest))
	adj := make(map[hash.Digest][]hash.Digest, len(idx.byDigest))
	for d, v := range idx.byDigest {
		edges := v.out
		if mode == inMode {
			edges = v.in
		}
		adj[d] = nil
		for e := range edges {
			adj[d] = append(adj[d], e)
		}
		sort.Slice(adj[d], func(i, j int) bool { return idx.byDigest[adj[d][i]].seq < idx.byDigest[adj[d][j]].seq })
	}
	for d := range idx.byDigest {
		indeg[d] = 0
	}
	for _, v := range idx.byDigest {
		edges := v.out
		if mode == inMode {
			edges = v.in
		}
		for e := range edges {
			indeg[e]++
		}
	}

	ready := make([]hash.Digest, 0)
	for d, n := range indeg {
		if n == 0 {
			ready = append(ready, d)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return idx.byDigest[ready[i]].seq < idx.byDigest[ready[j]].seq })

	var order []hash.Digest
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return idx.byDigest[ready[i]].seq < idx.byDigest[ready[j]].seq })
		d := ready[0]
		ready = ready[1:]
		order = append(order, d)
		for _, next := range adj[d] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(idx.byDigest) {
		return nil, errcode.Wrap(errcode.KindGraphInvariant, ErrCycleDetected, "cycle detected among %d vertices", len(idx.byDigest)-len(order))
	}
	return order, nil
}
