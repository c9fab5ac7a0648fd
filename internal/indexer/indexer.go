// Package indexer implements the indexer façade (component H of spec.md
// §4.H): a thin, total query/faceted/neighborhood API over a
// internal/graph.Index, plus index/deindex entry points that route to the
// graph's add/update/delete operations.
//
// Grounded on bdcrrm_api/graph.py's ExecutionGraphManager public surface
// (find_vertex, outdated_vertices, neighbors, add_vertex/remove_vertex,
// to_frame/inputs/outputs properties), translated to Go iterator-shaped
// return values (slices, since this corpus predates range-over-func
// iterators in its example repos).
package indexer

import (
	"compendium/internal/compendium"
	"compendium/internal/graph"
	"compendium/internal/hash"
)

// Entry pairs a compendium with its current status, the shape every
// query-like method returns (spec.md §4.H "iter<(compendium, status)>").
type Entry struct {
	Compendium *compendium.Compendium
	Status     compendium.Status
}

// NeighborhoodMode selects which edge direction Neighborhood.Query follows.
type NeighborhoodMode string

const (
	ModeIn  NeighborhoodMode = "in"
	ModeOut NeighborhoodMode = "out"
	ModeAll NeighborhoodMode = "all"
)

// NeighborhoodEntry is one match from Neighborhood.Query: the matched
// compendium, its status, and the neighborhood reached from it in the
// requested direction.
type NeighborhoodEntry struct {
	Compendium   *compendium.Compendium
	Status       compendium.Status
	Neighborhood []*compendium.Compendium
}

// Facade is the indexer façade: a thin wrapper around a graph.Index exposing
// the query/faceted/neighborhood surface spec.md §4.H names, plus the
// supplemented VertexTable/EdgeTable/AllInputs/AllOutputs reporting helpers.
type Facade struct {
	Index *graph.Index
}

// New returns a Facade over idx.
func New(idx *graph.Index) *Facade {
	return &Facade{Index: idx}
}

// Find returns every compendium satisfying predicate, paired with its
// status, in insertion order (spec.md §4.H "query.find").
func (f *Facade) Find(predicate func(*compendium.Compendium) bool) []Entry {
	matches := f.Index.Search(predicate)
	out := make([]Entry, len(matches))
	for i, c := range matches {
		out[i] = Entry{Compendium: c, Status: c.Status}
	}
	return out
}

// Outdated returns every OUTDATED compendium in topological order (spec.md
// §4.H "faceted.outdated").
func (f *Facade) Outdated() []Entry {
	cs := f.Index.Outdated()
	out := make([]Entry, len(cs))
	for i, c := range cs {
		out[i] = Entry{Compendium: c, Status: c.Status}
	}
	return out
}

// Neighborhood returns every compendium matching predicate, together with
// the set of compendia reached from it in the direction mode selects
// (spec.md §4.H "neighborhood.query").
func (f *Facade) Neighborhood(mode NeighborhoodMode, predicate func(*compendium.Compendium) bool) []NeighborhoodEntry {
	matches := f.Index.Search(predicate)
	out := make([]NeighborhoodEntry, len(matches))
	for i, c := range matches {
		out[i] = NeighborhoodEntry{
			Compendium:   c,
			Status:       c.Status,
			Neighborhood: f.neighbors(c.CommandDigest, mode),
		}
	}
	return out
}

func (f *Facade) neighbors(d hash.Digest, mode NeighborhoodMode) []*compendium.Compendium {
	var digests []hash.Digest
	switch mode {
	case ModeIn:
		digests = f.Index.Predecessors(d)
	case ModeOut:
		digests = f.Index.Successors(d)
	case ModeAll:
		seen := map[hash.Digest]struct{}{}
		for _, p := range f.Index.Predecessors(d) {
			seen[p] = struct{}{}
		}
		for _, s := range f.Index.Successors(d) {
			seen[s] = struct{}{}
		}
		for n := range seen {
			digests = append(digests, n)
		}
	}
	out := make([]*compendium.Compendium, 0, len(digests))
	for _, nd := range digests {
		if c, ok := f.Index.GetByDigest(nd); ok {
			out = append(out, c)
		}
	}
	return out
}

// IndexCompendium adds or updates c in the graph index and returns the
// resulting view (spec.md §4.H "index(compendium) → compendium_view";
// routes to add/update per §4.D).
func (f *Facade) IndexCompendium(c *compendium.Compendium) (*compendium.Compendium, error) {
	if err := f.Index.Add(c); err != nil {
		return nil, err
	}
	view, _ := f.Index.GetByDigest(c.CommandDigest)
	return view, nil
}

// Deindex removes name from the index (spec.md §4.H "deindex"; vertex-only
// unless includeDescendants).
func (f *Facade) Deindex(name string, includeDescendants bool) error {
	return f.Index.Delete(name, includeDescendants)
}

// VertexRow is one flattened row of VertexTable.
type VertexRow struct {
	Name          string
	CommandDigest hash.Digest
	Status        compendium.Status
	UpdatedAt     int64
	InputCount    int
	OutputCount   int
}

// VertexTable returns a flat, serializable view of every indexed vertex,
// in insertion order. Supplements bdcrrm_api/graph.py's `to_frame` for
// reporting independent of the iterator-shaped query/faceted/neighborhood
// API spec.md already requires.
func (f *Facade) VertexTable() []VertexRow {
	cs := f.Index.All()
	rows := make([]VertexRow, len(cs))
	for i, c := range cs {
		rows[i] = VertexRow{
			Name:          c.Name,
			CommandDigest: c.CommandDigest,
			Status:        c.Status,
			UpdatedAt:     c.UpdatedAt,
			InputCount:    len(c.Inputs),
			OutputCount:   len(c.Outputs),
		}
	}
	return rows
}

// EdgeRow is one flattened row of EdgeTable: a producer/consumer pair.
type EdgeRow struct {
	From hash.Digest
	To   hash.Digest
}

// EdgeTable returns every edge in the index, derived from each vertex's
// out-neighbors, in insertion order of the source vertex.
func (f *Facade) EdgeTable() []EdgeRow {
	var rows []EdgeRow
	for _, c := range f.Index.All() {
		for _, to := range f.Index.Successors(c.CommandDigest) {
			rows = append(rows, EdgeRow{From: c.CommandDigest, To: to})
		}
	}
	return rows
}

// AllInputs returns the flattened union of every indexed vertex's inputs,
// deduplicated by digest. Supplements bdcrrm_api/graph.py's `.inputs`
// aggregate property.
func (f *Facade) AllInputs() []compendium.FileRef {
	return flattenUnique(f.Index.All(), func(c *compendium.Compendium) []compendium.FileRef { return c.Inputs })
}

// AllOutputs returns the flattened union of every indexed vertex's outputs,
// deduplicated by digest. Supplements bdcrrm_api/graph.py's `.outputs`
// aggregate property.
func (f *Facade) AllOutputs() []compendium.FileRef {
	return flattenUnique(f.Index.All(), func(c *compendium.Compendium) []compendium.FileRef { return c.Outputs })
}

func flattenUnique(cs []*compendium.Compendium, pick func(*compendium.Compendium) []compendium.FileRef) []compendium.FileRef {
	seen := map[hash.Digest]struct{}{}
	var out []compendium.FileRef
	for _, c := range cs {
		for _, ref := range pick(c) {
			if _, ok := seen[ref.Digest]; ok {
				continue
			}
			seen[ref.Digest] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}
