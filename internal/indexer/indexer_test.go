package indexer

import (
	"testing"

	"compendium/internal/compendium"
	"compendium/internal/graph"
	"compendium/internal/hash"
)

func fileRef(digest string) compendium.FileRef {
	return compendium.FileRef{Path: digest, Digest: hash.Digest(digest), Algorithm: hash.SHA256}
}

func vtx(name, commandDigest string, inputs, outputs []string) *compendium.Compendium {
	c := &compendium.Compendium{
		Name:          name,
		Command:       []string{name},
		CommandDigest: hash.Digest(commandDigest),
	}
	for _, d := range inputs {
		c.Inputs = append(c.Inputs, fileRef(d))
	}
	for _, d := range outputs {
		c.Outputs = append(c.Outputs, fileRef(d))
	}
	return c
}

func buildLinear(t *testing.T) *graph.Index {
	t.Helper()
	idx := graph.New()
	a := vtx("a", "ca", nil, []string{"d1"})
	b := vtx("b", "cb", []string{"d1"}, []string{"d2"})
	cc := vtx("c", "cc", []string{"d2"}, nil)
	for _, v := range []*compendium.Compendium{a, b, cc} {
		if err := idx.Add(v); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func TestFacade_Find(t *testing.T) {
	idx := buildLinear(t)
	f := New(idx)

	entries := f.Find(func(c *compendium.Compendium) bool { return c.Name == "b" })
	if len(entries) != 1 || entries[0].Compendium.Name != "b" {
		t.Fatalf("expected single match for b, got %+v", entries)
	}
	if entries[0].Status != compendium.Updated {
		t.Fatalf("expected UPDATED status, got %s", entries[0].Status)
	}
}

func TestFacade_Outdated(t *testing.T) {
	idx := buildLinear(t)
	f := New(idx)

	a2 := vtx("a", "ca", nil, []string{"d1"})
	if err := idx.Add(a2); err != nil {
		t.Fatal(err)
	}

	entries := f.Outdated()
	if len(entries) != 2 {
		t.Fatalf("expected b and c outdated, got %+v", entries)
	}
	if entries[0].Compendium.Name != "b" || entries[1].Compendium.Name != "c" {
		t.Fatalf("expected topological order b, c; got %s, %s", entries[0].Compendium.Name, entries[1].Compendium.Name)
	}
}

func TestFacade_NeighborhoodModes(t *testing.T) {
	idx := buildLinear(t)
	f := New(idx)

	out := f.Neighborhood(ModeOut, func(c *compendium.Compendium) bool { return c.Name == "a" })
	if len(out) != 1 || len(out[0].Neighborhood) != 1 || out[0].Neighborhood[0].Name != "b" {
		t.Fatalf("expected a's out-neighborhood to be {b}, got %+v", out)
	}

	in := f.Neighborhood(ModeIn, func(c *compendium.Compendium) bool { return c.Name == "c" })
	if len(in) != 1 || len(in[0].Neighborhood) != 1 || in[0].Neighborhood[0].Name != "b" {
		t.Fatalf("expected c's in-neighborhood to be {b}, got %+v", in)
	}

	all := f.Neighborhood(ModeAll, func(c *compendium.Compendium) bool { return c.Name == "b" })
	if len(all) != 1 || len(all[0].Neighborhood) != 2 {
		t.Fatalf("expected b's all-neighborhood to have 2 members, got %+v", all)
	}
}

func TestFacade_IndexCompendiumAndDeindex(t *testing.T) {
	idx := graph.New()
	f := New(idx)

	a := vtx("a", "ca", nil, []string{"d1"})
	view, err := f.IndexCompendium(a)
	if err != nil {
		t.Fatal(err)
	}
	if view.Name != "a" {
		t.Fatalf("expected view for a, got %+v", view)
	}

	if err := f.Deindex("a", false); err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 0 {
		t.Fatalf("expected index empty after deindex, got %d", idx.Len())
	}
}

func TestFacade_VertexTableAndEdgeTable(t *testing.T) {
	idx := buildLinear(t)
	f := New(idx)

	rows := f.VertexTable()
	if len(rows) != 3 {
		t.Fatalf("expected 3 vertex rows, got %d", len(rows))
	}
	if rows[0].Name != "a" || rows[0].OutputCount != 1 {
		t.Fatalf("unexpected first row %+v", rows[0])
	}

	edges := f.EdgeTable()
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %+v", edges)
	}
	if edges[0].From != hash.Digest("ca") || edges[0].To != hash.Digest("cb") {
		t.Fatalf("unexpected first edge %+v", edges[0])
	}
}

func TestFacade_AllInputsAndAllOutputs(t *testing.T) {
	idx := buildLinear(t)
	f := New(idx)

	inputs := f.AllInputs()
	if len(inputs) != 2 {
		t.Fatalf("expected 2 distinct input digests across the graph, got %+v", inputs)
	}

	outputs := f.AllOutputs()
	if len(outputs) != 2 {
		t.Fatalf("expected 2 distinct output digests across the graph, got %+v", outputs)
	}
}
