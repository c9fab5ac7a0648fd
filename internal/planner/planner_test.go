package planner

import (
	"errors"
	"testing"

	"compendium/internal/compendium"
	"compendium/internal/graph"
	"compendium/internal/hash"
)

func fileRef(digest string) compendium.FileRef {
	return compendium.FileRef{Path: digest, Digest: hash.Digest(digest), Algorithm: hash.SHA256}
}

func vtx(name, commandDigest string, inputs, outputs []string) *compendium.Compendium {
	c := &compendium.Compendium{Name: name, Command: []string{name}, CommandDigest: hash.Digest(commandDigest)}
	for _, d := range inputs {
		c.Inputs = append(c.Inputs, fileRef(d))
	}
	for _, d := range outputs {
		c.Outputs = append(c.Outputs, fileRef(d))
	}
	return c
}

func TestPlanRun_RefusedWhenIndexOutdated(t *testing.T) {
	idx := graph.New()
	a := vtx("a", "ca", nil, []string{"d1"})
	b := vtx("b", "cb", []string{"d1"}, nil)
	_ = idx.Add(a)
	_ = idx.Add(b)
	_ = idx.Add(vtx("a", "ca", nil, []string{"d1"})) // re-run a, marks b OUTDATED

	_, err := PlanRun(idx, []string{"echo", "hi"})
	if !errors.Is(err, ErrIndexOutdated) {
		t.Fatalf("expected ErrIndexOutdated, got %v", err)
	}
}

func TestPlanRun_Clean(t *testing.T) {
	idx := graph.New()
	p, err := PlanRun(idx, []string{"echo", "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Jobs) != 1 || p.Jobs[0].Kind != KindCommandJob {
		t.Fatalf("expected single command job, got %+v", p.Jobs)
	}
}

func TestPlanRerun_EmptyWhenNothingOutdated(t *testing.T) {
	idx := graph.New()
	_ = idx.Add(vtx("a", "ca", nil, []string{"d1"}))
	p, err := PlanRerun(idx)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Jobs) != 0 {
		t.Fatalf("expected empty plan, got %+v", p.Jobs)
	}
}

func TestPlanRerun_SelectsOutdatedWithRestrictedEdges(t *testing.T) {
	idx := graph.New()
	a := vtx("a", "ca", nil, []string{"d1"})
	b := vtx("b", "cb", []string{"d1"}, []string{"d2"})
	cc := vtx("c", "cc", []string{"d2"}, nil)
	_ = idx.Add(a)
	_ = idx.Add(b)
	_ = idx.Add(cc)
	_ = idx.Add(vtx("a", "ca", nil, []string{"d1"})) // marks b, c OUTDATED

	p, err := PlanRerun(idx)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Jobs) != 2 {
		t.Fatalf("expected 2 outdated jobs (b, c), got %d: %+v", len(p.Jobs), p.Jobs)
	}
	bJob, ok := p.JobByID(JobID("cb"))
	if !ok {
		t.Fatal("expected job for b")
	}
	if len(p.Edges[bJob.ID]) != 0 {
		t.Fatalf("expected b to have no predecessor edges within the rerun subset (a is not selected), got %v", p.Edges[bJob.ID])
	}
	cJob, ok := p.JobByID(JobID("cc"))
	if !ok {
		t.Fatal("expected job for c")
	}
	if len(p.Edges[cJob.ID]) != 1 || p.Edges[cJob.ID][0] != JobID("cb") {
		t.Fatalf("expected c to depend on b within the rerun subset, got %v", p.Edges[cJob.ID])
	}
}

func TestPlanReproduce_NeverRefusedAndPreservesFullEdgeSet(t *testing.T) {
	idx := graph.New()
	a := vtx("a", "ca", nil, []string{"d1"})
	b := vtx("b", "cb", []string{"d1"}, nil)
	_ = idx.Add(a)
	_ = idx.Add(b)
	_ = idx.Add(vtx("a", "ca", nil, []string{"d1"})) // index now has an OUTDATED vertex

	p, err := PlanReproduce(idx)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Jobs) != 2 {
		t.Fatalf("expected all vertices present, got %d", len(p.Jobs))
	}
	for _, j := range p.Jobs {
		if j.Kind != KindCompendiumJob || j.Compendium == nil {
			t.Fatalf("expected CompendiumJob with populated compendium, got %+v", j)
		}
	}
	bJob, _ := p.JobByID(JobID("cb"))
	if len(p.Edges[bJob.ID]) != 1 || p.Edges[bJob.ID][0] != JobID("ca") {
		t.Fatalf("expected b to depend on a, got %v", p.Edges[bJob.ID])
	}
}
