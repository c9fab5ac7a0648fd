// Package planner turns the graph index into execution plans: DAGs whose
// vertices are jobs and whose edges are a subset of the index edges
// restricted to the selected vertex set (spec.md §3 "Execution plan").
//
// Grounded on bdcrrm_api/graph_executor.py's ReproParaDAGParallelTopologicalExecutor,
// which builds a paradag.DAG by walking graph.topological_sorting() and wiring
// each vertex's predecessors — the same restrict-to-subset idea, expressed
// here as the three plan_run/plan_rerun/plan_reproduce entry points.
package planner

import (
	"compendium/internal/compendium"
	"compendium/internal/errcode"
	"compendium/internal/graph"
	"compendium/internal/hash"
)

// Kind distinguishes the two job shapes a plan can carry.
type Kind string

const (
	KindCommandJob    Kind = "command"
	KindCompendiumJob Kind = "compendium"
)

// JobID identifies a single vertex within a Plan.
type JobID string

// Job is one vertex of an execution plan.
type Job struct {
	ID   JobID
	Kind Kind

	// Command is populated when Kind == KindCommandJob.
	Command []string

	// Compendium is populated when Kind == KindCompendiumJob.
	Compendium *compendium.Compendium
}

// Plan is a DAG of jobs. Edges maps a job ID to the IDs of its direct
// predecessors, restricted to the jobs present in this plan.
type Plan struct {
	Jobs  []Job
	Edges map[JobID][]JobID
}

// JobByID returns the job with the given ID, if present. Plans are small
// (one per selected vertex), so a linear scan keeps the zero value of Plan
// usable without a constructor.
func (p *Plan) JobByID(id JobID) (Job, bool) {
	for _, j := range p.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// ErrIndexOutdated is returned by PlanRun when the index has OUTDATED
// vertices that have not yet been re-run.
var ErrIndexOutdated = errcode.New(errcode.KindState, "index has outdated vertices; run plan_rerun before planning new work")

func newPlan() *Plan {
	return &Plan{Edges: make(map[JobID][]JobID)}
}

func (p *Plan) addJob(j Job) {
	p.Jobs = append(p.Jobs, j)
}

// PlanRun produces a single-vertex plan wrapping a literal command that has
// not yet been indexed. Refuses with ErrIndexOutdated if idx has any
// OUTDATED vertex.
func PlanRun(idx *graph.Index, argv []string) (*Plan, error) {
	if idx.IsOutdated() {
		return nil, ErrIndexOutdated
	}
	if len(argv) == 0 {
		return nil, errcode.New(errcode.KindValidation, "plan_run: empty command")
	}
	p := newPlan()
	p.addJob(Job{ID: JobID("run:" + argv[0]), Kind: KindCommandJob, Command: argv})
	return p, nil
}

// PlanRerun selects every OUTDATED vertex, wraps each one's recorded command
// in a CommandJob, and restricts edges to this subset. Returns an empty plan
// if no vertex is OUTDATED. This is the one plan_* entry point exempt from
// the IndexOutdated guard applied to PlanRun.
func PlanRerun(idx *graph.Index) (*Plan, error) {
	outdated := idx.Outdated()
	p := newPlan()
	if len(outdated) == 0 {
		return p, nil
	}

	selected := make(map[hash.Digest]struct{}, len(outdated))
	for _, c := range outdated {
		selected[c.CommandDigest] = struct{}{}
	}

	for _, c := range outdated {
		id := JobID(c.CommandDigest)
		p.addJob(Job{ID: id, Kind: KindCommandJob, Command: c.Command})
	}
	for _, c := range outdated {
		id := JobID(c.CommandDigest)
		for _, pred := range idx.Predecessors(c.CommandDigest) {
			if _, ok := selected[pred]; !ok {
				continue
			}
			p.Edges[id] = append(p.Edges[id], JobID(pred))
		}
	}
	return p, nil
}

// PlanReproduce selects every vertex, wraps each in a CompendiumJob carrying
// its sealed bundle digest, and preserves the full edge set. Unlike
// PlanRun, it is never refused on account of OUTDATED vertices.
// Reproduction does not change any vertex's status; OUTDATED vertices stay
// OUTDATED until a rerun.
func PlanReproduce(idx *graph.Index) (*Plan, error) {
	all := idx.All()
	p := newPlan()
	for _, c := range all {
		id := JobID(c.CommandDigest)
		p.addJob(Job{ID: id, Kind: KindCompendiumJob, Compendium: c})
	}
	for _, c := range all {
		id := JobID(c.CommandDigest)
		for _, pred := range idx.Predecessors(c.CommandDigest) {
			p.Edges[id] = append(p.Edges[id], JobID(pred))
		}
	}
	return p, nil
}
