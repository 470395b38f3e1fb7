// Package planner turns project descriptions and feature requests into
// published board tasks: PRD parsing with a deterministic template
// fallback, dependency inference, safety checking, and topological
// publication with plan-local id translation.
package planner

import (
	"fmt"
	"sort"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

// Edge is one dependency in a plan graph: Task depends on DependsOn.
// Declared edges come from the plan itself; inferred edges carry the
// rule that added them and a confidence used for cycle repair.
type Edge struct {
	Task       string
	DependsOn  string
	Inferred   bool
	Rule       string
	Confidence float64
}

// Graph holds a task plan with its dependency edges, keyed by plan-local
// ids. Edges are only ever added; cycle repair is the one exception and
// removes inferred edges only.
type Graph struct {
	order []string
	tasks map[string]*ai.PlannedTask
	deps  map[string]map[string]Edge
}

// NewGraph indexes a plan. Declared depends_on entries become declared
// edges with full confidence; duplicate local ids are rejected.
func NewGraph(tasks []ai.PlannedTask) (*Graph, error) {
	g := &Graph{
		tasks: make(map[string]*ai.PlannedTask, len(tasks)),
		deps:  make(map[string]map[string]Edge, len(tasks)),
	}
	for i := range tasks {
		t := &tasks[i]
		if t.LocalID == "" {
			return nil, errs.Permanent("build plan graph", fmt.Errorf("task %q has no plan id", t.Title))
		}
		if _, dup := g.tasks[t.LocalID]; dup {
			return nil, errs.Permanent("build plan graph", fmt.Errorf("duplicate plan id %q", t.LocalID))
		}
		g.tasks[t.LocalID] = t
		g.order = append(g.order, t.LocalID)
		g.deps[t.LocalID] = make(map[string]Edge)
	}
	for _, id := range g.order {
		for _, dep := range g.tasks[id].DependsOn {
			g.deps[id][dep] = Edge{Task: id, DependsOn: dep, Confidence: 1}
		}
	}
	return g, nil
}

// Task looks up a planned task by local id.
func (g *Graph) Task(id string) (*ai.PlannedTask, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// IDs returns local ids in plan order.
func (g *Graph) IDs() []string { return g.order }

// AddEdge records task -> dependsOn. Self-edges, unknown endpoints, and
// duplicates of existing edges are ignored; it reports whether the edge
// was added.
func (g *Graph) AddEdge(e Edge) bool {
	if e.Task == e.DependsOn {
		return false
	}
	if _, ok := g.tasks[e.Task]; !ok {
		return false
	}
	if _, ok := g.tasks[e.DependsOn]; !ok {
		return false
	}
	if _, exists := g.deps[e.Task][e.DependsOn]; exists {
		return false
	}
	g.deps[e.Task][e.DependsOn] = e
	return true
}

// AddExternalEdge records a dependency from a plan task onto an id
// outside the plan, typically an existing board task chosen as an
// integration point. External deps never participate in cycle handling;
// board tasks cannot depend back on unpublished ones.
func (g *Graph) AddExternalEdge(task, boardID string) bool {
	if _, ok := g.tasks[task]; !ok {
		return false
	}
	if _, inPlan := g.tasks[boardID]; inPlan {
		return false
	}
	if _, exists := g.deps[task][boardID]; exists {
		return false
	}
	g.deps[task][boardID] = Edge{Task: task, DependsOn: boardID, Confidence: 1}
	return true
}

// Dependencies returns the ids a task depends on, sorted for stable
// publication.
func (g *Graph) Dependencies(id string) []string {
	m := g.deps[id]
	out := make([]string, 0, len(m))
	for dep := range m {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// EdgeCount returns the total number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, m := range g.deps {
		n += len(m)
	}
	return n
}

// InferredEdges returns all inferred edges, stable order.
func (g *Graph) InferredEdges() []Edge {
	var out []Edge
	for _, id := range g.order {
		for _, dep := range g.Dependencies(id) {
			if e := g.deps[id][dep]; e.Inferred {
				out = append(out, e)
			}
		}
	}
	return out
}

// TopoSort returns ids ordered so every dependency precedes its
// dependents, preserving plan order among ready tasks. A cycle returns
// errs.CyclicPlanError carrying one cycle.
func (g *Graph) TopoSort() ([]string, error) {
	pending := make(map[string]int, len(g.order))
	for _, id := range g.order {
		n := 0
		for dep := range g.deps[id] {
			if _, inPlan := g.tasks[dep]; inPlan {
				n++
			}
		}
		pending[id] = n
	}

	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		for dep := range g.deps[id] {
			if _, inPlan := g.tasks[dep]; inPlan {
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	var out []string
	ready := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		deps := dependents[id]
		sort.Strings(deps)
		for _, next := range deps {
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(out) != len(g.order) {
		return nil, &errs.CyclicPlanError{Cycle: g.findCycle()}
	}
	return out, nil
}

// findCycle walks depth-first until it closes a loop, returning the task
// ids along it. Only called when a cycle is known to exist.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)
		for _, dep := range g.Dependencies(id) {
			if _, inPlan := g.tasks[dep]; !inPlan {
				continue
			}
			switch state[dep] {
			case inStack:
				for i, s := range stack {
					if s == dep {
						cycle = append(cycle, stack[i:]...)
						cycle = append(cycle, dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.order {
		if state[id] == unvisited && visit(id) {
			break
		}
	}
	return cycle
}

// RepairCycles removes inferred edges, lowest confidence first, until the
// graph sorts or maxRemovals is hit. Declared edges are never touched; a
// cycle made only of declared edges is unrepairable. Returns the removed
// edges.
func (g *Graph) RepairCycles(maxRemovals int) ([]Edge, error) {
	var removed []Edge
	for range maxRemovals {
		if _, err := g.TopoSort(); err == nil {
			return removed, nil
		}
		cycle := g.findCycle()
		victim, ok := g.lowestConfidenceInferred(cycle)
		if !ok {
			return removed, &errs.CyclicPlanError{Cycle: cycle}
		}
		delete(g.deps[victim.Task], victim.DependsOn)
		removed = append(removed, victim)
	}
	if _, err := g.TopoSort(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (g *Graph) lowestConfidenceInferred(cycle []string) (Edge, bool) {
	var best Edge
	found := false
	for i := 0; i+1 < len(cycle); i++ {
		// Cycle lists ids in dependency order: cycle[i] depends on cycle[i+1].
		e, ok := g.deps[cycle[i]][cycle[i+1]]
		if !ok || !e.Inferred {
			continue
		}
		if !found || e.Confidence < best.Confidence {
			best = e
			found = true
		}
	}
	return best, found
}

// asTask projects a planned task into a domain task for classification
// and scoring helpers.
func asTask(p *ai.PlannedTask) domain.Task {
	return domain.Task{
		ID:             p.LocalID,
		Title:          p.Title,
		Description:    p.Description,
		Labels:         p.Labels,
		Priority:       p.Priority,
		EstimatedHours: p.EstimatedHours,
		Dependencies:   p.DependsOn,
		Phase:          p.Phase,
	}
}
