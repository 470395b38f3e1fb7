package planner

import (
	"errors"
	"fmt"

	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
)

// CheckSafety validates the plan invariants before anything is
// published. existing carries the current board for plans that integrate
// with it; nil means the plan stands alone.
//
// Invariants: every referenced dependency exists (in plan or on the
// board); no task is its own ancestor; no deployment task lacks an
// implementation dependency, direct or transitive, while implementation
// work exists.
func CheckSafety(g *Graph, existing *domain.ProjectSnapshot) error {
	for _, id := range g.IDs() {
		for _, dep := range g.Dependencies(id) {
			if _, inPlan := g.Task(dep); inPlan {
				continue
			}
			if existing != nil {
				if _, onBoard := existing.Task(dep); onBoard {
					continue
				}
			}
			return &errs.SafetyViolationError{
				Rule:   "missing_dependency",
				TaskID: id,
				Detail: fmt.Sprintf("dependency %q exists neither in the plan nor on the board", dep),
			}
		}
	}

	if _, err := g.TopoSort(); err != nil {
		var cyc *errs.CyclicPlanError
		if errors.As(err, &cyc) {
			return &errs.SafetyViolationError{
				Rule:   "self_ancestor",
				TaskID: firstOf(cyc.Cycle),
				Detail: cyc.Error(),
			}
		}
		return err
	}

	if !implementationExists(g, existing) {
		return nil
	}
	for _, id := range g.IDs() {
		t, _ := g.Task(id)
		if domain.Classify(asTask(t)) != domain.ClassDeployment {
			continue
		}
		if !reachesImplementation(g, existing, id) {
			return &errs.SafetyViolationError{
				Rule:   "deployment_ordering",
				TaskID: id,
				Detail: "deployment task has no implementation dependency while implementation work exists",
			}
		}
	}
	return nil
}

func firstOf(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// implementationExists reports whether any implementation-class task is
// in the plan or unfinished on the board. Finished board work imposes no
// ordering.
func implementationExists(g *Graph, existing *domain.ProjectSnapshot) bool {
	for _, id := range g.IDs() {
		t, _ := g.Task(id)
		if domain.Classify(asTask(t)) == domain.ClassImplementation {
			return true
		}
	}
	if existing == nil {
		return false
	}
	for _, t := range existing.Tasks {
		if t.Status != domain.StatusDone && domain.Classify(t) == domain.ClassImplementation {
			return true
		}
	}
	return false
}

// reachesImplementation walks the dependency closure of start, crossing
// from plan edges into board tasks, until it finds an
// implementation-class task.
func reachesImplementation(g *Graph, existing *domain.ProjectSnapshot, start string) bool {
	seen := map[string]bool{start: true}
	queue := g.Dependencies(start)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		if t, inPlan := g.Task(id); inPlan {
			if domain.Classify(asTask(t)) == domain.ClassImplementation {
				return true
			}
			queue = append(queue, g.Dependencies(id)...)
			continue
		}
		if existing == nil {
			continue
		}
		if t, onBoard := existing.Task(id); onBoard {
			if domain.Classify(t) == domain.ClassImplementation {
				return true
			}
			queue = append(queue, t.Dependencies...)
		}
	}
	return false
}
