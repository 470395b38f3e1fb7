package planner

import (
	"strings"

	"github.com/zjrosen/foreman/internal/domain"
)

// Inference rule names and confidences. Cycle repair removes inferred
// edges lowest confidence first, so explicit-reference edges go before
// phase edges; type-ordering edges are hard and only fall as a last
// resort, after which the safety check decides the plan's fate.
const (
	rulePhaseOrder  = "phase_order"
	ruleTypeOrder   = "type_order"
	ruleExplicitRef = "explicit_ref"

	confidencePhaseOrder  = 0.8
	confidenceTypeOrder   = 1.0
	confidenceExplicitRef = 0.6
)

// Infer applies the dependency inference rules in order, adding edges
// only. Returns the number of edges added.
func Infer(g *Graph) int {
	added := 0
	added += inferPhaseOrder(g)
	added += inferTypeOrder(g)
	added += inferExplicitRefs(g)
	return added
}

// inferPhaseOrder links tasks in adjacent canonical phases when their
// component labels overlap: the later-phase task depends on the earlier.
func inferPhaseOrder(g *Graph) int {
	added := 0
	for _, laterID := range g.IDs() {
		later, _ := g.Task(laterID)
		laterTask := asTask(later)
		laterRank := domain.PhaseRank(laterTask.EffectivePhase())
		if laterRank <= 0 {
			continue
		}
		for _, earlierID := range g.IDs() {
			if earlierID == laterID {
				continue
			}
			earlier, _ := g.Task(earlierID)
			earlierTask := asTask(earlier)
			if domain.PhaseRank(earlierTask.EffectivePhase()) != laterRank-1 {
				continue
			}
			if !componentsOverlap(laterTask, earlierTask) {
				continue
			}
			if g.AddEdge(Edge{
				Task: laterID, DependsOn: earlierID,
				Inferred: true, Rule: rulePhaseOrder, Confidence: confidencePhaseOrder,
			}) {
				added++
			}
		}
	}
	return added
}

// inferTypeOrder adds the hard ordering: deployment-class tasks depend on
// every implementation-class and testing-class task they cannot be proven
// independent of. A shared component label ties the pair; a missing
// component label on either side leaves independence unprovable, so the
// edge is added conservatively.
func inferTypeOrder(g *Graph) int {
	added := 0
	for _, deployID := range g.IDs() {
		deploy, _ := g.Task(deployID)
		deployTask := asTask(deploy)
		if domain.Classify(deployTask) != domain.ClassDeployment {
			continue
		}
		for _, otherID := range g.IDs() {
			if otherID == deployID {
				continue
			}
			other, _ := g.Task(otherID)
			otherTask := asTask(other)
			class := domain.Classify(otherTask)
			if class != domain.ClassImplementation && class != domain.ClassTesting {
				continue
			}
			if !componentsOverlap(deployTask, otherTask) &&
				len(deployTask.ComponentLabels()) > 0 && len(otherTask.ComponentLabels()) > 0 {
				continue
			}
			if g.AddEdge(Edge{
				Task: deployID, DependsOn: otherID,
				Inferred: true, Rule: ruleTypeOrder, Confidence: confidenceTypeOrder,
			}) {
				added++
			}
		}
	}
	return added
}

// inferExplicitRefs links a task to any other task whose title its
// description names verbatim. Very short titles are skipped; they match
// everything.
func inferExplicitRefs(g *Graph) int {
	added := 0
	for _, id := range g.IDs() {
		t, _ := g.Task(id)
		desc := strings.ToLower(t.Description)
		if desc == "" {
			continue
		}
		for _, refID := range g.IDs() {
			if refID == id {
				continue
			}
			ref, _ := g.Task(refID)
			title := strings.ToLower(strings.TrimSpace(ref.Title))
			if len(title) < 4 || !strings.Contains(desc, title) {
				continue
			}
			if g.AddEdge(Edge{
				Task: id, DependsOn: refID,
				Inferred: true, Rule: ruleExplicitRef, Confidence: confidenceExplicitRef,
			}) {
				added++
			}
		}
	}
	return added
}

func componentsOverlap(a, b domain.Task) bool {
	bc := b.ComponentLabels()
	for _, ca := range a.ComponentLabels() {
		for _, cb := range bc {
			if ca == cb {
				return true
			}
		}
	}
	return false
}
