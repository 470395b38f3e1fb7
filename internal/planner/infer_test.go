package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/domain"
)

func phaseTask(id, title, phase string, labels ...string) ai.PlannedTask {
	return ai.PlannedTask{LocalID: id, Title: title, Phase: phase, Labels: labels}
}

func inferRule(t *testing.T, g *Graph, task, dep string) Edge {
	t.Helper()
	for _, e := range g.InferredEdges() {
		if e.Task == task && e.DependsOn == dep {
			return e
		}
	}
	t.Fatalf("no inferred edge %s -> %s", task, dep)
	return Edge{}
}

func TestInferPhaseOrderLinksAdjacentPhases(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		phaseTask("t1", "Prepare repo", domain.PhaseSetup, "component:core"),
		phaseTask("t2", "Sketch schema", domain.PhaseDesign, "component:core"),
		phaseTask("t3", "Sketch dashboards", domain.PhaseDesign, "component:reporting"),
	})
	require.NoError(t, err)

	added := Infer(g)
	assert.Equal(t, 1, added)

	e := inferRule(t, g, "t2", "t1")
	assert.Equal(t, rulePhaseOrder, e.Rule)
	assert.InDelta(t, confidencePhaseOrder, e.Confidence, 1e-9)
	assert.Empty(t, g.Dependencies("t3"), "no shared component, no edge")
}

func TestInferPhaseOrderSkipsNonAdjacentPhases(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		phaseTask("t1", "Prepare repo", domain.PhaseSetup, "component:core"),
		phaseTask("t2", "Assemble pieces", domain.PhaseImplementation, "component:core"),
	})
	require.NoError(t, err)

	Infer(g)
	assert.Empty(t, g.Dependencies("t2"))
}

func TestInferTypeOrderCoversSharedComponents(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		phaseTask("impl", "Implement payment handlers", "", "component:payments"),
		phaseTask("test", "Verify payment flows", "", "component:payments"),
		phaseTask("deploy", "Deploy to production cluster", "", "component:payments"),
	})
	require.NoError(t, err)

	Infer(g)
	assert.ElementsMatch(t, []string{"impl", "test"}, g.Dependencies("deploy"))
	assert.Equal(t, ruleTypeOrder, inferRule(t, g, "deploy", "impl").Rule)
}

func TestInferTypeOrderTreatsMissingComponentsAsOverlap(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		phaseTask("impl", "Implement payment handlers", "", "component:payments"),
		phaseTask("deploy", "Deploy to production cluster", ""),
	})
	require.NoError(t, err)

	Infer(g)
	assert.Equal(t, []string{"impl"}, g.Dependencies("deploy"))
}

func TestInferTypeOrderProvenIndependentComponents(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		phaseTask("impl", "Implement payment handlers", "", "component:payments"),
		phaseTask("deploy", "Deploy docs site", "", "component:docs"),
	})
	require.NoError(t, err)

	Infer(g)
	assert.Empty(t, g.Dependencies("deploy"))
}

func TestInferTypeOrderHonorsOverrideSafety(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		phaseTask("impl", "Implement payment handlers", "", "component:payments"),
		phaseTask("deploy", "Deploy to production cluster", "", "component:payments", domain.LabelOverrideSafety),
	})
	require.NoError(t, err)

	Infer(g)
	assert.Empty(t, g.Dependencies("deploy"))
}

func TestInferExplicitReferences(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		{LocalID: "t1", Title: "Auth module"},
		{LocalID: "t2", Title: "Wire sessions", Description: "Builds on the auth module groundwork."},
		{LocalID: "t3", Title: "QA", Description: "Covers QA broadly."},
	})
	require.NoError(t, err)

	Infer(g)
	e := inferRule(t, g, "t2", "t1")
	assert.Equal(t, ruleExplicitRef, e.Rule)
	assert.InDelta(t, confidenceExplicitRef, e.Confidence, 1e-9)

	// Titles shorter than four characters never match.
	for _, id := range g.IDs() {
		for _, dep := range g.Dependencies(id) {
			assert.NotEqual(t, "t3", dep)
		}
	}
}

func TestInferNeverDuplicatesDeclaredEdges(t *testing.T) {
	g, err := NewGraph([]ai.PlannedTask{
		phaseTask("t1", "Prepare repo", domain.PhaseSetup, "component:core"),
		{LocalID: "t2", Title: "Sketch schema", Phase: domain.PhaseDesign,
			Labels: []string{"component:core"}, DependsOn: []string{"t1"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, g.EdgeCount())

	added := Infer(g)
	assert.Zero(t, added)
	assert.Equal(t, 1, g.EdgeCount())
	assert.Empty(t, g.InferredEdges())
}
