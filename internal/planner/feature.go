package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/log"
)

// Integration points accepted by InsertFeature.
const (
	IntegrationAutoDetect   = "auto_detect"
	IntegrationAfterCurrent = "after_current"
	IntegrationParallel     = "parallel"
	IntegrationNewPhase     = "new_phase"
)

// Feature plans stay small: AI output outside this range is discarded in
// favor of the deterministic expansion.
const (
	minFeatureTasks = 3
	maxFeatureTasks = 8
)

// autoDetectOverlap is the token-overlap fraction above which an existing
// task is wired as a dependency of a new one.
const autoDetectOverlap = 0.2

// ParseIntegrationPoint validates an integration point name. Empty means
// auto_detect.
func ParseIntegrationPoint(s string) (string, error) {
	switch s {
	case "", IntegrationAutoDetect:
		return IntegrationAutoDetect, nil
	case IntegrationAfterCurrent, IntegrationParallel, IntegrationNewPhase:
		return s, nil
	default:
		return "", errs.Permanent("parse integration point",
			fmt.Errorf("unknown integration point %q; want auto_detect, after_current, parallel, or new_phase", s))
	}
}

// FeatureResult reports a feature insertion.
type FeatureResult struct {
	TasksCreated       int      `json:"tasks_created"`
	TaskIDs            []string `json:"task_ids,omitempty"`
	IntegrationPoints  []string `json:"integration_points"`
	DependenciesMapped int      `json:"dependencies_mapped"`
	Confidence         float64  `json:"confidence"`
	MissingTasks       []string `json:"missing_tasks,omitempty"`
	Source             string   `json:"source"`
}

// InsertFeature plans a small set of tasks for one feature and wires them
// into the live board at the requested integration point. The board must
// already hold tasks; safety runs against a fresh snapshot before anything
// is published.
func (p *Planner) InsertFeature(ctx context.Context, featureDescription, integrationPoint string) (FeatureResult, error) {
	point, err := ParseIntegrationPoint(integrationPoint)
	if err != nil {
		return FeatureResult{}, err
	}
	if strings.TrimSpace(featureDescription) == "" {
		return FeatureResult{}, errs.Permanent("insert feature", fmt.Errorf("feature description is required"))
	}

	existing, err := p.board.ListTasks(ctx)
	if err != nil {
		return FeatureResult{}, err
	}
	if len(existing) == 0 {
		return FeatureResult{}, errs.Permanent("insert feature",
			fmt.Errorf("board is empty; create a project before inserting features"))
	}
	snap := domain.NewSnapshot(existing)

	slug := featureSlug(featureDescription)
	plan, confidence, source := p.featurePlan(ctx, featureDescription, slug, snap)
	if point == IntegrationNewPhase {
		for i := range plan.Tasks {
			plan.Tasks[i].Labels = append(plan.Tasks[i].Labels, domain.LabelPhasePrefix+slug)
		}
	}
	for i := range plan.Tasks {
		plan.Tasks[i].Labels = domain.NormalizeLabels(plan.Tasks[i].Labels)
	}

	g, err := NewGraph(plan.Tasks)
	if err != nil {
		return FeatureResult{}, err
	}
	Infer(g)
	points := integrate(g, snap, point)
	if _, err := g.RepairCycles(maxCycleRepairs); err != nil {
		return FeatureResult{}, err
	}
	if err := CheckSafety(g, snap); err != nil {
		return FeatureResult{}, err
	}
	log.Info(log.CatPlanner, "Feature plan ready to publish",
		"tasks", len(plan.Tasks), "integration", point, "anchors", len(points), "source", source)

	outcome := p.publish(ctx, g)
	if outcome.err != nil && len(outcome.created) == 0 {
		return FeatureResult{}, outcome.err
	}

	return FeatureResult{
		TasksCreated:       len(outcome.created),
		TaskIDs:            outcome.createdIDs,
		IntegrationPoints:  points,
		DependenciesMapped: outcome.edges,
		Confidence:         confidence,
		MissingTasks:       outcome.missing,
		Source:             source,
	}, nil
}

// featurePlan asks the reasoning backend for a small plan for one feature
// and falls back to a deterministic four-task expansion when it is
// unavailable or out of range.
func (p *Planner) featurePlan(ctx context.Context, description, slug string, snap *domain.ProjectSnapshot) (ai.TaskPlan, float64, string) {
	prd := ai.PRDResult{
		Features:   []ai.Feature{{Name: featureTitle(description), Description: description}},
		Confidence: 0.75,
		Options:    ai.PRDOptions{Complexity: ai.ComplexityMVP},
	}
	plan, err := p.ai.SynthesizeTasks(ctx, prd)
	if err == nil && len(plan.Tasks) >= minFeatureTasks && len(plan.Tasks) <= maxFeatureTasks {
		for i := range plan.Tasks {
			plan.Tasks[i].Labels = append(plan.Tasks[i].Labels, "feature:"+slug)
		}
		return plan, 0.75, "ai"
	}
	if err != nil {
		log.Warn(log.CatPlanner, "Feature synthesis fell back to heuristic expansion", "error", err)
	} else {
		log.Warn(log.CatPlanner, "Feature plan size out of range; using heuristic expansion", "tasks", len(plan.Tasks))
	}
	return heuristicFeaturePlan(description, slug, snap), 0.5, "heuristic"
}

// heuristicFeaturePlan expands one feature into design, implement, verify,
// and integrate tasks. Component labels are inherited from existing board
// components named in the description so inference and auto_detect can
// anchor the work.
func heuristicFeaturePlan(description, slug string, snap *domain.ProjectSnapshot) ai.TaskPlan {
	title := featureTitle(description)
	labels := []string{"feature:" + slug}
	for _, component := range matchingComponents(description, snap) {
		labels = append(labels, domain.LabelComponentPrefix+component)
	}

	mk := func(id, title, desc, phase string, hours float64, deps ...string) ai.PlannedTask {
		return ai.PlannedTask{
			LocalID:        id,
			Title:          title,
			Description:    desc,
			Phase:          phase,
			Labels:         append([]string(nil), labels...),
			Priority:       domain.PriorityMedium,
			EstimatedHours: hours,
			DependsOn:      deps,
		}
	}

	return ai.TaskPlan{
		Tasks: []ai.PlannedTask{
			mk("design-"+slug, "Design "+title,
				"Sketch the approach for this feature: affected modules, data changes, and the rollout order. "+description,
				domain.PhaseDesign, 4),
			mk("impl-"+slug, "Implement "+title,
				"Build the feature behind the agreed design, with unit coverage for the new paths. "+description,
				domain.PhaseImplementation, 8, "design-"+slug),
			mk("wire-"+slug, "Integrate "+title+" with existing flows",
				"Connect the new code to the surrounding features and migrate any affected call sites.",
				domain.PhaseImplementation, 4, "impl-"+slug),
			mk("verify-"+slug, "Verify "+title,
				"Exercise the feature end to end, including the integration seams and regression checks on touched flows.",
				domain.PhaseTesting, 4, "impl-"+slug, "wire-"+slug),
		},
		Phases:        []string{domain.PhaseDesign, domain.PhaseImplementation, domain.PhaseTesting},
		EstimatedDays: 3,
	}
}

// integrate wires the plan into the existing board per the integration
// point and returns the board ids used as anchors.
func integrate(g *Graph, snap *domain.ProjectSnapshot, point string) []string {
	anchors := make(map[string]bool)

	switch point {
	case IntegrationAutoDetect:
		for _, id := range g.IDs() {
			t, _ := g.Task(id)
			if anchor, ok := detectAnchor(asTask(t), snap); ok && g.AddExternalEdge(id, anchor) {
				anchors[anchor] = true
			}
		}
	case IntegrationAfterCurrent:
		current := snap.TasksByStatus(domain.StatusInProgress)
		if len(current) == 0 && snap.Len() > 0 {
			current = snap.Tasks[len(snap.Tasks)-1:]
		}
		for _, root := range rootTasks(g) {
			for _, cur := range current {
				if g.AddExternalEdge(root, cur.ID) {
					anchors[cur.ID] = true
				}
			}
		}
	case IntegrationParallel:
		// Independent by request; only safety-required edges apply.
	case IntegrationNewPhase:
		if last, ok := lastTerminalPhaseTask(snap); ok {
			for _, root := range rootTasks(g) {
				if g.AddExternalEdge(root, last.ID) {
					anchors[last.ID] = true
				}
			}
		}
	}

	out := make([]string, 0, len(anchors))
	for id := range anchors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// detectAnchor picks the existing task a new one should depend on: the
// strongest token overlap above the threshold, else the latest unfinished
// task sharing a component label.
func detectAnchor(t domain.Task, snap *domain.ProjectSnapshot) (string, bool) {
	newTokens := taskTokens(t)

	bestScore := 0.0
	bestID := ""
	for _, existing := range snap.Tasks {
		score := overlapScore(newTokens, taskTokens(existing))
		if score > bestScore {
			bestScore = score
			bestID = existing.ID
		}
	}
	if bestScore >= autoDetectOverlap {
		return bestID, true
	}

	for i := len(snap.Tasks) - 1; i >= 0; i-- {
		existing := snap.Tasks[i]
		if existing.Status == domain.StatusDone {
			continue
		}
		if componentsOverlap(t, existing) {
			return existing.ID, true
		}
	}
	return "", false
}

// rootTasks returns plan tasks with no in-plan dependencies.
func rootTasks(g *Graph) []string {
	var roots []string
	for _, id := range g.IDs() {
		hasInPlan := false
		for _, dep := range g.Dependencies(id) {
			if _, inPlan := g.Task(dep); inPlan {
				hasInPlan = true
				break
			}
		}
		if !hasInPlan {
			roots = append(roots, id)
		}
	}
	return roots
}

// lastTerminalPhaseTask returns the most recently listed task in the
// board's latest canonical phase.
func lastTerminalPhaseTask(snap *domain.ProjectSnapshot) (domain.Task, bool) {
	terminal := 0
	for _, t := range snap.Tasks {
		if r := domain.PhaseRank(t.EffectivePhase()); r > terminal {
			terminal = r
		}
	}
	if terminal == 0 {
		if snap.Len() == 0 {
			return domain.Task{}, false
		}
		return snap.Tasks[len(snap.Tasks)-1], true
	}
	for i := len(snap.Tasks) - 1; i >= 0; i-- {
		if domain.PhaseRank(snap.Tasks[i].EffectivePhase()) == terminal {
			return snap.Tasks[i], true
		}
	}
	return domain.Task{}, false
}

// matchingComponents returns existing board component values named in the
// description.
func matchingComponents(description string, snap *domain.ProjectSnapshot) []string {
	tokens := tokenSet(description)
	seen := make(map[string]bool)
	var out []string
	for _, t := range snap.Tasks {
		for _, c := range t.ComponentLabels() {
			if seen[c] {
				continue
			}
			if tokens[strings.ToLower(c)] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

// taskTokens collects significant tokens from a task's title and labels.
func taskTokens(t domain.Task) map[string]bool {
	tokens := tokenSet(t.Title)
	for _, l := range t.Labels {
		if i := strings.IndexByte(l, ':'); i >= 0 {
			l = l[i+1:]
		}
		for tok := range tokenSet(l) {
			tokens[tok] = true
		}
	}
	return tokens
}

// overlapScore is the fraction of the smaller token set shared by both.
func overlapScore(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	hits := 0
	for tok := range small {
		if large[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(small))
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"into": true, "that": true, "this": true, "task": true, "add": true,
	"new": true, "existing": true, "feature": true, "support": true,
}

// tokenSet lowercases and splits text into significant word tokens.
func tokenSet(text string) map[string]bool {
	out := make(map[string]bool)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range fields {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

// featureSlug derives a short label-safe slug from the description.
func featureSlug(description string) string {
	words := strings.Fields(strings.TrimSpace(description))
	if len(words) > 4 {
		words = words[:4]
	}
	slug := Slugify(strings.Join(words, " "))
	if slug == "" {
		return "feature"
	}
	return slug
}

// featureTitle trims the description to its first clause for task titles.
func featureTitle(description string) string {
	title := strings.TrimSpace(description)
	if i := strings.IndexAny(title, ".\n;"); i > 0 {
		title = title[:i]
	}
	runes := []rune(title)
	if len(runes) > 60 {
		title = strings.TrimSpace(string(runes[:60]))
	}
	return title
}
