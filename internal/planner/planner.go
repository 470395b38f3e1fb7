package planner

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/log"
	"github.com/zjrosen/foreman/internal/planner/templates"
)

// maxCycleRepairs bounds how many inferred edges cycle repair may remove
// before giving up on a plan.
const maxCycleRepairs = 10

// Planner synthesizes and publishes task plans.
type Planner struct {
	board board.Client
	ai    ai.Client
	lib   *templates.Library
}

// New builds a planner over a board and a reasoning client. The embedded
// template library must parse; that failure is a build defect, not a
// runtime condition.
func New(b board.Client, aiClient ai.Client) (*Planner, error) {
	lib, err := templates.Load()
	if err != nil {
		return nil, err
	}
	return &Planner{board: b, ai: aiClient, lib: lib}, nil
}

// ProjectResult reports a publication.
type ProjectResult struct {
	ProjectName        string   `json:"project_name,omitempty"`
	TasksCreated       int      `json:"tasks_created"`
	TaskIDs            []string `json:"task_ids,omitempty"`
	Phases             []string `json:"phases"`
	EstimatedDays      int      `json:"estimated_days"`
	DependenciesMapped int      `json:"dependencies_mapped"`
	RiskLevel          string   `json:"risk_level"`
	Confidence         float64  `json:"confidence"`
	MissingTasks       []string `json:"missing_tasks,omitempty"`
	Source             string   `json:"source"`
	Deadline           string   `json:"deadline,omitempty"`
}

// CreateProject turns a prose description into published tasks. The board
// must be empty unless opts.AllowOnNonempty; plans must pass inference
// and safety before anything is created.
func (p *Planner) CreateProject(ctx context.Context, name, description string, opts ai.PRDOptions) (ProjectResult, error) {
	if err := opts.Validate(); err != nil {
		return ProjectResult{}, errs.Permanent("create project", err)
	}
	if strings.TrimSpace(description) == "" {
		return ProjectResult{}, errs.Permanent("create project", fmt.Errorf("description is required"))
	}

	existing, err := p.board.ListTasks(ctx)
	if err != nil {
		return ProjectResult{}, err
	}
	if len(existing) > 0 && !opts.AllowOnNonempty {
		return ProjectResult{}, errs.Permanent("create project",
			fmt.Errorf("board already holds %d tasks; set allow_on_nonempty to append", len(existing)))
	}
	snap := domain.NewSnapshot(existing)

	plan, confidence, source := p.synthesize(ctx, description, opts)
	if len(plan.Tasks) == 0 {
		return ProjectResult{}, errs.Permanent("create project", fmt.Errorf("synthesis produced an empty plan"))
	}
	biasLabels(&plan, opts.TechStack, name)

	g, err := NewGraph(plan.Tasks)
	if err != nil {
		return ProjectResult{}, err
	}
	inferred := Infer(g)
	removed, err := g.RepairCycles(maxCycleRepairs)
	if err != nil {
		return ProjectResult{}, err
	}
	if len(removed) > 0 {
		log.Warn(log.CatPlanner, "Cycle repair removed inferred edges", "removed", len(removed))
	}
	if err := CheckSafety(g, snap); err != nil {
		return ProjectResult{}, err
	}
	log.Info(log.CatPlanner, "Plan ready to publish",
		"tasks", len(plan.Tasks), "inferred", inferred, "source", source)

	outcome := p.publish(ctx, g)
	if outcome.err != nil && len(outcome.created) == 0 {
		return ProjectResult{}, outcome.err
	}

	res := ProjectResult{
		ProjectName:        name,
		TasksCreated:       len(outcome.created),
		TaskIDs:            outcome.createdIDs,
		Phases:             plan.Phases,
		EstimatedDays:      int(math.Ceil(plan.EstimatedDays)),
		DependenciesMapped: outcome.edges,
		Confidence:         confidence,
		MissingTasks:       outcome.missing,
		Source:             source,
		Deadline:           opts.Deadline,
	}
	res.RiskLevel = riskLevel(confidence, len(outcome.missing))
	return res, nil
}

// synthesize produces a task plan, preferring the reasoning backend and
// falling back to the template library when it is unavailable.
func (p *Planner) synthesize(ctx context.Context, description string, opts ai.PRDOptions) (ai.TaskPlan, float64, string) {
	prd, err := p.ai.ParsePRD(ctx, description, opts)
	if err == nil {
		plan, synthErr := p.ai.SynthesizeTasks(ctx, prd)
		if synthErr == nil && len(plan.Tasks) > 0 {
			return plan, prd.Confidence, "ai"
		}
		log.Warn(log.CatPlanner, "Task synthesis fell back to templates", "error", synthErr)
	} else {
		log.Warn(log.CatPlanner, "PRD parse fell back to templates", "error", err)
	}

	tmpl, score, matched := p.lib.Select(description)
	plan := tmpl.Expand(opts.EffectiveComplexity())
	confidence := 0.35
	if matched {
		confidence = math.Min(0.9, 0.5+score/2)
	}
	return plan, confidence, "template:" + tmpl.Name
}

// biasLabels applies tech-stack skill labels to implementation tasks and
// tags every task with the project slug.
func biasLabels(plan *ai.TaskPlan, techStack []string, projectName string) {
	slug := Slugify(projectName)
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if slug != "" {
			t.Labels = append(t.Labels, "project:"+slug)
		}
		if len(techStack) > 0 && t.Phase == domain.PhaseImplementation {
			for _, stack := range techStack {
				if s := Slugify(stack); s != "" {
					t.Labels = append(t.Labels, domain.LabelSkillPrefix+s)
				}
			}
		}
		t.Labels = domain.NormalizeLabels(t.Labels)
	}
}

// Slugify lowercases and hyphenates free text for use in labels.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func riskLevel(confidence float64, missing int) string {
	switch {
	case missing > 0 || confidence < 0.5:
		return "high"
	case confidence < 0.75:
		return "medium"
	default:
		return "low"
	}
}

// publishOutcome carries what a publication actually achieved.
type publishOutcome struct {
	created    map[string]string // plan-local id -> board id
	createdIDs []string
	missing    []string // titles of tasks not created
	edges      int
	err        error
}

// publish creates the plan's tasks in topological order, translating
// plan-local dependency ids to board ids as creates return. A permanent
// create failure skips the task and everything depending on it; the rest
// of the plan continues. Any other failure aborts what remains.
func (p *Planner) publish(ctx context.Context, g *Graph) publishOutcome {
	out := publishOutcome{created: make(map[string]string)}

	order, err := g.TopoSort()
	if err != nil {
		out.err = err
		return out
	}

	skipped := make(map[string]bool)
	aborted := false
	for _, id := range order {
		t, _ := g.Task(id)
		if aborted {
			out.missing = append(out.missing, t.Title)
			continue
		}

		var deps []string
		dropDependent := false
		for _, dep := range g.Dependencies(id) {
			if _, inPlan := g.Task(dep); !inPlan {
				deps = append(deps, dep)
				continue
			}
			if skipped[dep] {
				dropDependent = true
				break
			}
			deps = append(deps, out.created[dep])
		}
		if dropDependent {
			skipped[id] = true
			out.missing = append(out.missing, t.Title)
			continue
		}

		created, err := p.board.CreateTask(ctx, domain.TaskSpec{
			Title:          t.Title,
			Description:    t.Description,
			Labels:         t.Labels,
			Priority:       t.Priority,
			EstimatedHours: t.EstimatedHours,
			Dependencies:   deps,
			Phase:          t.Phase,
		})
		if err != nil {
			if errs.IsPermanent(err) {
				log.ErrorErr(log.CatPlanner, "Create failed; skipping task and dependents", err, "title", t.Title)
				skipped[id] = true
				out.missing = append(out.missing, t.Title)
				continue
			}
			log.ErrorErr(log.CatPlanner, "Create failed; aborting publication", err, "title", t.Title)
			out.missing = append(out.missing, t.Title)
			out.err = err
			aborted = true
			continue
		}
		out.created[id] = created.ID
		out.createdIDs = append(out.createdIDs, created.ID)
		out.edges += len(deps)
	}
	return out
}
