// Package assign selects the next task for a requesting agent and commits
// the assignment. Selection is a pure function of a fresh board snapshot
// and the live ledger; the commit is a two-step write (ledger insert, then
// board update) where the ledger's unique task index arbitrates races
// between agents asking at the same time.
package assign

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/ledger"
	"github.com/zjrosen/foreman/internal/log"
)

// Scoring weights. The AI recommendation carries the most weight but can
// never dominate the deterministic signals; with the backend down it is
// pinned to 0.5 so rankings stay stable.
const (
	weightSkill     = 0.15
	weightPriority  = 0.15
	weightUnblock   = 0.25
	weightAI        = 0.30
	weightPredicted = 0.15
)

// DefaultMaxCommitRetries bounds how many times a losing agent restarts
// candidate selection before giving up with no-task.
const DefaultMaxCommitRetries = 3

// No-task reasons surfaced in tool payloads.
const (
	ReasonNoCandidates = "no_candidates"
	ReasonContention   = "contention"
	ReasonBoardRefused = "board_refused"
)

// Score is the full ranking breakdown for one candidate.
type Score struct {
	TaskID      string  `json:"task_id"`
	SkillMatch  float64 `json:"skill_match"`
	Priority    float64 `json:"priority"`
	Unblock     float64 `json:"unblock_impact"`
	AIScore     float64 `json:"ai_recommendation"`
	Predicted   float64 `json:"predicted_impact"`
	Total       float64 `json:"total"`
	AIRationale string  `json:"ai_rationale,omitempty"`
}

// Briefing is the work packet handed to the agent.
type Briefing struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	EstimatedHours     float64  `json:"estimated_hours,omitempty"`
}

// Decision is the outcome of a RequestNext call. HasTask false carries a
// Reason; Reused true means the agent already held the task and got it
// back instead of new work.
type Decision struct {
	HasTask        bool
	Reused         bool
	Reason         string
	Task           domain.Task
	Assignment     domain.Assignment
	LeaseExpiresAt time.Time
	Score          Score
	Briefing       Briefing
}

// Engine assigns tasks. Safe for concurrent use; all state lives in the
// ledger and on the board.
type Engine struct {
	board      board.Client
	ledger     ledger.Ledger
	ai         ai.Client
	policy     ledger.Policy
	maxRetries int
	now        func() time.Time
}

// Option tunes an Engine.
type Option func(*Engine)

// WithMaxCommitRetries overrides the bounded restart count for lost
// commit races.
func WithMaxCommitRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithPolicy overrides the lease policy used for expiry reporting.
func WithPolicy(p ledger.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an assignment engine over the board, ledger, and scorer.
func New(b board.Client, l ledger.Ledger, client ai.Client, opts ...Option) *Engine {
	e := &Engine{
		board:      b,
		ledger:     l,
		ai:         client,
		policy:     ledger.DefaultPolicy(),
		maxRetries: DefaultMaxCommitRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestNext returns the agent's next assignment. An agent holding a
// live assignment gets that task back rather than new work. No candidate
// returns HasTask false immediately; the engine never waits for work.
func (e *Engine) RequestNext(ctx context.Context, agent domain.Agent) (Decision, error) {
	entry, held, err := e.ledger.GetByAgent(ctx, agent.ID)
	if err != nil {
		return Decision{}, err
	}
	if held {
		dec, ok, err := e.reuse(ctx, entry)
		if err != nil || ok {
			return dec, err
		}
		// The held task is gone from the board; the stale entry was
		// dropped and selection proceeds.
	}

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		dec, lostRace, err := e.tryAssign(ctx, agent)
		if err != nil {
			return Decision{}, err
		}
		if !lostRace {
			return dec, nil
		}
		log.Debug(log.CatAssign, "Lost commit race, restarting selection",
			"agent", agent.ID, "attempt", attempt+1)
	}
	log.Warn(log.CatAssign, "Commit retries exhausted", "agent", agent.ID, "retries", e.maxRetries)
	return Decision{Reason: ReasonContention}, nil
}

// reuse rebuilds a decision for an assignment the agent already holds.
// Returns ok=false after dropping the entry when the task has left the
// board.
func (e *Engine) reuse(ctx context.Context, entry ledger.Entry) (Decision, bool, error) {
	snap, err := board.Snapshot(ctx, e.board)
	if err != nil {
		return Decision{}, false, err
	}
	task, ok := snap.Task(entry.TaskID)
	if !ok {
		log.Warn(log.CatAssign, "Held task vanished from board, dropping ledger entry",
			"agent", entry.AgentID, "task", entry.TaskID)
		if err := e.ledger.Remove(ctx, entry.AgentID, entry.TaskID); err != nil {
			return Decision{}, false, err
		}
		return Decision{}, false, nil
	}
	log.Info(log.CatAssign, "Agent already holds a task, returning it",
		"agent", entry.AgentID, "task", entry.TaskID)
	return Decision{
		HasTask:        true,
		Reused:         true,
		Task:           task,
		Assignment:     entry.Assignment,
		LeaseExpiresAt: entry.AssignedAt.Add(e.policy.TTL(task.EstimatedHours)),
		Briefing:       Brief(task),
	}, true, nil
}

// tryAssign runs one full selection + commit attempt. lostRace true means
// another agent took the chosen task between selection and commit and the
// caller should restart.
func (e *Engine) tryAssign(ctx context.Context, agent domain.Agent) (Decision, bool, error) {
	snap, err := board.Snapshot(ctx, e.board)
	if err != nil {
		return Decision{}, false, err
	}
	entries, err := e.ledger.List(ctx)
	if err != nil {
		return Decision{}, false, err
	}
	heldTasks := make(map[string]bool, len(entries))
	for _, en := range entries {
		heldTasks[en.TaskID] = true
	}

	cands := Candidates(snap, heldTasks)
	if len(cands) == 0 {
		return Decision{Reason: ReasonNoCandidates}, false, nil
	}

	scores := e.rank(ctx, agent, snap, cands)
	best := scores[0]
	task, _ := snap.Task(best.TaskID)

	entry, err := e.ledger.Insert(ctx, agent, task.ID, e.now())
	switch {
	case errors.Is(err, ledger.ErrTaskHeld):
		return Decision{}, true, nil
	case errors.Is(err, ledger.ErrAgentHolds):
		// A concurrent request for the same agent won; return its task.
		existing, held, gerr := e.ledger.GetByAgent(ctx, agent.ID)
		if gerr != nil {
			return Decision{}, false, gerr
		}
		if !held {
			return Decision{}, true, nil
		}
		dec, ok, rerr := e.reuse(ctx, existing)
		if rerr != nil || ok {
			return dec, false, rerr
		}
		return Decision{}, true, nil
	case err != nil:
		return Decision{}, false, err
	}

	status := domain.StatusInProgress
	assignee := agent.ID
	if err := e.board.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &status, Assignee: &assignee}); err != nil {
		if rerr := e.ledger.Remove(ctx, agent.ID, task.ID); rerr != nil {
			log.ErrorErr(log.CatAssign, "Rollback of ledger insert failed", rerr,
				"agent", agent.ID, "task", task.ID)
		}
		if errs.IsPermanent(err) {
			log.ErrorErr(log.CatAssign, "Board refused assignment, returning no-task", err,
				"agent", agent.ID, "task", task.ID)
			return Decision{Reason: ReasonBoardRefused}, false, nil
		}
		return Decision{}, false, err
	}

	log.Info(log.CatAssign, "Task assigned",
		"agent", agent.ID, "task", task.ID, "score", best.Total, "lease_id", entry.LeaseID)
	task.Status = domain.StatusInProgress
	task.Assignee = agent.ID
	return Decision{
		HasTask:        true,
		Task:           task,
		Assignment:     entry.Assignment,
		LeaseExpiresAt: entry.AssignedAt.Add(e.policy.TTL(task.EstimatedHours)),
		Score:          best,
		Briefing:       Brief(task),
	}, false, nil
}

// Candidates filters the snapshot down to assignable tasks: todo, not
// held in the ledger, all dependencies done. Deployment-class tasks are
// additionally gated, independent of declared dependencies: they need at
// least one implementation-class task on the board and none of them
// anywhere short of done.
func Candidates(snap *domain.ProjectSnapshot, heldTasks map[string]bool) []domain.Task {
	gateClosed := !snap.HasClass(domain.ClassImplementation) ||
		snap.HasClassInStatus(domain.ClassImplementation,
			domain.StatusTodo, domain.StatusInProgress, domain.StatusBlocked)

	var out []domain.Task
	for _, t := range snap.Tasks {
		if t.Status != domain.StatusTodo || heldTasks[t.ID] {
			continue
		}
		if !snap.DependenciesDone(t) {
			continue
		}
		if gateClosed && domain.Classify(t) == domain.ClassDeployment {
			continue
		}
		out = append(out, t)
	}
	return out
}

// rank scores every candidate for the agent and orders them best first.
// Ties fall to the smaller estimate, then the lexically smaller id.
func (e *Engine) rank(ctx context.Context, agent domain.Agent, snap *domain.ProjectSnapshot, cands []domain.Task) []Score {
	byID := make(map[string]domain.Task, len(cands))
	scores := make([]Score, 0, len(cands))
	for _, t := range cands {
		byID[t.ID] = t
		scores = append(scores, e.score(ctx, agent, snap, t))
	}
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		ta, tb := byID[a.TaskID], byID[b.TaskID]
		if ta.EstimatedHours != tb.EstimatedHours {
			return ta.EstimatedHours < tb.EstimatedHours
		}
		return a.TaskID < b.TaskID
	})
	return scores
}

// score computes the weighted ranking for one candidate.
func (e *Engine) score(ctx context.Context, agent domain.Agent, snap *domain.ProjectSnapshot, t domain.Task) Score {
	s := Score{
		TaskID:   t.ID,
		Priority: t.Priority.Score(),
		Unblock:  unblockImpact(snap, t),
	}
	s.SkillMatch = skillMatch(agent, t)
	s.Predicted = s.Priority * (1 + s.Unblock)
	if s.Predicted > 1 {
		s.Predicted = 1
	}

	s.AIScore = 0.5
	rec, err := e.ai.ScoreTaskForAgent(ctx, t, agent, ai.ScoreContext{
		CompletionPct: snap.CompletionPct(),
		TodoCount:     len(snap.TasksByStatus(domain.StatusTodo)),
		UnblockImpact: s.Unblock,
	})
	if err == nil {
		s.AIScore = clamp01(rec.Score)
		s.AIRationale = rec.Rationale
	} else if !errs.IsUnavailable(err) {
		log.Warn(log.CatAssign, "Scorer failed, using neutral recommendation",
			"task", t.ID, "error", err)
	}

	s.Total = weightSkill*s.SkillMatch +
		weightPriority*s.Priority +
		weightUnblock*s.Unblock +
		weightAI*s.AIScore +
		weightPredicted*s.Predicted
	return s
}

// skillMatch is the fraction of the task's skill labels the agent covers.
// Tasks without skill labels score zero; there is nothing to match.
func skillMatch(agent domain.Agent, t domain.Task) float64 {
	skills := t.SkillLabels()
	if len(skills) == 0 {
		return 0
	}
	hits := 0
	for _, s := range skills {
		if agent.HasSkill(s) {
			hits++
		}
	}
	return float64(hits) / float64(len(skills))
}

// unblockImpact is the fraction of todo tasks that would become
// assignable if t completed.
func unblockImpact(snap *domain.ProjectSnapshot, t domain.Task) float64 {
	todo := snap.TasksByStatus(domain.StatusTodo)
	if len(todo) == 0 {
		return 0
	}
	unblocked := 0
	for _, depID := range snap.Dependents(t.ID) {
		d, ok := snap.Task(depID)
		if !ok || d.Status != domain.StatusTodo {
			continue
		}
		ready := true
		for _, dep := range d.Dependencies {
			if dep == t.ID {
				continue
			}
			other, ok := snap.Task(dep)
			if ok && other.Status != domain.StatusDone {
				ready = false
				break
			}
		}
		if ready {
			unblocked++
		}
	}
	return float64(unblocked) / float64(len(todo))
}

// Brief packages the task for the agent: title, description, acceptance
// criteria, and the effort estimate.
func Brief(t domain.Task) Briefing {
	return Briefing{
		Title:              t.Title,
		Description:        t.Description,
		AcceptanceCriteria: AcceptanceCriteria(t),
		EstimatedHours:     t.EstimatedHours,
	}
}

// AcceptanceCriteria derives completion criteria from the task: bullet
// lines in the description verbatim, then a class-specific check.
func AcceptanceCriteria(t domain.Task) []string {
	var out []string
	for _, line := range strings.Split(t.Description, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			out = append(out, strings.TrimSpace(rest))
		} else if rest, ok := strings.CutPrefix(line, "* "); ok {
			out = append(out, strings.TrimSpace(rest))
		}
	}

	switch domain.Classify(t) {
	case domain.ClassImplementation:
		out = append(out, "New behavior is covered by passing tests")
	case domain.ClassTesting:
		out = append(out, "Test results are recorded on the task")
	case domain.ClassDeployment:
		out = append(out, "Deployment is verified in the target environment")
	default:
		if len(out) == 0 {
			out = append(out, "Work described in the task is complete and verifiable")
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
