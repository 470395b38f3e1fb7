// Package coordinator owns the process-wide coordination state: the
// agent registry, per-agent serialization, and the handles every tool
// call flows through. It sits between the MCP tool surface and the
// engine packages:
//
//	Agent (MCP client) -> tool surface -> Coordinator -> assign/planner/progress
//	                                          |
//	                                          +-> events broker -> log sink, event log
//
// The coordinator itself keeps almost nothing: agents live in a
// concurrent map, assignments live in the ledger, tasks live on the
// board. Session state is derived from those stores on demand, so a
// restart rebuilds everything from Recover plus re-registration.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/analyzer"
	"github.com/zjrosen/foreman/internal/assign"
	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/events"
	"github.com/zjrosen/foreman/internal/ledger"
	"github.com/zjrosen/foreman/internal/log"
	"github.com/zjrosen/foreman/internal/mode"
	"github.com/zjrosen/foreman/internal/planner"
	"github.com/zjrosen/foreman/internal/progress"
	"github.com/zjrosen/foreman/internal/pubsub"
)

// DefaultAgentStaleAfter is how long an idle agent may go unseen before
// eviction reclaims its id.
const DefaultAgentStaleAfter = time.Hour

// SessionState is where an agent sits in its lifecycle. Derived from the
// registry and the ledger rather than stored, so it can never drift.
type SessionState string

const (
	StateUnregistered SessionState = "unregistered"
	StateIdle         SessionState = "idle"
	StateWorking      SessionState = "working"
)

// Config wires a Coordinator. Board and Ledger are required; everything
// else has working defaults.
type Config struct {
	Board  board.Client
	Ledger ledger.Ledger

	// AI is the reasoning backend. Nil runs pure-fallback mode.
	AI ai.Client

	// Analyzer serves quality and status reads. Nil builds one over
	// Board with the default cache TTL.
	Analyzer *analyzer.Analyzer

	// BoardKey identifies the board in the mode store and analyzer
	// cache. Defaults to "default".
	BoardKey string

	// Policy derives lease TTLs for expiry reporting.
	Policy ledger.Policy

	// AgentStaleAfter bounds how long an idle agent stays registered
	// without being heard from.
	AgentStaleAfter time.Duration

	// MaxCommitRetries bounds assignment commit races.
	MaxCommitRetries int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// session is one registered agent plus its serialization lock. For any
// single agent only one tool call runs at a time; different agents run
// in parallel.
type session struct {
	mu    sync.Mutex
	agent domain.Agent
}

// Coordinator is the explicit coordination state passed to the tool
// surface. Safe for concurrent use.
type Coordinator struct {
	board    board.Client
	ledger   ledger.Ledger
	ai       ai.Client
	analyzer *analyzer.Analyzer
	planner  *planner.Planner
	engine   *assign.Engine
	tracker  *progress.Tracker
	modes    *mode.Store
	broker   *pubsub.Broker[events.Event]

	boardKey   string
	policy     ledger.Policy
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	agents map[string]*session
}

// New builds a coordinator and its engine stack.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Board == nil {
		return nil, fmt.Errorf("board client is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.AI == nil {
		cfg.AI = ai.Disabled()
	}
	if cfg.BoardKey == "" {
		cfg.BoardKey = "default"
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = analyzer.New(cfg.Board, cfg.BoardKey, 0)
	}
	if cfg.Policy == (ledger.Policy{}) {
		cfg.Policy = ledger.DefaultPolicy()
	}
	if cfg.AgentStaleAfter <= 0 {
		cfg.AgentStaleAfter = DefaultAgentStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	pl, err := planner.New(cfg.Board, cfg.AI)
	if err != nil {
		return nil, err
	}

	engineOpts := []assign.Option{assign.WithPolicy(cfg.Policy), assign.WithClock(cfg.Clock)}
	if cfg.MaxCommitRetries > 0 {
		engineOpts = append(engineOpts, assign.WithMaxCommitRetries(cfg.MaxCommitRetries))
	}

	return &Coordinator{
		board:      cfg.Board,
		ledger:     cfg.Ledger,
		ai:         cfg.AI,
		analyzer:   cfg.Analyzer,
		planner:    pl,
		engine:     assign.New(cfg.Board, cfg.Ledger, cfg.AI, engineOpts...),
		tracker:    progress.New(cfg.Board, cfg.Ledger, cfg.AI),
		modes:      mode.NewStore(),
		broker:     pubsub.NewBroker[events.Event](),
		boardKey:   cfg.BoardKey,
		policy:     cfg.Policy,
		staleAfter: cfg.AgentStaleAfter,
		now:        cfg.Clock,
	}, nil
}

// Events exposes the coordination event broker for subscribers.
func (c *Coordinator) Events() *pubsub.Broker[events.Event] {
	return c.broker
}

// Close shuts the event broker down. Called once on daemon shutdown.
func (c *Coordinator) Close() {
	c.broker.Close()
}

func (c *Coordinator) publish(t events.Type, agentID, taskID, detail string) {
	c.broker.Publish(events.New(t, agentID, taskID, detail))
}

// session returns the live session for an agent, if registered.
func (c *Coordinator) session(agentID string) (*session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.agents[agentID]
	return s, ok
}

// RegisterAgent creates an agent record. A live id cannot be taken; an
// id whose previous holder went stale while idle is reclaimed in place.
func (c *Coordinator) RegisterAgent(ctx context.Context, agentID, name, role string, skills []string) (domain.Agent, error) {
	if err := domain.ValidateAgentID(agentID); err != nil {
		return domain.Agent{}, err
	}

	// Ledger probe runs before the map lock; holding c.mu across I/O
	// would serialize every agent on this one registration.
	_, holding, err := c.ledger.GetByAgent(ctx, agentID)
	if err != nil {
		return domain.Agent{}, err
	}

	now := c.now()
	agent := domain.Agent{
		ID:           agentID,
		Name:         name,
		Role:         role,
		Skills:       append([]string(nil), skills...),
		RegisteredAt: now,
		LastSeen:     now,
	}

	c.mu.Lock()
	if c.agents == nil {
		c.agents = make(map[string]*session)
	}
	if existing, ok := c.agents[agentID]; ok {
		stale := now.Sub(existing.agent.LastSeen) > c.staleAfter
		if !stale || holding {
			c.mu.Unlock()
			return domain.Agent{}, &errs.DuplicateAgentError{AgentID: agentID}
		}
		log.Info(log.CatCoord, "Stale agent replaced on registration", "agent", agentID)
	}
	c.agents[agentID] = &session{agent: agent}
	c.mu.Unlock()

	log.Info(log.CatCoord, "Agent registered", "agent", agentID, "role", role, "skills", skills)
	c.publish(events.TypeAgentRegistered, agentID, "", role)
	return agent, nil
}

// AgentStatus is one registry row with derived session state.
type AgentStatus struct {
	Agent domain.Agent `json:"agent"`
	State SessionState `json:"state"`
}

// GetAgentStatus reports an agent's record and derived state. Unknown
// agents return found=false, not an error: status is how a confused
// agent resynchronizes.
func (c *Coordinator) GetAgentStatus(ctx context.Context, agentID string) (AgentStatus, bool, error) {
	s, ok := c.session(agentID)
	if !ok {
		return AgentStatus{State: StateUnregistered}, false, nil
	}

	entry, holding, err := c.ledger.GetByAgent(ctx, agentID)
	if err != nil {
		return AgentStatus{}, false, err
	}

	s.mu.Lock()
	agent := cloneAgent(s.agent)
	s.mu.Unlock()

	state := StateIdle
	agent.CurrentTask = ""
	if holding {
		state = StateWorking
		agent.CurrentTask = entry.TaskID
	}
	return AgentStatus{Agent: agent, State: state}, true, nil
}

// ListAgents returns every registered agent, ordered by id.
func (c *Coordinator) ListAgents(ctx context.Context) ([]AgentStatus, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	out := make([]AgentStatus, 0, len(ids))
	for _, id := range ids {
		st, ok, err := c.GetAgentStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// RequestNextTask assigns the best candidate task to the agent, or
// returns the task it already holds.
func (c *Coordinator) RequestNextTask(ctx context.Context, agentID string) (assign.Decision, error) {
	s, ok := c.session(agentID)
	if !ok {
		return assign.Decision{}, &errs.AgentStateError{AgentID: agentID, State: string(StateUnregistered), Op: "request_next_task"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent.LastSeen = c.now()

	dec, err := c.engine.RequestNext(ctx, s.agent)
	if err != nil {
		return dec, err
	}
	if dec.HasTask {
		s.agent.CurrentTask = dec.Task.ID
		if !dec.Reused {
			c.publish(events.TypeTaskAssigned, agentID, dec.Task.ID, dec.Task.Title)
		}
	} else {
		s.agent.CurrentTask = ""
	}
	return dec, nil
}

// ReportProgress applies one progress report and keeps the registry
// bookkeeping (completed counts, current task) in step.
func (c *Coordinator) ReportProgress(ctx context.Context, agentID, taskID, status string, percent int, message string) (progress.Ack, error) {
	s, ok := c.session(agentID)
	if !ok {
		return progress.Ack{}, &errs.AgentStateError{AgentID: agentID, State: string(StateUnregistered), Op: "report_task_progress"}
	}

	st, err := progress.ParseReportStatus(status)
	if err != nil {
		return progress.Ack{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent.LastSeen = c.now()

	ack, err := c.tracker.ReportProgress(ctx, agentID, taskID, st, percent, message)
	if err != nil {
		return ack, err
	}

	switch ack.Status {
	case progress.ReportCompleted:
		s.agent.CurrentTask = ""
		if !ack.Duplicate {
			s.agent.CompletedCount++
			c.analyzer.Invalidate()
			c.publish(events.TypeTaskCompleted, agentID, taskID, message)
		}
	case progress.ReportBlocked:
		s.agent.CurrentTask = ""
		c.analyzer.Invalidate()
		c.publish(events.TypeTaskBlocked, agentID, taskID, message)
	default:
		c.publish(events.TypeProgressReported, agentID, taskID, fmt.Sprintf("%d%%", percent))
	}
	return ack, nil
}

// ReportBlocker records a blocker on the agent's held task and returns
// resolution guidance.
func (c *Coordinator) ReportBlocker(ctx context.Context, agentID, taskID, description, severity string) (progress.Ack, error) {
	s, ok := c.session(agentID)
	if !ok {
		return progress.Ack{}, &errs.AgentStateError{AgentID: agentID, State: string(StateUnregistered), Op: "report_blocker"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent.LastSeen = c.now()

	ack, err := c.tracker.ReportBlocker(ctx, agentID, taskID, description, severity)
	if err != nil {
		return ack, err
	}
	s.agent.CurrentTask = ""
	c.analyzer.Invalidate()
	c.publish(events.TypeTaskBlocked, agentID, taskID, description)
	return ack, nil
}

// CreateProject synthesizes and publishes a task plan from prose.
func (c *Coordinator) CreateProject(ctx context.Context, name, description string, opts ai.PRDOptions) (planner.ProjectResult, error) {
	res, err := c.planner.CreateProject(ctx, name, description, opts)
	if err != nil {
		return res, err
	}
	c.refreshMode(ctx)
	c.publish(events.TypePlanPublished, "", "",
		fmt.Sprintf("%d tasks for %q", res.TasksCreated, res.ProjectName))
	return res, nil
}

// AddFeature inserts feature tasks wired into the live dependency graph.
func (c *Coordinator) AddFeature(ctx context.Context, featureDescription, integrationPoint string) (planner.FeatureResult, error) {
	res, err := c.planner.InsertFeature(ctx, featureDescription, integrationPoint)
	if err != nil {
		return res, err
	}
	c.refreshMode(ctx)
	c.publish(events.TypeFeatureInserted, "", "",
		fmt.Sprintf("%d tasks at %d integration points", res.TasksCreated, len(res.IntegrationPoints)))
	return res, nil
}

// refreshMode re-resolves the stored mode after a board mutation. Best
// effort: a failed quality read keeps the previous mode.
func (c *Coordinator) refreshMode(ctx context.Context) {
	c.analyzer.Invalidate()
	score, err := c.analyzer.Quality(ctx)
	if err != nil {
		log.Warn(log.CatCoord, "Mode refresh skipped", "error", err)
		return
	}
	m := mode.Select("", score.Class)
	c.modes.Set(c.boardKey, m)
	log.Debug(log.CatMode, "Mode refreshed", "board", c.boardKey, "class", score.Class, "mode", m)
}

// ProjectStatus is the summary returned by the status tool.
type ProjectStatus struct {
	TaskCount     int            `json:"task_count"`
	Totals        map[string]int `json:"totals"`
	CompletionPct float64        `json:"completion_pct"`
	Quality       analyzer.Score `json:"quality"`
	Mode          mode.Mode      `json:"mode"`
	Agents        []AgentStatus  `json:"agents"`
	CapturedAt    time.Time      `json:"captured_at"`
}

// GetProjectStatus reports board totals, quality, mode, and the agent
// roster. Reads tolerate the analyzer cache TTL of staleness.
func (c *Coordinator) GetProjectStatus(ctx context.Context) (ProjectStatus, error) {
	snap, err := c.analyzer.Snapshot(ctx)
	if err != nil {
		return ProjectStatus{}, err
	}
	score := analyzer.Analyze(snap)

	agents, err := c.ListAgents(ctx)
	if err != nil {
		return ProjectStatus{}, err
	}

	totals := make(map[string]int, 4)
	for status, n := range snap.StatusTotals() {
		totals[string(status)] = n
	}

	return ProjectStatus{
		TaskCount:     snap.Len(),
		Totals:        totals,
		CompletionPct: snap.CompletionPct(),
		Quality:       score,
		Mode:          c.modes.Resolve(c.boardKey, "", score.Class),
		Agents:        agents,
		CapturedAt:    snap.CapturedAt,
	}, nil
}

// OnLeaseExpired is wired as the sweeper's expiry hook: it idles the
// agent's bookkeeping and publishes the expiry event.
func (c *Coordinator) OnLeaseExpired(e ledger.Entry) {
	if s, ok := c.session(e.AgentID); ok {
		s.mu.Lock()
		if s.agent.CurrentTask == e.TaskID {
			s.agent.CurrentTask = ""
		}
		s.mu.Unlock()
	}
	c.publish(events.TypeLeaseExpired, e.AgentID, e.TaskID,
		fmt.Sprintf("lease %d expired", e.LeaseID))
}

// EvictStale drops idle agents unseen for longer than the staleness
// window. Agents holding a lease are never evicted here; the lease
// sweeper reclaims their task first.
func (c *Coordinator) EvictStale(ctx context.Context) []string {
	c.mu.RLock()
	candidates := make(map[string]*session, len(c.agents))
	for id, s := range c.agents {
		candidates[id] = s
	}
	c.mu.RUnlock()

	cutoff := c.now().Add(-c.staleAfter)
	var evicted []string
	for id, s := range candidates {
		// An agent mid-call is busy, not stale.
		if !s.mu.TryLock() {
			continue
		}
		lastSeen := s.agent.LastSeen
		s.mu.Unlock()
		if !lastSeen.Before(cutoff) {
			continue
		}

		_, holding, err := c.ledger.GetByAgent(ctx, id)
		if err != nil || holding {
			continue
		}

		c.mu.Lock()
		// Re-check under the write lock; the agent may have re-registered.
		if cur, ok := c.agents[id]; ok && cur == s {
			delete(c.agents, id)
			evicted = append(evicted, id)
		}
		c.mu.Unlock()
	}

	sort.Strings(evicted)
	for _, id := range evicted {
		log.Info(log.CatCoord, "Stale agent evicted", "agent", id, "after", c.staleAfter)
		c.publish(events.TypeAgentEvicted, id, "", "")
	}
	return evicted
}

// RunEviction evicts stale agents on the interval until ctx is done.
func (c *Coordinator) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictStale(ctx)
		}
	}
}

func cloneAgent(a domain.Agent) domain.Agent {
	a.Skills = append([]string(nil), a.Skills...)
	return a
}
