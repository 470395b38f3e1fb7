package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/assign"
	"github.com/zjrosen/foreman/internal/coordinator"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/progress"
)

// ServiceName is the server name reported during initialization and by
// the ping tool.
const ServiceName = "foreman"

// serverInstructions is sent to agents during initialization.
const serverInstructions = `Foreman coordinates autonomous agents working a shared kanban board.
Call register_agent once with a stable agent_id, then loop: request_next_task,
work the task, and report_task_progress (in_progress as you go, completed or
blocked when done). Use report_blocker when stuck; the returned suggestion
tells you how to proceed. If a call fails with error_kind "agent_state",
resynchronize with get_agent_status before retrying.`

// ToolServer exposes a coordinator to worker agents as MCP tools.
type ToolServer struct {
	*Server
	coord *coordinator.Coordinator
}

// NewToolServer builds the agent-facing tool surface for coord.
func NewToolServer(coord *coordinator.Coordinator, version string) *ToolServer {
	ts := &ToolServer{
		Server: NewServer(ServiceName, version, WithInstructions(serverInstructions)),
		coord:  coord,
	}
	ts.registerTools()
	return ts
}

// toolError renders err as an isError tool result carrying the
// machine-readable kind, so agents pick retry or resynchronize without
// parsing prose.
func toolError(err error) (*ToolCallResult, error) {
	return StructuredError(err.Error(), errorPayload{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: errs.Kind(err),
	}), nil
}

func badArgs(err error) (*ToolCallResult, error) {
	return toolError(errs.Permanent("decode tool arguments", err))
}

// errorPayload is the structured content of every failed tool call.
type errorPayload struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}

type registerAgentArgs struct {
	AgentID string   `json:"agent_id"`
	Name    string   `json:"name"`
	Role    string   `json:"role"`
	Skills  []string `json:"skills"`
}

type registerAgentResponse struct {
	Success bool         `json:"success"`
	Agent   domain.Agent `json:"agent"`
}

type agentIDArgs struct {
	AgentID string `json:"agent_id"`
}

type assignmentPayload struct {
	TaskID         string          `json:"task_id"`
	LeaseID        int64           `json:"lease_id"`
	AssignedAt     time.Time       `json:"assigned_at"`
	LeaseExpiresAt time.Time       `json:"lease_expires_at"`
	Reused         bool            `json:"reused,omitempty"`
	Briefing       assign.Briefing `json:"briefing"`
	Score          assign.Score    `json:"score"`
}

type nextTaskResponse struct {
	HasTask    bool               `json:"has_task"`
	Reason     string             `json:"reason,omitempty"`
	Assignment *assignmentPayload `json:"assignment,omitempty"`
}

type reportProgressArgs struct {
	AgentID  string `json:"agent_id"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

type reportBlockerArgs struct {
	AgentID     string `json:"agent_id"`
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ackResponse acknowledges a progress or blocker report.
type ackResponse struct {
	Acknowledged bool `json:"acknowledged"`
	progress.Ack
}

type agentStatusResponse struct {
	Found bool          `json:"found"`
	Agent *domain.Agent `json:"agent,omitempty"`
	State string        `json:"state,omitempty"`
}

type listAgentsResponse struct {
	Count  int                       `json:"count"`
	Agents []coordinator.AgentStatus `json:"agents"`
}

type createProjectArgs struct {
	Description string        `json:"description"`
	ProjectName string        `json:"project_name"`
	Options     ai.PRDOptions `json:"options"`
}

type addFeatureArgs struct {
	FeatureDescription string `json:"feature_description"`
	IntegrationPoint   string `json:"integration_point"`
}

type pingArgs struct {
	Echo string `json:"echo"`
}

type pingResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Echo    string `json:"echo,omitempty"`
}

func (ts *ToolServer) handleRegisterAgent(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args registerAgentArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	agent, err := ts.coord.RegisterAgent(ctx, args.AgentID, args.Name, args.Role, args.Skills)
	if err != nil {
		return toolError(err)
	}

	text := fmt.Sprintf("Registered agent %q as %s.", agent.ID, agent.Role)
	return StructuredResult(text, registerAgentResponse{Success: true, Agent: agent}), nil
}

func (ts *ToolServer) handleRequestNextTask(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args agentIDArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	dec, err := ts.coord.RequestNextTask(ctx, args.AgentID)
	if err != nil {
		return toolError(err)
	}

	if !dec.HasTask {
		text := fmt.Sprintf("No task available (%s). Retry after a short backoff.", dec.Reason)
		return StructuredResult(text, nextTaskResponse{HasTask: false, Reason: dec.Reason}), nil
	}

	resp := nextTaskResponse{
		HasTask: true,
		Assignment: &assignmentPayload{
			TaskID:         dec.Task.ID,
			LeaseID:        dec.Assignment.LeaseID,
			AssignedAt:     dec.Assignment.AssignedAt,
			LeaseExpiresAt: dec.LeaseExpiresAt,
			Reused:         dec.Reused,
			Briefing:       dec.Briefing,
			Score:          dec.Score,
		},
	}
	verb := "Assigned"
	if dec.Reused {
		verb = "Already holding"
	}
	text := fmt.Sprintf("%s task %s: %s (lease expires %s).",
		verb, dec.Task.ID, dec.Task.Title, dec.LeaseExpiresAt.Format(time.RFC3339))
	return StructuredResult(text, resp), nil
}

func (ts *ToolServer) handleReportProgress(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args reportProgressArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	ack, err := ts.coord.ReportProgress(ctx, args.AgentID, args.TaskID, args.Status, args.Progress, args.Message)
	if err != nil {
		return toolError(err)
	}

	var text string
	switch {
	case ack.Duplicate:
		text = fmt.Sprintf("Task %s was already completed; nothing changed.", args.TaskID)
	case ack.Status == progress.ReportCompleted:
		text = fmt.Sprintf("Task %s completed and released.", args.TaskID)
	case ack.Status == progress.ReportBlocked:
		text = fmt.Sprintf("Task %s marked blocked and released.", args.TaskID)
	default:
		text = fmt.Sprintf("Progress on %s recorded at %d%%.", args.TaskID, args.Progress)
	}
	return StructuredResult(text, ackResponse{Acknowledged: true, Ack: ack}), nil
}

func (ts *ToolServer) handleReportBlocker(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args reportBlockerArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	ack, err := ts.coord.ReportBlocker(ctx, args.AgentID, args.TaskID, args.Description, args.Severity)
	if err != nil {
		return toolError(err)
	}

	text := fmt.Sprintf("Blocker recorded; task %s is released.", args.TaskID)
	if ack.Suggestion != nil {
		text = fmt.Sprintf("Blocker recorded; task %s is released. %s", args.TaskID, ack.Suggestion.Summary)
	}
	return StructuredResult(text, ackResponse{Acknowledged: true, Ack: ack}), nil
}

func (ts *ToolServer) handleGetAgentStatus(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args agentIDArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	st, found, err := ts.coord.GetAgentStatus(ctx, args.AgentID)
	if err != nil {
		return toolError(err)
	}

	if !found {
		text := fmt.Sprintf("No agent registered as %q.", args.AgentID)
		return StructuredResult(text, agentStatusResponse{Found: false, State: string(st.State)}), nil
	}

	agent := st.Agent
	text := fmt.Sprintf("Agent %q is %s.", agent.ID, st.State)
	if st.State == coordinator.StateWorking {
		text = fmt.Sprintf("Agent %q is working on %s.", agent.ID, agent.CurrentTask)
	}
	return StructuredResult(text, agentStatusResponse{Found: true, Agent: &agent, State: string(st.State)}), nil
}

func (ts *ToolServer) handleListAgents(ctx context.Context, _ json.RawMessage) (*ToolCallResult, error) {
	agents, err := ts.coord.ListAgents(ctx)
	if err != nil {
		return toolError(err)
	}

	text := fmt.Sprintf("%d agents registered.", len(agents))
	return StructuredResult(text, listAgentsResponse{Count: len(agents), Agents: agents}), nil
}

func (ts *ToolServer) handleGetProjectStatus(ctx context.Context, _ json.RawMessage) (*ToolCallResult, error) {
	status, err := ts.coord.GetProjectStatus(ctx)
	if err != nil {
		return toolError(err)
	}

	text := fmt.Sprintf("%d tasks, %.0f%% complete, board quality %s, mode %s.",
		status.TaskCount, status.CompletionPct, status.Quality.Class, status.Mode)
	return StructuredResult(text, status), nil
}

func (ts *ToolServer) handleCreateProject(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args createProjectArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	res, err := ts.coord.CreateProject(ctx, args.ProjectName, args.Description, args.Options)
	if err != nil {
		return toolError(err)
	}

	text := fmt.Sprintf("Created %d tasks across %d phases for %q (confidence %.2f, source %s).",
		res.TasksCreated, len(res.Phases), res.ProjectName, res.Confidence, res.Source)
	return StructuredResult(text, res), nil
}

func (ts *ToolServer) handleAddFeature(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args addFeatureArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	res, err := ts.coord.AddFeature(ctx, args.FeatureDescription, args.IntegrationPoint)
	if err != nil {
		return toolError(err)
	}

	text := fmt.Sprintf("Inserted %d feature tasks anchored at %d integration points (confidence %.2f).",
		res.TasksCreated, len(res.IntegrationPoints), res.Confidence)
	return StructuredResult(text, res), nil
}

func (ts *ToolServer) handlePing(_ context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args pingArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return badArgs(err)
		}
	}

	resp := pingResponse{
		Status:  "ok",
		Service: ts.info.Name,
		Version: ts.info.Version,
		Echo:    args.Echo,
	}
	text := "foreman is up."
	if args.Echo != "" {
		text = args.Echo
	}
	return StructuredResult(text, resp), nil
}

// registerTools registers the ten coordinator tools.
func (ts *ToolServer) registerTools() {
	ts.RegisterTool(Tool{
		Name:        "register_agent",
		Description: "Register this agent with the coordinator. Must be called once before requesting tasks. Re-registering a live agent_id fails; pick a stable unique id.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"agent_id": {Type: "string", Description: "Stable unique agent identifier (e.g. 'agent-frontend-1')"},
				"name":     {Type: "string", Description: "Human-readable agent name"},
				"role":     {Type: "string", Description: "Agent role (e.g. 'backend', 'frontend', 'qa')"},
				"skills": {
					Type:        "array",
					Description: "Skill keywords used for task matching (e.g. 'go', 'react', 'sql')",
					Items:       &PropertySchema{Type: "string"},
				},
			},
			Required: []string{"agent_id", "name", "role"},
		},
	}, ts.handleRegisterAgent)

	ts.RegisterTool(Tool{
		Name:        "request_next_task",
		Description: "Request the next best task for this agent. Returns has_task=false when nothing is assignable; retry after a short backoff. If the agent already holds a task, the same assignment is returned with reused=true.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"agent_id": {Type: "string", Description: "The registered agent id"},
			},
			Required: []string{"agent_id"},
		},
		OutputSchema: &OutputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"has_task": {Type: "boolean", Description: "Whether a task was assigned"},
				"reason":   {Type: "string", Description: "Why no task was assigned (no_candidates, contention, board_refused)"},
				"assignment": {
					Type:        "object",
					Description: "The assignment when has_task is true",
					Properties: map[string]*PropertySchema{
						"task_id":          {Type: "string", Description: "Assigned task id"},
						"lease_id":         {Type: "number", Description: "Monotonic lease sequence number"},
						"assigned_at":      {Type: "string", Description: "Assignment timestamp (RFC 3339)"},
						"lease_expires_at": {Type: "string", Description: "When the lease expires without a report (RFC 3339)"},
						"reused":           {Type: "boolean", Description: "True when the agent already held this task"},
						"briefing": {
							Type:        "object",
							Description: "What to build and how completion is judged",
							Properties: map[string]*PropertySchema{
								"title":               {Type: "string"},
								"description":         {Type: "string"},
								"acceptance_criteria": {Type: "array", Items: &PropertySchema{Type: "string"}},
								"estimated_hours":     {Type: "number"},
							},
							Required: []string{"title", "description"},
						},
						"score": {Type: "object", Description: "Per-factor selection score for this task"},
					},
					Required: []string{"task_id", "lease_id", "lease_expires_at", "briefing"},
				},
			},
			Required: []string{"has_task"},
		},
	}, ts.handleRequestNextTask)

	ts.RegisterTool(Tool{
		Name:        "report_task_progress",
		Description: "Report progress on the held task. in_progress adds a progress comment; completed moves the task to done and releases it; blocked releases the task for reassignment.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"agent_id": {Type: "string", Description: "The registered agent id"},
				"task_id":  {Type: "string", Description: "The held task id"},
				"status": {
					Type:        "string",
					Description: "Report status",
					Enum:        []string{"in_progress", "completed", "blocked"},
				},
				"progress": {Type: "number", Description: "Completion percentage, 0 to 100"},
				"message":  {Type: "string", Description: "Optional note recorded on the task"},
			},
			Required: []string{"agent_id", "task_id", "status"},
		},
	}, ts.handleReportProgress)

	ts.RegisterTool(Tool{
		Name:        "report_blocker",
		Description: "Report a blocker on the held task. The task is marked blocked and released; the response includes resolution guidance. Request a new task afterwards.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"agent_id":    {Type: "string", Description: "The registered agent id"},
				"task_id":     {Type: "string", Description: "The held task id"},
				"description": {Type: "string", Description: "What is blocking progress"},
				"severity": {
					Type:        "string",
					Description: "Blocker severity; defaults to medium",
					Enum:        []string{"low", "medium", "high"},
				},
			},
			Required: []string{"agent_id", "task_id", "description"},
		},
		OutputSchema: &OutputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"acknowledged": {Type: "boolean", Description: "Whether the blocker was recorded"},
				"released":     {Type: "boolean", Description: "Whether the assignment was released"},
				"suggestion": {
					Type:        "object",
					Description: "Resolution guidance",
					Properties: map[string]*PropertySchema{
						"summary": {Type: "string", Description: "One-line resolution summary"},
						"steps":   {Type: "array", Description: "Concrete next steps", Items: &PropertySchema{Type: "string"}},
					},
					Required: []string{"summary", "steps"},
				},
			},
			Required: []string{"acknowledged", "released"},
		},
	}, ts.handleReportBlocker)

	ts.RegisterTool(Tool{
		Name:        "get_agent_status",
		Description: "Look up an agent's registration, derived session state, and current task. Use this to resynchronize after an agent_state error.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"agent_id": {Type: "string", Description: "The agent id to look up"},
			},
			Required: []string{"agent_id"},
		},
	}, ts.handleGetAgentStatus)

	ts.RegisterTool(Tool{
		Name:        "list_registered_agents",
		Description: "List every registered agent with its derived session state, ordered by agent id.",
		InputSchema: &InputSchema{
			Type:       "object",
			Properties: map[string]*PropertySchema{},
			Required:   []string{},
		},
	}, ts.handleListAgents)

	ts.RegisterTool(Tool{
		Name:        "get_project_status",
		Description: "Summarize the board: task totals by status, completion percentage, quality score, coordination mode, and the agent roster.",
		InputSchema: &InputSchema{
			Type:       "object",
			Properties: map[string]*PropertySchema{},
			Required:   []string{},
		},
		OutputSchema: &OutputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"task_count":     {Type: "number", Description: "Total tasks on the board"},
				"totals":         {Type: "object", Description: "Task counts keyed by status"},
				"completion_pct": {Type: "number", Description: "Percentage of tasks done"},
				"quality":        {Type: "object", Description: "Board quality subscores, total, and class"},
				"mode":           {Type: "string", Description: "Coordination mode (creator, enricher, adaptive)"},
				"agents":         {Type: "array", Description: "Registered agents with session state"},
				"captured_at":    {Type: "string", Description: "Snapshot timestamp (RFC 3339)"},
			},
			Required: []string{"task_count", "totals", "completion_pct", "mode"},
		},
	}, ts.handleGetProjectStatus)

	ts.RegisterTool(Tool{
		Name:        "create_project_from_description",
		Description: "Synthesize a task plan from a prose project description and publish it to the board. Fails on a non-empty board unless options.allow_on_nonempty is set.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"description":  {Type: "string", Description: "Prose description of the project to plan"},
				"project_name": {Type: "string", Description: "Project name; derived from the description when omitted"},
				"options": {
					Type:        "object",
					Description: "Planning options",
					Properties: map[string]*PropertySchema{
						"team_size":  {Type: "number", Description: "Expected number of agents"},
						"tech_stack": {Type: "array", Description: "Technology keywords", Items: &PropertySchema{Type: "string"}},
						"deadline":   {Type: "string", Description: "Target date, YYYY-MM-DD"},
						"complexity": {
							Type:        "string",
							Description: "Plan depth",
							Enum:        []string{"mvp", "standard", "enterprise"},
						},
						"allow_on_nonempty": {Type: "boolean", Description: "Permit planning onto a board that already has tasks"},
					},
				},
			},
			Required: []string{"description"},
		},
	}, ts.handleCreateProject)

	ts.RegisterTool(Tool{
		Name:        "add_feature",
		Description: "Plan a small set of tasks for one feature and wire them into the live board at an integration point.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"feature_description": {Type: "string", Description: "Prose description of the feature"},
				"integration_point": {
					Type:        "string",
					Description: "Where the feature hooks into existing work; defaults to auto_detect",
					Enum:        []string{"auto_detect", "after_current", "parallel", "new_phase"},
				},
			},
			Required: []string{"feature_description"},
		},
	}, ts.handleAddFeature)

	ts.RegisterTool(Tool{
		Name:        "ping",
		Description: "Liveness check. Returns service identity and version; echoes back the optional payload.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"echo": {Type: "string", Description: "Optional string echoed back"},
			},
			Required: []string{},
		},
	}, ts.handlePing)
}
