package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/foreman/internal/board/memory"
	"github.com/zjrosen/foreman/internal/coordinator"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/errs"
	"github.com/zjrosen/foreman/internal/ledger"
)

func newToolServer(t *testing.T, b *memory.Board) *ToolServer {
	t.Helper()
	c, err := coordinator.New(coordinator.Config{Board: b, Ledger: ledger.NewMemory()})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return NewToolServer(c, "0.1.0-test")
}

// call invokes a registered tool handler the way dispatch would.
func call(t *testing.T, ts *ToolServer, name, args string) *ToolCallResult {
	t.Helper()
	handler, ok := ts.handlers[name]
	require.True(t, ok, "tool %q not registered", name)

	res, err := handler(context.Background(), json.RawMessage(args))
	require.NoError(t, err, "handlers render failures as tool results")
	require.NotNil(t, res)
	return res
}

// decodeStructured round-trips a result's structured content into out.
func decodeStructured(t *testing.T, res *ToolCallResult, out any) {
	t.Helper()
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

// requireToolError asserts an isError result carrying the given kind.
func requireToolError(t *testing.T, res *ToolCallResult, kind string) {
	t.Helper()
	require.True(t, res.IsError, "expected a failed tool result, got: %s", firstText(res))

	var payload errorPayload
	decodeStructured(t, res, &payload)
	require.False(t, payload.Success)
	require.NotEmpty(t, payload.Error)
	require.Equal(t, kind, payload.ErrorKind)
}

func seedTask(id, title string) domain.Task {
	return domain.Task{
		ID:             id,
		Title:          title,
		Description:    "Implement and verify " + title,
		Status:         domain.StatusTodo,
		Labels:         []string{"component:api", "skill:go"},
		EstimatedHours: 3,
	}
}

func TestToolServerRegistersExactlyTenTools(t *testing.T) {
	ts := newToolServer(t, memory.New())

	expected := []string{
		"register_agent",
		"request_next_task",
		"report_task_progress",
		"report_blocker",
		"get_agent_status",
		"list_registered_agents",
		"get_project_status",
		"create_project_from_description",
		"add_feature",
		"ping",
	}

	require.Equal(t, expected, ts.names, "tool set and listing order")
	for _, name := range expected {
		_, ok := ts.tools[name]
		require.True(t, ok, "tool %q not registered", name)
		_, ok = ts.handlers[name]
		require.True(t, ok, "handler for %q not registered", name)
	}
	require.Len(t, ts.tools, len(expected))
}

func TestToolSchemasAreValid(t *testing.T) {
	ts := newToolServer(t, memory.New())

	for name, tool := range ts.tools {
		t.Run(name, func(t *testing.T) {
			require.NotEmpty(t, tool.Name)
			require.NotEmpty(t, tool.Description)
			require.NotNil(t, tool.InputSchema)
			require.Equal(t, "object", tool.InputSchema.Type)
			for _, req := range tool.InputSchema.Required {
				_, ok := tool.InputSchema.Properties[req]
				require.True(t, ok, "required property %q is not declared", req)
			}
		})
	}

	status := ts.tools["report_task_progress"].InputSchema.Properties["status"]
	require.Equal(t, []string{"in_progress", "completed", "blocked"}, status.Enum)
	severity := ts.tools["report_blocker"].InputSchema.Properties["severity"]
	require.Equal(t, []string{"low", "medium", "high"}, severity.Enum)
}

func TestRegisterAgentTool(t *testing.T) {
	ts := newToolServer(t, memory.New())

	res := call(t, ts, "register_agent",
		`{"agent_id": "a1", "name": "Builder One", "role": "implementer", "skills": ["go", "sql"]}`)
	require.False(t, res.IsError)
	require.Contains(t, res.Content[0].Text, "a1")

	var resp registerAgentResponse
	decodeStructured(t, res, &resp)
	require.True(t, resp.Success)
	require.Equal(t, "a1", resp.Agent.ID)
	require.Equal(t, []string{"go", "sql"}, resp.Agent.Skills)

	dup := call(t, ts, "register_agent",
		`{"agent_id": "a1", "name": "Impostor", "role": "tester"}`)
	requireToolError(t, dup, errs.KindDuplicateAgent)
}

func TestRequestNextTaskRequiresRegistration(t *testing.T) {
	ts := newToolServer(t, memory.NewSeeded(seedTask("task-001", "Build API")))

	res := call(t, ts, "request_next_task", `{"agent_id": "ghost"}`)
	requireToolError(t, res, errs.KindAgentState)
}

func TestAgentLifecycleThroughTools(t *testing.T) {
	b := memory.NewSeeded(seedTask("task-001", "Build API"))
	ts := newToolServer(t, b)

	call(t, ts, "register_agent", `{"agent_id": "a1", "name": "Builder", "role": "implementer", "skills": ["go"]}`)

	res := call(t, ts, "request_next_task", `{"agent_id": "a1"}`)
	require.False(t, res.IsError)
	var next nextTaskResponse
	decodeStructured(t, res, &next)
	require.True(t, next.HasTask)
	require.NotNil(t, next.Assignment)
	require.Equal(t, "task-001", next.Assignment.TaskID)
	require.Equal(t, "Build API", next.Assignment.Briefing.Title)
	require.False(t, next.Assignment.LeaseExpiresAt.IsZero())

	// Re-requesting returns the held task instead of an error.
	res = call(t, ts, "request_next_task", `{"agent_id": "a1"}`)
	decodeStructured(t, res, &next)
	require.True(t, next.HasTask)
	require.True(t, next.Assignment.Reused)

	status := call(t, ts, "get_agent_status", `{"agent_id": "a1"}`)
	var st agentStatusResponse
	decodeStructured(t, status, &st)
	require.True(t, st.Found)
	require.Equal(t, string(coordinator.StateWorking), st.State)
	require.Equal(t, "task-001", st.Agent.CurrentTask)

	res = call(t, ts, "report_task_progress",
		`{"agent_id": "a1", "task_id": "task-001", "status": "in_progress", "progress": 40, "message": "endpoints stubbed"}`)
	require.False(t, res.IsError)

	res = call(t, ts, "report_task_progress",
		`{"agent_id": "a1", "task_id": "task-001", "status": "completed", "progress": 100, "message": "shipped"}`)
	require.False(t, res.IsError)
	var ack ackResponse
	decodeStructured(t, res, &ack)
	require.True(t, ack.Acknowledged)
	require.True(t, ack.Released)

	task, ok := b.Task("task-001")
	require.True(t, ok)
	require.Equal(t, domain.StatusDone, task.Status)

	status = call(t, ts, "get_agent_status", `{"agent_id": "a1"}`)
	decodeStructured(t, status, &st)
	require.Equal(t, string(coordinator.StateIdle), st.State)
	require.Equal(t, 1, st.Agent.CompletedCount)

	list := call(t, ts, "list_registered_agents", `{}`)
	var agents listAgentsResponse
	decodeStructured(t, list, &agents)
	require.Equal(t, 1, agents.Count)
	require.Equal(t, "a1", agents.Agents[0].Agent.ID)
}

func TestReportProgressWrongPairErrorKind(t *testing.T) {
	b := memory.NewSeeded(seedTask("task-001", "Build API"))
	ts := newToolServer(t, b)

	call(t, ts, "register_agent", `{"agent_id": "a1", "name": "Builder", "role": "implementer"}`)

	res := call(t, ts, "report_task_progress",
		`{"agent_id": "a1", "task_id": "task-001", "status": "in_progress", "progress": 10}`)
	requireToolError(t, res, errs.KindNoSuchAssignment)
}

func TestReportBlockerToolReleasesAndSuggests(t *testing.T) {
	b := memory.NewSeeded(seedTask("task-001", "Build API"))
	ts := newToolServer(t, b)

	call(t, ts, "register_agent", `{"agent_id": "a1", "name": "Builder", "role": "implementer"}`)
	call(t, ts, "request_next_task", `{"agent_id": "a1"}`)

	res := call(t, ts, "report_blocker",
		`{"agent_id": "a1", "task_id": "task-001", "description": "staging credentials rejected", "severity": "high"}`)
	require.False(t, res.IsError)

	var ack ackResponse
	decodeStructured(t, res, &ack)
	require.True(t, ack.Released)
	require.NotNil(t, ack.Suggestion)
	require.NotEmpty(t, ack.Suggestion.Summary)
	require.NotEmpty(t, ack.Suggestion.Steps)
	require.Contains(t, res.Content[0].Text, ack.Suggestion.Summary)

	task, ok := b.Task("task-001")
	require.True(t, ok)
	require.Equal(t, domain.StatusBlocked, task.Status)

	// The pair is released; further progress reports name a dead assignment.
	res = call(t, ts, "report_task_progress",
		`{"agent_id": "a1", "task_id": "task-001", "status": "in_progress", "progress": 50}`)
	requireToolError(t, res, errs.KindNoSuchAssignment)
}

func TestProjectStatusToolOnEmptyBoard(t *testing.T) {
	ts := newToolServer(t, memory.New())

	res := call(t, ts, "get_project_status", `{}`)
	require.False(t, res.IsError)

	var status coordinator.ProjectStatus
	decodeStructured(t, res, &status)
	require.Zero(t, status.TaskCount)
	require.Zero(t, status.CompletionPct)
	require.Equal(t, "creator", string(status.Mode))
	require.Contains(t, res.Content[0].Text, "mode creator")
}

func TestCreateProjectTool(t *testing.T) {
	b := memory.New()
	ts := newToolServer(t, b)

	res := call(t, ts, "create_project_from_description",
		`{"description": "Build a todo app with JWT auth, REST API, and a web UI. Deploy to a single VM.", "project_name": "todo-mvp"}`)
	require.False(t, res.IsError, "create failed: %s", firstText(res))

	var created struct {
		TasksCreated int      `json:"tasks_created"`
		Phases       []string `json:"phases"`
	}
	decodeStructured(t, res, &created)
	require.GreaterOrEqual(t, created.TasksCreated, 8)
	require.NotEmpty(t, created.Phases)
	require.Equal(t, created.TasksCreated, b.Len())
	require.Contains(t, res.Content[0].Text, "todo-mvp")

	// Planning onto the now-populated board needs the explicit override.
	res = call(t, ts, "create_project_from_description",
		`{"description": "Another project entirely", "project_name": "second"}`)
	requireToolError(t, res, errs.KindPermanent)
}

func TestAddFeatureTool(t *testing.T) {
	b := memory.NewSeeded(
		domain.Task{Title: "Implement REST api endpoints", Status: domain.StatusDone, Labels: []string{"component:api"}},
		domain.Task{Title: "Implement web ui shell", Status: domain.StatusInProgress, Labels: []string{"component:ui"}},
	)
	ts := newToolServer(t, b)

	res := call(t, ts, "add_feature",
		`{"feature_description": "Add user avatar uploads to the web ui", "integration_point": "after_current"}`)
	require.False(t, res.IsError, "add_feature failed: %s", firstText(res))

	var inserted struct {
		TasksCreated      int      `json:"tasks_created"`
		IntegrationPoints []string `json:"integration_points"`
	}
	decodeStructured(t, res, &inserted)
	require.GreaterOrEqual(t, inserted.TasksCreated, 3)
	require.NotEmpty(t, inserted.IntegrationPoints)
}

func TestPingTool(t *testing.T) {
	ts := newToolServer(t, memory.New())

	res := call(t, ts, "ping", `{}`)
	var pong pingResponse
	decodeStructured(t, res, &pong)
	require.Equal(t, "ok", pong.Status)
	require.Equal(t, "foreman", pong.Service)
	require.Equal(t, "0.1.0-test", pong.Version)

	res = call(t, ts, "ping", `{"echo": "marco"}`)
	decodeStructured(t, res, &pong)
	require.Equal(t, "marco", pong.Echo)
	require.Equal(t, "marco", res.Content[0].Text)
}

func TestBadArgumentsAreToolErrors(t *testing.T) {
	ts := newToolServer(t, memory.New())

	for _, name := range []string{"register_agent", "request_next_task", "report_task_progress", "report_blocker"} {
		t.Run(name, func(t *testing.T) {
			res := call(t, ts, name, `not json`)
			requireToolError(t, res, errs.KindPermanent)
		})
	}
}

func TestProgressValidationSurfacesInvalidStatus(t *testing.T) {
	b := memory.NewSeeded(seedTask("task-001", "Build API"))
	ts := newToolServer(t, b)

	call(t, ts, "register_agent", `{"agent_id": "a1", "name": "Builder", "role": "implementer"}`)
	call(t, ts, "request_next_task", `{"agent_id": "a1"}`)

	res := call(t, ts, "report_task_progress",
		`{"agent_id": "a1", "task_id": "task-001", "status": "done", "progress": 100}`)
	requireToolError(t, res, errs.KindInvalidStatus)

	res = call(t, ts, "report_task_progress",
		fmt.Sprintf(`{"agent_id": "a1", "task_id": "task-001", "status": "in_progress", "progress": %d}`, 101))
	requireToolError(t, res, errs.KindPermanent)
}
