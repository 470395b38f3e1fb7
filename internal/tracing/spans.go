package tracing

// Span attribute keys shared by everything that records foreman spans.
const (
	// MCP tool surface
	AttrMCPToolName = "mcp.tool.name"

	// Coordination
	AttrAgentID = "agent.id"
	AttrTaskID  = "task.id"
)

// Span name prefixes.
const (
	// SpanPrefixMCP prefixes one span per tool call, e.g.
	// "mcp.tool.request_next_task".
	SpanPrefixMCP = "mcp.tool."
)
