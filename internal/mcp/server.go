package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/foreman/internal/log"
	"github.com/zjrosen/foreman/internal/tracing"
)

// ToolHandler is a function that handles a tool call. It receives the
// raw JSON arguments and returns a result or error.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error)

// Server implements an MCP server over stdio or HTTP POST.
type Server struct {
	info         ImplementationInfo
	instructions string

	names    []string // registration order, keeps tools/list stable
	tools    map[string]Tool
	handlers map[string]ToolHandler

	reader io.Reader
	writer io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex

	initialized bool

	// tracer records a span per tool call when set. Nil means no tracing.
	tracer trace.Tracer
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInstructions sets the server instructions sent during initialization.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// NewServer creates a new MCP server.
func NewServer(name, version string, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		info: ImplementationInfo{
			Name:    name,
			Version: version,
		},
		tools:    make(map[string]Tool),
		handlers: make(map[string]ToolHandler),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetTracer enables span recording for tool calls. Call before Serve.
func (s *Server) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// RegisterTool registers a tool with its handler. Re-registering a name
// replaces the previous tool in place.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; !exists {
		s.names = append(s.names, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
	log.Debug(log.CatMCP, "Registered tool", "name", tool.Name)
}

// Serve starts the server, reading newline-delimited requests from stdin
// and writing responses to stdout. Blocks until stdin closes or Stop.
func (s *Server) Serve(stdin io.Reader, stdout io.Writer) error {
	s.mu.Lock()
	s.reader = stdin
	s.writer = stdout
	s.mu.Unlock()

	return s.run()
}

// ServeHTTP returns an HTTP handler for MCP-over-HTTP transport. Each
// POST body carries one JSON-RPC request; the response body carries the
// matching JSON-RPC response.
func (s *Server) ServeHTTP() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}

		response := s.handleRequestBytes(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(response); err != nil {
			log.Debug(log.CatMCP, "Failed to write response", "error", err)
		}
	})
}

// handleRequestBytes processes a single JSON-RPC request and returns the
// response bytes. Used by the HTTP transport for synchronous
// request/response.
func (s *Server) handleRequestBytes(body []byte) []byte {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		errResp := NewErrorResponse(nil, NewParseError(err.Error()))
		data, _ := json.Marshal(errResp)
		return data
	}

	if isRequest(&req) {
		resp := s.dispatch(&req)
		data, _ := json.Marshal(resp)
		return data
	}

	s.handleNotification(&req)
	return []byte("{}")
}

// Stop cancels in-flight tool contexts and stops the server.
func (s *Server) Stop() {
	s.cancel()
}

// run is the main stdio loop.
func (s *Server) run() error {
	scanner := bufio.NewScanner(s.reader)
	// Large briefings and project descriptions exceed the default buffer.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.sendError(nil, NewParseError(err.Error()))
			continue
		}

		if isRequest(&req) {
			s.send(s.dispatch(&req))
		} else {
			s.handleNotification(&req)
		}

		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debug(log.CatMCP, "Scanner error", "error", err)
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

// isRequest distinguishes requests from notifications. json.RawMessage
// is a byte slice, so presence is a length check.
func isRequest(req *Request) bool {
	return len(req.ID) > 0 && string(req.ID) != "null"
}

// dispatch routes one request to its method handler and builds the
// response.
func (s *Server) dispatch(req *Request) *Response {
	log.Debug(log.CatMCP, "Handling request", "method", req.Method)

	var result any
	var rpcErr *RPCError

	switch req.Method {
	case "initialize":
		result, rpcErr = s.handleInitialize(req.Params)
	case "tools/list":
		result, rpcErr = s.handleToolsList(req.Params)
	case "tools/call":
		result, rpcErr = s.handleToolsCall(req.Params)
	case "ping":
		result = struct{}{}
	default:
		rpcErr = NewMethodNotFound(req.Method)
	}

	if rpcErr != nil {
		return NewErrorResponse(req.ID, rpcErr)
	}
	return NewResponse(req.ID, result)
}

// handleNotification processes a JSON-RPC notification (no response).
func (s *Server) handleNotification(req *Request) {
	switch req.Method {
	case "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		log.Debug(log.CatMCP, "Client initialized")

	case "notifications/cancelled":
		log.Debug(log.CatMCP, "Request cancelled")

	default:
		// Unknown notifications are ignored per spec.
		log.Debug(log.CatMCP, "Unknown notification", "method", req.Method)
	}
}

// handleInitialize processes the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, NewInvalidParams(err.Error())
		}
	}

	log.Debug(log.CatMCP, "Initialize request",
		"clientVersion", p.ProtocolVersion,
		"clientName", p.ClientInfo.Name)

	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapability{
			Tools: &ToolsCapability{
				ListChanged: false, // tool set is fixed at startup
			},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}

	return result, nil
}

// handleToolsList returns the registered tools in registration order.
func (s *Server) handleToolsList(_ json.RawMessage) (any, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]Tool, 0, len(s.names))
	for _, name := range s.names {
		tools = append(tools, s.tools[name])
	}

	return ToolsListResult{Tools: tools}, nil
}

// handleToolsCall invokes a tool and returns its result. Handler
// failures become tool results with isError, never RPC errors, so the
// caller keeps its request/response pairing and reads the payload.
func (s *Server) handleToolsCall(params json.RawMessage) (any, *RPCError) {
	var p ToolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewInvalidParams(err.Error())
	}

	s.mu.RLock()
	handler, ok := s.handlers[p.Name]
	s.mu.RUnlock()

	if !ok {
		return nil, NewToolNotFound(p.Name)
	}

	ctx := s.ctx
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, tracing.SpanPrefixMCP+p.Name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String(tracing.AttrMCPToolName, p.Name)),
		)
		if agentID := callerAgentID(p.Arguments); agentID != "" {
			span.SetAttributes(attribute.String(tracing.AttrAgentID, agentID))
		}
		defer span.End()
	}

	start := time.Now()
	result, err := handler(ctx, p.Arguments)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		log.Debug(log.CatMCP, "Tool call failed", "tool", p.Name, "duration", elapsed, "error", err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return ErrorResult(err.Error()), nil
	case result != nil && result.IsError:
		log.Debug(log.CatMCP, "Tool call refused", "tool", p.Name, "duration", elapsed)
		if span != nil {
			span.SetStatus(codes.Error, firstText(result))
		}
	default:
		log.Debug(log.CatMCP, "Tool call served", "tool", p.Name, "duration", elapsed)
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	return result, nil
}

// firstText returns the first text content of a result, or "".
func firstText(res *ToolCallResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	return res.Content[0].Text
}

// callerAgentID extracts agent_id from raw tool arguments for span
// attribution. Best effort; tools without an agent_id yield "".
func callerAgentID(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var probe struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(args, &probe); err != nil {
		return ""
	}
	return probe.AgentID
}

// sendError sends an error response.
func (s *Server) sendError(id json.RawMessage, err *RPCError) {
	s.send(NewErrorResponse(id, err))
}

// send marshals and writes a response, newline-delimited.
func (s *Server) send(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Debug(log.CatMCP, "Failed to marshal response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return
	}

	data = append(data, '\n')
	if _, err := s.writer.Write(data); err != nil {
		log.Debug(log.CatMCP, "Failed to write response", "error", err)
	}
}
