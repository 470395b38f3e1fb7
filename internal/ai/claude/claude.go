// Package claude backs the ai.Client interface with one-shot headless
// claude CLI calls: one process per operation, prompt on stdin, a
// single JSON envelope on stdout. Any failure along that path reports
// unavailable; the engine's deterministic fallbacks take over.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/log"
)

func init() {
	ai.Register(ai.ProviderClaude, func(opts ai.Options) (ai.Client, error) {
		return New(opts), nil
	})
}

// Client shells out to the claude CLI.
type Client struct {
	model   string
	apiKey  string
	timeout time.Duration

	// run is swapped in tests to avoid spawning real processes.
	run func(ctx context.Context, prompt string) ([]byte, error)
}

// New builds a client from registry options.
func New(opts ai.Options) *Client {
	c := &Client{
		model:   opts.Model,
		apiKey:  opts.APIKey,
		timeout: opts.Timeout,
	}
	c.run = c.runCLI
	return c
}

// envelope is the claude --output-format json top-level document.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

func (c *Client) runCLI(ctx context.Context, prompt string) ([]byte, error) {
	if c.timeout > 0 {
		if _, bounded := ctx.Deadline(); !bounded {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	args := []string{"--print", "--output-format", "json"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}

	// #nosec G204 -- args come from configuration, not user input
	cmd := exec.CommandContext(ctx, "claude", args...)
	cmd.Stdin = strings.NewReader(prompt)
	if c.apiKey != "" {
		cmd.Env = append(os.Environ(), "ANTHROPIC_API_KEY="+c.apiKey)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug(log.CatAI, "Spawning claude", "model", c.model, "promptBytes", len(prompt))
	if err := cmd.Run(); err != nil {
		log.ErrorErr(log.CatAI, "claude call failed", err, "stderr", strings.TrimSpace(stderr.String()))
		return nil, err
	}
	return stdout.Bytes(), nil
}

// complete runs one prompt and unmarshals the model's JSON answer into out.
func (c *Client) complete(ctx context.Context, op, prompt string, out any) error {
	raw, err := c.run(ctx, prompt)
	if err != nil {
		return ai.Unavailable(op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ai.Unavailable(op, fmt.Errorf("parse envelope: %w", err))
	}
	if env.IsError {
		return ai.Unavailable(op, fmt.Errorf("backend error: %s", env.Result))
	}

	payload := extractJSON(env.Result)
	if payload == "" {
		return ai.Unavailable(op, fmt.Errorf("no JSON object in result"))
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return ai.Unavailable(op, fmt.Errorf("parse result: %w", err))
	}
	return nil
}

// extractJSON pulls the first balanced JSON object out of model text,
// tolerating markdown fences and prose around it.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

func (c *Client) ParsePRD(ctx context.Context, text string, opts ai.PRDOptions) (ai.PRDResult, error) {
	optsJSON, _ := json.Marshal(opts)
	prompt := fmt.Sprintf(`You are a project planner. Read the project description and extract its structure.

Respond with ONLY a JSON object, no prose, shaped exactly like:
{"features":[{"name":"...","description":"..."}],"tech_stack":["..."],"constraints":["..."],"confidence":0.0}

confidence is your 0..1 certainty that the description is a real project brief.

Options (may constrain tech_stack or scope): %s

Project description:
%s`, optsJSON, text)

	var out ai.PRDResult
	if err := c.complete(ctx, "ai.parse_prd", prompt, &out); err != nil {
		return ai.PRDResult{}, err
	}
	out.Confidence = clamp01(out.Confidence)
	out.Options = opts
	return out, nil
}

func (c *Client) SynthesizeTasks(ctx context.Context, prd ai.PRDResult) (ai.TaskPlan, error) {
	prdJSON, _ := json.Marshal(prd)
	prompt := fmt.Sprintf(`You are a project planner. Expand the parsed project below into concrete tasks.

Respond with ONLY a JSON object shaped exactly like:
{"tasks":[{"id":"t1","title":"...","description":"...","phase":"setup|design|implementation|testing|deployment","labels":["component:...","skill:..."],"priority":"low|medium|high|urgent","estimated_hours":0.0,"depends_on":["t0"]}],"phases":["setup","implementation"],"estimated_days":0.0}

Rules: ids are plan-local (t1, t2, ...); depends_on references those ids only;
every task gets a phase, at least one component label, and an honest estimate;
complexity level %q governs task count and depth.

Parsed project:
%s`, prd.Options.EffectiveComplexity(), prdJSON)

	var out ai.TaskPlan
	if err := c.complete(ctx, "ai.synthesize_tasks", prompt, &out); err != nil {
		return ai.TaskPlan{}, err
	}
	return out, nil
}

func (c *Client) ScoreTaskForAgent(ctx context.Context, task domain.Task, agent domain.Agent, sc ai.ScoreContext) (ai.TaskScore, error) {
	taskJSON, _ := json.Marshal(task)
	agentJSON, _ := json.Marshal(agent)
	scJSON, _ := json.Marshal(sc)
	prompt := fmt.Sprintf(`Rate how well this task fits this agent right now, 0.0 (poor) to 1.0 (ideal).

Respond with ONLY: {"score":0.0,"rationale":"one sentence"}

Task: %s
Agent: %s
Project context: %s`, taskJSON, agentJSON, scJSON)

	var out ai.TaskScore
	if err := c.complete(ctx, "ai.score_task", prompt, &out); err != nil {
		return ai.TaskScore{}, err
	}
	out.Score = clamp01(out.Score)
	return out, nil
}

func (c *Client) SuggestBlockerResolution(ctx context.Context, task domain.Task, description, severity string) (ai.BlockerSuggestion, error) {
	taskJSON, _ := json.Marshal(task)
	prompt := fmt.Sprintf(`An agent is blocked. Propose the most direct path forward.

Respond with ONLY: {"summary":"one sentence","steps":["...","..."]}

Task: %s
Blocker (%s severity): %s`, taskJSON, severity, description)

	var out ai.BlockerSuggestion
	if err := c.complete(ctx, "ai.suggest_blocker", prompt, &out); err != nil {
		return ai.BlockerSuggestion{}, err
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ ai.Client = (*Client)(nil)
