// Package config provides configuration types and defaults for foreman.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/foreman/internal/log"
)

// Config holds all configuration options for the foreman daemon.
type Config struct {
	Board    BoardConfig    `mapstructure:"board"`
	AI       AIConfig       `mapstructure:"ai"`
	Lease    LeaseConfig    `mapstructure:"lease"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Assign   AssignConfig   `mapstructure:"assign"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`

	// AutoRefresh watches the local board file and refreshes the
	// analyzer when it changes. Only meaningful for file-backed boards.
	AutoRefresh bool `mapstructure:"auto_refresh"`

	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// BoardConfig selects and parameterizes the board backend.
type BoardConfig struct {
	// Provider names the backend: "memory" (default) or "local".
	Provider string `mapstructure:"provider"`

	// ProjectID and BoardID select the active board on multi-project
	// providers. Single-board providers ignore them.
	ProjectID string `mapstructure:"project_id"`
	BoardID   string `mapstructure:"board_id"`

	// Path locates the local provider's database file.
	// Default: <data dir>/board.db
	Path string `mapstructure:"path"`

	// Timeout bounds each board call, including retries.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout"`
}

// AIConfig controls the optional reasoning backend. With Enabled false
// every AI-assisted path falls back to deterministic heuristics.
type AIConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Provider names the backend: "claude" (default) or "mock".
	Provider string `mapstructure:"provider"`

	// APIKey authenticates against the provider, when it needs one.
	APIKey string `mapstructure:"api_key"`

	// Model overrides the provider's default model.
	Model string `mapstructure:"model"`

	// Timeout bounds each AI call. Default: 60s
	Timeout time.Duration `mapstructure:"timeout"`
}

// LeaseConfig shapes assignment lease lifetimes.
type LeaseConfig struct {
	// StaleAfter fixes the lease TTL. Zero derives the TTL from the
	// task estimate (twice the estimated hours).
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// Floor and Ceiling clamp the TTL whatever its source.
	// Defaults: 1h and 24h.
	Floor   time.Duration `mapstructure:"floor"`
	Ceiling time.Duration `mapstructure:"ceiling"`

	// SweepInterval is how often expired leases are reclaimed.
	// Default: 1m
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AgentConfig shapes the agent registry.
type AgentConfig struct {
	// StaleAfter is how long an idle agent may go unseen before its id
	// can be re-registered. Default: 1h
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// AnalyzerConfig shapes board quality analysis.
type AnalyzerConfig struct {
	// CacheTTL is the snapshot cache lifetime. Status reads tolerate
	// this much staleness. Default: 5s
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// AssignConfig shapes the assignment engine.
type AssignConfig struct {
	// MaxCommitRetries is how many optimistic commit attempts a single
	// request_next_task makes before reporting no task. Default: 3
	MaxCommitRetries int `mapstructure:"max_commit_retries"`
}

// LedgerConfig locates the durable assignment ledger.
type LedgerConfig struct {
	// Path is the sqlite database file. Default: <data dir>/ledger.db
	Path string `mapstructure:"path"`

	// Ephemeral keeps the ledger in memory. Assignments then do not
	// survive a restart; recovery has nothing to recover.
	Ephemeral bool `mapstructure:"ephemeral"`
}

// LogConfig controls the category logger.
type LogConfig struct {
	// File receives log lines. Empty disables file logging.
	File string `mapstructure:"file"`

	// Level gates output: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `mapstructure:"level"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are recorded. Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the backend: "none", "file", "stdout", "otlp".
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: ~/.config/foreman/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0). Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`

	// ServiceName identifies this process in traces. Default: "foreman"
	ServiceName string `mapstructure:"service_name"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Board: BoardConfig{
			Provider: "memory",
			Timeout:  30 * time.Second,
		},
		AI: AIConfig{
			Enabled:  false,
			Provider: "claude",
			Timeout:  60 * time.Second,
		},
		Lease: LeaseConfig{
			StaleAfter:    0, // derive from task estimates
			Floor:         time.Hour,
			Ceiling:       24 * time.Hour,
			SweepInterval: time.Minute,
		},
		Agent: AgentConfig{
			StaleAfter: time.Hour,
		},
		Analyzer: AnalyzerConfig{
			CacheTTL: 5 * time.Second,
		},
		Assign: AssignConfig{
			MaxCommitRetries: 3,
		},
		Ledger: LedgerConfig{
			Ephemeral: false,
		},
		AutoRefresh: true,
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "foreman",
		},
	}
}

// DefaultConfigDir returns ~/.config/foreman, or "" if the home
// directory is unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "foreman")
}

// DefaultTracesFilePath returns the default path for trace file export,
// ~/.config/foreman/traces/traces.jsonl, or "" if the home directory is
// unavailable.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Validate checks the whole configuration for errors. Empty values are
// valid everywhere and fall back to defaults.
func Validate(c Config) error {
	if err := ValidateBoard(c.Board); err != nil {
		return err
	}
	if err := ValidateAI(c.AI); err != nil {
		return err
	}
	if err := ValidateLease(c.Lease); err != nil {
		return err
	}
	if err := ValidateLog(c.Log); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateBoard checks board configuration for errors.
func ValidateBoard(b BoardConfig) error {
	switch b.Provider {
	case "", "memory", "local":
	default:
		return fmt.Errorf("board.provider must be \"memory\" or \"local\", got %q", b.Provider)
	}
	if b.Timeout < 0 {
		return fmt.Errorf("board.timeout must not be negative, got %v", b.Timeout)
	}
	return nil
}

// ValidateAI checks AI configuration for errors.
func ValidateAI(a AIConfig) error {
	switch a.Provider {
	case "", "claude", "mock":
	default:
		return fmt.Errorf("ai.provider must be \"claude\" or \"mock\", got %q", a.Provider)
	}
	if a.Timeout < 0 {
		return fmt.Errorf("ai.timeout must not be negative, got %v", a.Timeout)
	}
	return nil
}

// ValidateLease checks lease configuration for errors.
func ValidateLease(l LeaseConfig) error {
	if l.StaleAfter < 0 {
		return fmt.Errorf("lease.stale_after must not be negative, got %v", l.StaleAfter)
	}
	if l.Floor < 0 {
		return fmt.Errorf("lease.floor must not be negative, got %v", l.Floor)
	}
	if l.Ceiling < 0 {
		return fmt.Errorf("lease.ceiling must not be negative, got %v", l.Ceiling)
	}
	if l.Floor > 0 && l.Ceiling > 0 && l.Ceiling < l.Floor {
		return fmt.Errorf("lease.ceiling (%v) must not be below lease.floor (%v)", l.Ceiling, l.Floor)
	}
	if l.SweepInterval < 0 {
		return fmt.Errorf("lease.sweep_interval must not be negative, got %v", l.SweepInterval)
	}
	return nil
}

// ValidateLog checks logging configuration for errors.
func ValidateLog(l LogConfig) error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(t TracingConfig) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	// Path requirements only bite when tracing is on. The file path has
	// a home-derived default, so only a missing home dir leaves it
	// empty by the time the provider sees it.
	if t.Enabled {
		if t.Exporter == "otlp" && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with
// comments, written on first run.
func DefaultConfigTemplate() string {
	return `# Foreman Configuration

# Board backend
board:
  provider: memory      # memory (default) or local
  # path: ""            # database file for the local provider (default: <data dir>/board.db)
  # project_id: ""      # project selector on multi-project providers
  # board_id: ""        # board selector on multi-project providers
  timeout: 30s          # per-call board budget, retries included

# AI planning and scoring
# Disabled by default; deterministic heuristics cover planning, scoring,
# and blocker guidance without it.
ai:
  enabled: false
  provider: claude      # claude (default) or mock
  # api_key: ""         # credential for the provider, if it needs one
  # model: ""           # provider-specific model override
  timeout: 60s          # per-call AI budget

# Assignment leases
lease:
  # stale_after: 0      # fixed lease TTL; 0 derives it from the task estimate
  floor: 1h             # shortest lease regardless of estimate
  ceiling: 24h          # longest lease regardless of estimate
  sweep_interval: 1m    # how often expired leases are reclaimed

# Agent registry
agent:
  stale_after: 1h       # idle agents unseen this long can be replaced

# Board quality analyzer
analyzer:
  cache_ttl: 5s         # snapshot cache lifetime

# Assignment engine
assign:
  max_commit_retries: 3 # optimistic commit attempts per request

# Assignment ledger
ledger:
  # path: ""            # sqlite file (default: <data dir>/ledger.db)
  ephemeral: false      # true keeps assignments in memory only

# Watch the local board file and refresh the analyzer on changes
auto_refresh: true

# Logging
log:
  # file: ""            # log file path; empty disables file logging
  level: info           # debug, info, warn, error

# Distributed tracing (OpenTelemetry)
# Records a span per MCP tool call for latency and failure analysis.
# tracing:
#   enabled: false
#   exporter: file                 # none, file, stdout, otlp
#   file_path: ~/.config/foreman/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # collector endpoint for the otlp exporter
#   sample_rate: 1.0               # fraction of traces to sample, 0.0-1.0
#   service_name: foreman
#
# Example: ship traces to Jaeger via OTLP, sampling 10%
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
