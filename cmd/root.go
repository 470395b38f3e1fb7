// Package cmd holds the foreman CLI: serve (the coordinator daemon),
// plan (project synthesis preview), providers, and version.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/foreman/internal/config"

	// Provider registration.
	_ "github.com/zjrosen/foreman/internal/ai/claude"
	_ "github.com/zjrosen/foreman/internal/ai/mock"
	_ "github.com/zjrosen/foreman/internal/board/local"
	_ "github.com/zjrosen/foreman/internal/board/memory"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "A project coordinator for autonomous worker agents",
	Long: `Foreman sits between autonomous worker agents and a kanban board.
Agents connect over MCP, register themselves, and loop on request_next_task;
foreman picks eligible work, leases it, tracks progress and blockers, and
keeps the board consistent across crashes and stalled workers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .foreman/config.yaml, then ~/.config/foreman/config.yaml)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("board.provider", defaults.Board.Provider)
	viper.SetDefault("board.timeout", defaults.Board.Timeout)
	viper.SetDefault("ai.enabled", defaults.AI.Enabled)
	viper.SetDefault("ai.provider", defaults.AI.Provider)
	viper.SetDefault("ai.timeout", defaults.AI.Timeout)
	viper.SetDefault("lease.stale_after", defaults.Lease.StaleAfter)
	viper.SetDefault("lease.floor", defaults.Lease.Floor)
	viper.SetDefault("lease.ceiling", defaults.Lease.Ceiling)
	viper.SetDefault("lease.sweep_interval", defaults.Lease.SweepInterval)
	viper.SetDefault("agent.stale_after", defaults.Agent.StaleAfter)
	viper.SetDefault("analyzer.cache_ttl", defaults.Analyzer.CacheTTL)
	viper.SetDefault("assign.max_commit_retries", defaults.Assign.MaxCommitRetries)
	viper.SetDefault("ledger.ephemeral", defaults.Ledger.Ephemeral)
	viper.SetDefault("auto_refresh", defaults.AutoRefresh)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .foreman/config.yaml (current directory)
		// 2. ~/.config/foreman/config.yaml (user config)
		if _, err := os.Stat(".foreman/config.yaml"); err == nil {
			viper.SetConfigFile(".foreman/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "foreman"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config anywhere: write the commented template so the user
		// has something to edit, and carry on with defaults if the
		// write fails.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(".foreman", "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
