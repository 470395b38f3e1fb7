package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/analyzer"
	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/config"
	"github.com/zjrosen/foreman/internal/coordinator"
	"github.com/zjrosen/foreman/internal/events"
	"github.com/zjrosen/foreman/internal/infrastructure/sqlite"
	"github.com/zjrosen/foreman/internal/ledger"
	"github.com/zjrosen/foreman/internal/log"
	"github.com/zjrosen/foreman/internal/mcp"
	"github.com/zjrosen/foreman/internal/paths"
	"github.com/zjrosen/foreman/internal/pubsub"
	"github.com/zjrosen/foreman/internal/tracing"
	"github.com/zjrosen/foreman/internal/watcher"
)

// shutdownGrace bounds how long in-flight work may drain on shutdown.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator daemon",
	Long: `Run the coordinator daemon that worker agents connect to over MCP.

By default requests are read from stdin and answered on stdout
(newline-delimited JSON-RPC), which is how MCP hosts spawn servers.
With --http the same surface is served as HTTP POST instead.

On startup the daemon reconciles the assignment ledger against the
board, reclaims leases that expired while it was down, and only then
accepts tool calls.

Example:
  foreman serve                      # stdio transport
  foreman serve --http :8713        # HTTP transport
  foreman serve --ephemeral         # in-memory ledger, no state on disk`,
	RunE: runServe,
}

var (
	serveHTTPAddr  string
	serveDataDir   string
	serveEphemeral bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "",
		"serve MCP over HTTP on this address instead of stdio")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "",
		"coordinator state directory (default: .foreman under the working directory)")
	serveCmd.Flags().BoolVar(&serveEphemeral, "ephemeral", false,
		"keep the assignment ledger in memory; state dies with the process")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("ephemeral") {
		cfg.Ledger.Ephemeral = serveEphemeral
	}

	dataDir, err := resolveDataDir(serveDataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logPath := cfg.Log.File
	if logPath == "" {
		logPath = os.Getenv("FOREMAN_LOG")
	}
	if logPath == "" {
		logPath = paths.LogPath(dataDir)
	}
	logCleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logCleanup()
	log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
	log.Info(log.CatConfig, "Foreman starting", "version", version, "dataDir", dataDir)

	tcfg := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	}
	if tcfg.Enabled && tcfg.Exporter == "file" && tcfg.FilePath == "" {
		tcfg.FilePath = config.DefaultTracesFilePath()
	}
	traces, err := tracing.NewProvider(tcfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = traces.Shutdown(flushCtx)
	}()

	boardPath := cfg.Board.Path
	if boardPath == "" {
		boardPath = paths.BoardPath(dataDir)
	}
	bc, err := board.New(board.Provider(cfg.Board.Provider), board.Options{
		Path:      boardPath,
		ProjectID: cfg.Board.ProjectID,
		BoardID:   cfg.Board.BoardID,
	})
	if err != nil {
		return fmt.Errorf("connecting board provider: %w", err)
	}
	bc = board.WithRetry(bc, cfg.Board.Timeout)

	var aiClient ai.Client
	if cfg.AI.Enabled {
		aiClient, err = ai.New(ai.Provider(cfg.AI.Provider), ai.Options{
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
		})
		if err != nil {
			return fmt.Errorf("creating AI client: %w", err)
		}
	}

	var (
		led      ledger.Ledger
		eventLog *sqlite.EventLog
	)
	if cfg.Ledger.Ephemeral {
		led = ledger.NewMemory()
		log.Warn(log.CatLedger, "Ephemeral ledger; assignments will not survive a restart")
	} else {
		ledgerPath := cfg.Ledger.Path
		if ledgerPath == "" {
			ledgerPath = paths.LedgerPath(dataDir)
		}
		db, err := sqlite.NewDB(ledgerPath)
		if err != nil {
			return fmt.Errorf("opening ledger database: %w", err)
		}
		defer func() { _ = db.Close() }()
		led = sqlite.NewAssignmentRepository(db)
		eventLog = sqlite.NewEventLog(db)
	}

	policy := ledger.Policy{
		StaleAfter: cfg.Lease.StaleAfter,
		Floor:      cfg.Lease.Floor,
		Ceiling:    cfg.Lease.Ceiling,
	}
	an := analyzer.New(bc, "default", cfg.Analyzer.CacheTTL)

	coord, err := coordinator.New(coordinator.Config{
		Board:            bc,
		Ledger:           led,
		AI:               aiClient,
		Analyzer:         an,
		Policy:           policy,
		AgentStaleAfter:  cfg.Agent.StaleAfter,
		MaxCommitRetries: cfg.Assign.MaxCommitRetries,
	})
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribers attach before recovery so the recovery_completed
	// event lands in both sinks.
	logEvents(ctx, coord.Events())
	if eventLog != nil {
		eventLog.Attach(ctx, coord.Events())
	}

	report, err := coord.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering ledger state: %w", err)
	}
	log.Info(log.CatCoord, "Recovery complete",
		"restored", report.Restored, "dropped", report.Dropped)

	sweeper := ledger.NewSweeper(led, bc, policy, cfg.Lease.SweepInterval)
	sweeper.OnExpired = coord.OnLeaseExpired
	// Leases that expired while the process was down are reclaimed
	// before the first tool call, not a sweep interval later.
	sweeper.SweepOnce(ctx)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { sweeper.Run(runCtx); return nil })
	g.Go(func() error { coord.RunEviction(runCtx, cfg.Lease.SweepInterval); return nil })

	if cfg.AutoRefresh && board.Provider(cfg.Board.Provider) == board.ProviderLocal {
		w, err := watcher.New(watcher.DefaultConfig(boardPath))
		if err != nil {
			return fmt.Errorf("creating board watcher: %w", err)
		}
		changes, err := w.Start()
		if err != nil {
			return fmt.Errorf("starting board watcher: %w", err)
		}
		defer func() { _ = w.Stop() }()
		go func() {
			for range changes {
				an.Invalidate()
				log.Debug(log.CatWatch, "Board changed on disk; analysis cache invalidated")
			}
		}()
	}

	ts := mcp.NewToolServer(coord, version)
	if traces.Enabled() {
		ts.SetTracer(traces.Tracer())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	var srv *http.Server
	if serveHTTPAddr != "" {
		srv = &http.Server{
			Addr:              serveHTTPAddr,
			Handler:           ts.ServeHTTP(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() { errCh <- srv.ListenAndServe() }()
		fmt.Printf("foreman daemon listening on %s\n", serveHTTPAddr)
		fmt.Println("Press Ctrl+C to stop")
	} else {
		go func() { errCh <- ts.Serve(os.Stdin, os.Stdout) }()
		// The protocol owns stdout in stdio mode.
		fmt.Fprintln(os.Stderr, "foreman serving MCP on stdio")
	}

	select {
	case sig := <-sigCh:
		log.Info(log.CatMCP, "Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		switch {
		case err == nil:
			// stdin closed: the MCP host is gone, shut down cleanly.
			log.Info(log.CatMCP, "Input closed; shutting down")
		case errors.Is(err, http.ErrServerClosed), errors.Is(err, context.Canceled):
		default:
			cancel()
			_ = g.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	}

	ts.Stop()
	if srv != nil {
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelDrain()
		if err := srv.Shutdown(drainCtx); err != nil {
			log.ErrorErr(log.CatMCP, "HTTP shutdown failed", err)
		}
	}
	cancel()
	_ = g.Wait()
	coord.Close()

	log.Info(log.CatConfig, "Foreman stopped")
	return nil
}

// resolveDataDir picks the coordinator state directory: the explicit
// flag value, then FOREMAN_DIR, then the working directory. The result
// always points at the .foreman directory itself.
func resolveDataDir(flagValue string) (string, error) {
	dir := flagValue
	if dir == "" {
		dir = os.Getenv("FOREMAN_DIR")
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		dir = wd
	}
	return paths.ResolveDataDir(dir), nil
}

// logEvents mirrors the coordination stream into the category log until
// ctx is done.
func logEvents(ctx context.Context, broker *pubsub.Broker[events.Event]) {
	ch := broker.Subscribe(ctx)
	go func() {
		for ev := range ch {
			log.Info(log.CatCoord, "Coordination event",
				"type", ev.Payload.Type,
				"agent", ev.Payload.AgentID,
				"task", ev.Payload.TaskID,
				"detail", ev.Payload.Detail)
		}
	}()
}
