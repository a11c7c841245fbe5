package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pulsekit/pulseboard/internal/bridge"
	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/internal/engine"
	"github.com/pulsekit/pulseboard/internal/expressions"
	"github.com/pulsekit/pulseboard/internal/logging"
	"github.com/pulsekit/pulseboard/internal/nodes"
	"github.com/pulsekit/pulseboard/internal/panel"
	"github.com/pulsekit/pulseboard/internal/scheduler"
	"github.com/pulsekit/pulseboard/internal/session"
	"github.com/pulsekit/pulseboard/internal/store"
	"github.com/pulsekit/pulseboard/internal/streaming"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pulseboard:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	hub := streaming.NewMemoryHub()
	sink := &streaming.StoreSink{Hub: hub}

	registry := engine.NewRegistry()
	if err := engine.RegisterBuiltins(registry, expressions.NewExprEngine()); err != nil {
		return err
	}

	board, err := loadBoard(cfg.BoardPath, registry)
	if err != nil {
		return fmt.Errorf("load board config: %w", err)
	}

	orch := engine.NewOrchestrator(st, board, registry, engine.OrchestratorConfig{PoolSize: cfg.PoolSize}, sink)
	defer orch.Shutdown()

	frame, err := loadDataset(cfg.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded", "rows", frame.Len(), "path", cfg.DatasetPath)

	br := bridge.New(orch, st, sink, bridge.Config{}, logger)
	sched := scheduler.NewScheduler(orch, 0, logger)

	scenarioID, err := bootstrap(ctx, orch, frame, logger)
	if err != nil {
		return fmt.Errorf("bootstrap scenario: %w", err)
	}

	if cfg.RefreshCron != "" {
		if _, err := sched.AddJob(scenarioID, cfg.RefreshCron); err != nil {
			return fmt.Errorf("schedule refresh: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if err := br.NotifyFailures(ctx, hub, func(ev streaming.StreamEvent) {
		logger.Error("scenario needs attention",
			"scenario_id", ev.ScenarioID,
			"task_id", ev.TaskID,
			"event_type", ev.EventType)
	}); err != nil {
		return err
	}

	server := panel.NewServer(panel.Deps{
		Store:        st,
		Orchestrator: orch,
		Bridge:       br,
		Sessions:     session.NewManager(),
		Scheduler:    sched,
		Hub:          hub,
		Dataset:      frame,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pulseboard listening", "addr", cfg.ListenAddr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// bootstrap instantiates the default scenario and runs it once with the
// full dataset so the dashboard has values before any viewer commits.
func bootstrap(ctx context.Context, orch engine.Orchestrator, frame *dataset.Frame, logger *slog.Logger) (string, error) {
	sc, err := orch.CreateScenario(ctx, defaultScenarioConfig)
	if err != nil {
		return "", err
	}

	table, err := nodes.Table(frame)
	if err != nil {
		return "", err
	}
	if err := orch.WriteNode(ctx, sc.ID, bridge.DefaultTableNode, table); err != nil {
		return "", err
	}
	if err := orch.WriteNode(ctx, sc.ID, bridge.DefaultFilterNode, nodes.String(dataset.FilterAll)); err != nil {
		return "", err
	}

	result, err := orch.Submit(ctx, sc.ID)
	if err != nil {
		return "", err
	}
	logger.Info("default scenario ready",
		"scenario_id", sc.ID,
		"status", result.Status)
	return sc.ID, nil
}

// openStore opens the configured store. "memory" selects the in-memory
// implementation, anything else is a libSQL path.
func openStore(dbPath string) (store.Store, error) {
	if dbPath == "memory" || dbPath == ":memory:" {
		return store.NewMemoryStore(), nil
	}

	dir := filepath.Dir(strings.TrimPrefix(dbPath, "file:"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.NewLibSQLStore(dbPath)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
