package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/driprun/driprun/internal/actions"
	"github.com/driprun/driprun/internal/api"
	"github.com/driprun/driprun/internal/conditions"
	"github.com/driprun/driprun/internal/dispatch"
	"github.com/driprun/driprun/internal/engine"
	"github.com/driprun/driprun/internal/logging"
	"github.com/driprun/driprun/internal/scheduler"
	"github.com/driprun/driprun/internal/store"
	"github.com/driprun/driprun/internal/validation"
)

func main() {
	cfg := loadConfig()
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	evaluator, err := conditions.NewEvaluator(st)
	if err != nil {
		return err
	}
	validator, err := validation.NewAutomationValidator()
	if err != nil {
		return err
	}

	dispatcher := dispatch.NewLogDispatcher(logger)
	scanner := engine.NewScanner(st, logger)
	executor := engine.NewExecutor(st, actions.DefaultRegistry(nil), evaluator, dispatcher, logger, engine.ExecutorOptions{
		PoolSize: cfg.PoolSize,
		Retry:    engine.RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: 30 * time.Second, MaxDelay: 5 * time.Minute},
	})

	sched := scheduler.New(&engineDriver{scanner: scanner, executor: executor, scanLimit: cfg.ScanLimit, batchSize: cfg.BatchSize}, logger)
	for _, ws := range cfg.Workspaces {
		if err := sched.Register(scheduler.WorkspaceJob{
			WorkspaceID: ws.ID,
			ScanCron:    ws.ScanCron,
			ProcessCron: ws.ProcessCron,
			ScanLimit:   cfg.ScanLimit,
			BatchSize:   cfg.BatchSize,
		}); err != nil {
			return err
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	server := api.NewServer(cfg.ListenAddr, api.Deps{
		Store:     st,
		Scanner:   scanner,
		Executor:  executor,
		Validator: validator,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// engineDriver adapts the scanner and executor pair to the scheduler.
type engineDriver struct {
	scanner   *engine.Scanner
	executor  *engine.Executor
	scanLimit int
	batchSize int
}

func (d *engineDriver) Scan(ctx context.Context, workspaceID string, limit int) error {
	if limit <= 0 {
		limit = d.scanLimit
	}
	_, err := d.scanner.Scan(ctx, workspaceID, limit)
	return err
}

func (d *engineDriver) Process(ctx context.Context, workspaceID string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = d.batchSize
	}
	_, err := d.executor.Process(ctx, workspaceID, batchSize)
	return err
}
