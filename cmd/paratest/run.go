package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/mattjoyce/paratest/internal/api"
	"github.com/mattjoyce/paratest/internal/config"
	"github.com/mattjoyce/paratest/internal/events"
	"github.com/mattjoyce/paratest/internal/history"
	"github.com/mattjoyce/paratest/internal/lock"
	"github.com/mattjoyce/paratest/internal/metrics"
	"github.com/mattjoyce/paratest/internal/orchestrator"
	"github.com/mattjoyce/paratest/internal/plugin"
	"github.com/mattjoyce/paratest/internal/report"
	"github.com/mattjoyce/paratest/internal/script"
	"github.com/mattjoyce/paratest/internal/storage"
	"github.com/mattjoyce/paratest/internal/tui"
	"github.com/mattjoyce/paratest/internal/workspace"
)

func pluginsAction(c *cli.Context, flags *flagSet) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg, flags.verbosity, c.App.ErrWriter)
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	return orchestrator.New(orchestrator.Config{}, reg, nil, nil).ListPlugins(c.App.Writer)
}

func runAction(c *cli.Context, flags *flagSet) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	if cfg.Plugin == "" {
		return errors.New("no plugin selected (use --plugin; see `paratest plugins`)")
	}

	logWriter := c.App.ErrWriter
	if cfg.TUI {
		// The live view owns the terminal.
		logWriter = io.Discard
	}
	logger := setupLogging(cfg, flags.verbosity, logWriter)
	if cfg.SourceFile != "" {
		logger.Info("config loaded", "path", cfg.SourceFile, "blake3", cfg.SourceHash)
	}

	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	if _, ok := reg.Lookup(cfg.Plugin); !ok {
		return fmt.Errorf("%w: %q (available: %v)", plugin.ErrPluginNotFound, cfg.Plugin, reg.Names())
	}

	ws, err := workspace.NewFSManager(cfg.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := orchestrator.NewProgress()
	collector := metrics.NewCollector()
	hub := events.NewHub(events.DefaultCapacity)
	defer hub.Close()
	observers := []orchestrator.Observer{progress, collector, events.NewObserver(hub)}

	var (
		store    *history.Store
		recorder *history.Recorder
	)
	if cfg.History.Enabled {
		pidLock, err := lock.AcquirePIDLock(lock.PathForDB(cfg.History.Path))
		if err != nil {
			return fmt.Errorf("history database is in use: %w", err)
		}
		defer func() { _ = pidLock.Release() }()

		db, err := storage.OpenSQLite(ctx, cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
		defer db.Close()

		store = history.NewStore(db)
		// The final row must be written even after an interrupt.
		recorder = history.NewRecorder(context.WithoutCancel(ctx), store, logger.With("component", "history"))
		observers = append(observers, recorder)
	}

	apiDone := startAPI(ctx, cfg, progress, hub, collector, store, logger)
	tuiDone := startTUI(ctx, cfg, hub, stop, c.App.Writer)

	orc := orchestrator.New(
		orchestrator.Config{
			RunID:       uuid.NewString(),
			Source:      cfg.Source,
			Pattern:     cfg.Pattern,
			Output:      cfg.Output,
			Workers:     cfg.Workers,
			Scripts:     cfg.Scripts,
			Fingerprint: cfg.Fingerprint(),
		},
		reg,
		script.NewRunner(script.WithLogger(logger.With("component", "script"))),
		ws,
		orchestrator.WithObserver(orchestrator.Observers(observers...)),
		orchestrator.WithLogger(logger.With("component", "orchestrator")),
	)

	summary, runErr := orc.Run(ctx, cfg.Plugin)

	hub.Close()
	if err := <-tuiDone; err != nil {
		logger.Warn("live view failed", "error", err)
	}
	stop()
	if err := <-apiDone; err != nil {
		logger.Warn("status API failed", "error", err)
	}

	if summary == nil {
		return runErr
	}
	if recorder != nil {
		if err := recorder.Err(); err != nil {
			logger.Warn("run history incomplete", "error", err)
		}
	}
	if cfg.Metrics.File != "" {
		if err := collector.WriteTextfile(cfg.Metrics.File); err != nil {
			logger.Warn("write metrics file", "path", cfg.Metrics.File, "error", err)
		}
	}

	fmt.Fprint(c.App.Writer, report.Build(report.FromSummary(*summary), report.WithColor(c.Bool(flagColor))))
	return runErr
}

// startAPI serves the status API for the lifetime of ctx when an address is
// configured. The returned channel yields the server's exit error.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	status api.StatusSource,
	hub *events.Hub,
	collector *metrics.Collector,
	store *history.Store,
	logger *slog.Logger,
) <-chan error {
	done := make(chan error, 1)
	if cfg.API.Listen == "" {
		done <- nil
		return done
	}
	var hist api.HistoryReader
	if store != nil {
		hist = store
	}
	srv := api.New(api.Config{Listen: cfg.API.Listen}, status, hub, collector.Handler(), hist, logger.With("component", "api"))
	go func() { done <- srv.Start(ctx) }()
	return done
}

// startTUI runs the live view until the hub closes. Quitting it cancels the
// run. The subscription is taken before the run starts.
func startTUI(ctx context.Context, cfg *config.Config, hub *events.Hub, cancel func(), out io.Writer) <-chan error {
	done := make(chan error, 1)
	if !cfg.TUI {
		done <- nil
		return done
	}
	sub, unsubscribe := hub.Subscribe()
	go func() {
		defer unsubscribe()
		done <- tui.Run(ctx, sub, cancel, out)
	}()
	return done
}
