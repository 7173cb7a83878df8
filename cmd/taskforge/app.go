package main

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/permission"
	"github.com/aristath/taskforge/internal/process"
	"github.com/aristath/taskforge/internal/telemetry"
	"github.com/aristath/taskforge/internal/tools"
	"github.com/aristath/taskforge/internal/tools/builtin"
)

// app holds the registries and shared infrastructure built once per command.
type app struct {
	cfg     *config.Config
	workDir string

	bus    *events.EventBus
	procs  *process.Manager
	agents *agents.Registry
	tools  *tools.Registry
	fs     *tools.OSFileSystem
	locks  *tools.PathLocker

	closers []func()
}

// newApp loads configuration and wires logging, telemetry and the
// registries. adjust, if non-nil, may modify the loaded config before
// anything is built from it.
func newApp(ctx context.Context, opts *globalOptions, adjust func(*config.Config)) (*app, error) {
	workDir, err := filepath.Abs(opts.dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}

	cfg, err := config.LoadDefault(workDir)
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}

	a := &app{
		cfg:     cfg,
		workDir: workDir,
		bus:     events.NewEventBus(),
		procs:   process.NewManager(),
		locks:   tools.NewPathLocker(),
	}
	a.closers = append(a.closers, a.bus.Close)

	logCloser, err := logging.Init(logging.Config{
		Level:  cmp.Or(opts.logLevel, cfg.Logging.Level),
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { logCloser.Close() })

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logrus.WithError(err).Warn("failed to flush telemetry")
		}
	})

	a.agents = agents.NewRegistry()
	if err := cfg.ApplyAgents(a.agents); err != nil {
		a.Close()
		return nil, err
	}

	a.tools = tools.NewRegistry()
	err = builtin.Register(a.tools, builtin.Config{
		Processes:      a.procs,
		HTTPClient:     &http.Client{Timeout: cfg.Tools.FetchTimeout},
		CommandTimeout: cfg.Tools.CommandTimeout,
		MaxFetchBytes:  cfg.Tools.MaxFetchBytes,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	if a.fs, err = tools.NewOSFileSystem(workDir); err != nil {
		a.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"dir":   workDir,
		"tools": len(a.tools.Names()),
	}).Debug("taskforge initialized")

	return a, nil
}

// executor builds the tool executor over the app's registry.
func (a *app) executor(gate *permission.Gate) *tools.Executor {
	return tools.NewExecutor(a.tools, gate,
		tools.WithTracer(telemetry.Tracer()),
		tools.WithEventBus(a.bus),
	)
}

// Close releases everything newApp acquired, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// storePath resolves the history database path against the project.
func (a *app) storePath() string {
	path := a.cfg.Store.Path
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.workDir, path)
}
