// Command flexran-rtc runs the RAN controller control plane: the agent
// TCP listener, the single-threaded task manager driving the RIB/RRM/
// scheduler apps, and the northbound HTTP API.
//
// Grounded on cmd/orchestrator/main.go's Application type: a config load,
// a signal-driven shutdown channel, and a bounded graceful-shutdown
// window collecting errors from every subsystem goroutine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexran/rtc/internal/config"
	"github.com/flexran/rtc/internal/core"
	"github.com/flexran/rtc/internal/eventbus"
	"github.com/flexran/rtc/internal/httpapi"
	"github.com/flexran/rtc/internal/loader"
	"github.com/flexran/rtc/internal/network"
	"github.com/flexran/rtc/internal/rib"
	"github.com/flexran/rtc/internal/rrm"
	"github.com/flexran/rtc/internal/scheduler"
	"github.com/flexran/rtc/pkg/version"
)

const appName = "flexran-rtc"

// gracefulShutdownTimeout bounds how long Application.Close waits for
// every subsystem to drain before giving up.
const gracefulShutdownTimeout = 30 * time.Second

var (
	configFile = flag.String("config", "", "path to configuration file (defaults used if absent)")
)

// Application wires together every subsystem: the agent listener, the
// single scheduler thread, and the HTTP API, and coordinates their
// startup and graceful shutdown.
type Application struct {
	cfg *config.Config
	log *slog.Logger

	netManager *network.Manager
	taskMgr    *core.TaskManager
	httpSrv    *httpapi.Server

	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	shutdownCh chan os.Signal
}

// NewApplication loads configuration and constructs every subsystem
// without starting any of them.
func NewApplication(ctx context.Context) (*Application, error) {
	appCtx, cancel := context.WithCancel(ctx)

	cfg, err := config.Load(*configFile)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	handlerOpts := &slog.HandlerOptions{Level: levelFromString(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}
	log := slog.New(handler).With("service", appName, "version", version.GetVersion())

	r := rib.New(cfg.RIB.InactivityThreshold)
	bus := eventbus.New()

	netManager := network.NewManager(network.Config{
		SendQueueDepth: cfg.Agent.SendQueueDepth,
		EventQueueSize: cfg.Agent.EventQueueSize,
	}, log.With("component", "network"))

	updater := rib.NewUpdater(r, netManager, bus, cfg.Agent.RunBudget, log.With("component", "rib.updater"))

	disp := core.NewDispatcher(cfg.HTTP.HandlerTimeout, log.With("component", "dispatcher"))
	reqm := core.NewRequestsManager(r, netManager)

	taskMgr := core.NewTaskManager(updater, bus, disp, cfg.Scheduler.TickInterval, log.With("component", "task_manager"))
	taskMgr.RegisterPeriodic(uint64(time.Second/cfg.Scheduler.TickInterval), 0, updater.DisconnectStale)

	rrmApp := rrm.New(r, reqm, bus, log.With("component", "rrm"))

	sched, err := scheduler.New(r, reqm, scheduler.Config{
		ScheduleAhead: cfg.Scheduler.ScheduleAhead,
		Algorithm:     cfg.Scheduler.Algorithm,
		TargetDLMCS:   cfg.Scheduler.TargetDLMCS,
	}, log.With("component", "scheduler"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	taskMgr.RegisterApp(sched)

	ld := loader.New(loader.Config{
		InitialInterval: cfg.Loader.InitialInterval,
		MaxInterval:     cfg.Loader.MaxInterval,
		MaxElapsedTime:  cfg.Loader.MaxElapsedTime,
	}, reqm, log.With("component", "loader"))

	httpSrv := httpapi.NewServer(r, rrmApp, ld, disp, log.With("component", "httpapi"))

	ln, err := net.Listen("tcp", cfg.Agent.Listen)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to bind agent listener %s: %w", cfg.Agent.Listen, err)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	return &Application{
		cfg:        cfg,
		log:        log,
		netManager: netManager,
		taskMgr:    taskMgr,
		httpSrv:    httpSrv,
		listener:   ln,
		ctx:        appCtx,
		cancel:     cancel,
		shutdownCh: shutdownCh,
	}, nil
}

// Run starts every subsystem and blocks until a shutdown signal arrives
// or one of them fails.
func (a *Application) Run() error {
	a.log.Info("starting controller",
		"agent_listen", a.cfg.Agent.Listen,
		"http_listen", a.cfg.HTTP.Listen,
		"scheduler_algorithm", a.cfg.Scheduler.Algorithm,
	)

	errCh := make(chan error, 3)

	go func() {
		if err := a.netManager.Serve(a.ctx, a.listener); err != nil && a.ctx.Err() == nil {
			errCh <- fmt.Errorf("agent listener error: %w", err)
		}
	}()

	go func() {
		if err := a.taskMgr.Run(a.ctx); err != nil && a.ctx.Err() == nil {
			errCh <- fmt.Errorf("task manager error: %w", err)
		}
	}()

	go func() {
		if err := a.httpSrv.ListenAndServe(a.cfg.HTTP.Listen); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	a.log.Info("controller started")

	select {
	case sig := <-a.shutdownCh:
		a.log.Info("received shutdown signal", "signal", sig.String())
		return a.gracefulShutdown()
	case err := <-errCh:
		a.log.Error("subsystem failed", "error", err)
		return err
	case <-a.ctx.Done():
		return a.ctx.Err()
	}
}

// gracefulShutdown stops the HTTP server and agent listener and
// cancels the task manager's context, bounded by
// gracefulShutdownTimeout.
func (a *Application) gracefulShutdown() error {
	done := make(chan error, 1)
	go func() {
		done <- a.httpSrv.Shutdown()
	}()

	a.cancel()
	_ = a.listener.Close()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("http shutdown error: %w", err)
		}
	case <-time.After(gracefulShutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", gracefulShutdownTimeout)
	}

	a.log.Info("graceful shutdown completed")
	return nil
}

// Close releases resources if Run was never called to completion.
func (a *Application) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

func levelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	flag.Parse()

	app, err := NewApplication(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize controller: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "controller failed: %v\n", err)
		os.Exit(1)
	}
}
