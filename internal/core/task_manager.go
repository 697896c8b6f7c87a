package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flexran/rtc/internal/eventbus"
	"github.com/flexran/rtc/internal/rib"
)

// Component is a periodic app registered with the TaskManager, mirroring
// flexran::app::component in the original: PeriodicTask is invoked once
// per tick, on the single scheduler thread, with no guarantee of
// ordering relative to other apps beyond registration order.
type Component interface {
	PeriodicTask(tickCount uint64)
}

// periodicCallback is a lighter-weight registration than a full
// Component, for call sites (e.g. a liveness sweep) that just need "every
// N ticks starting at tick offset."
type periodicCallback struct {
	period uint64
	offset uint64
	fn     func()
}

// defaultTickInterval is the task-manager cadence, matching the
// controller's 1ms subframe-aligned tick (spec.md §5).
const defaultTickInterval = time.Millisecond

// TaskManager is the controller's single scheduler thread: once per tick
// it drains the RIB updater, fires due periodic callbacks, runs every
// registered app, and publishes a task_tick event. All RIB mutation and
// scheduling decisions happen here, never concurrently with this loop.
type TaskManager struct {
	updater *rib.Updater
	bus     *eventbus.Bus
	disp    *Dispatcher
	log     *slog.Logger

	tickInterval time.Duration

	apps      []Component
	callbacks []periodicCallback
	counter   uint64
}

// NewTaskManager builds a TaskManager. tickInterval <= 0 uses
// defaultTickInterval. disp may be nil if the controller has no HTTP API
// wired in (e.g. a test harness driving the RIB/scheduler directly).
func NewTaskManager(updater *rib.Updater, bus *eventbus.Bus, disp *Dispatcher, tickInterval time.Duration, log *slog.Logger) *TaskManager {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &TaskManager{updater: updater, bus: bus, disp: disp, tickInterval: tickInterval, log: log}
}

// RegisterApp adds a Component to be invoked every tick, in registration
// order. Must be called before Run starts; TaskManager is not safe to
// register against concurrently with a running tick loop.
func (tm *TaskManager) RegisterApp(c Component) {
	tm.apps = append(tm.apps, c)
}

// RegisterPeriodic registers fn to run every period ticks, first firing
// when (tickCount-offset)%period == 0. period must be >= 1.
func (tm *TaskManager) RegisterPeriodic(period, offset uint64, fn func()) {
	if period == 0 {
		period = 1
	}
	tm.callbacks = append(tm.callbacks, periodicCallback{period: period, offset: offset, fn: fn})
}

// TickCount returns the number of ticks elapsed since Run started.
func (tm *TaskManager) TickCount() uint64 {
	return tm.counter
}

// Run drives the tick loop until ctx is canceled. A tick that takes longer
// than tickInterval is allowed to run to completion; Go's time.Ticker
// coalesces at most one pending tick, so a slow cycle causes the next
// tick to fire immediately rather than queuing a backlog — ticks are
// never made up, matching the original's "missed cycles are simply
// skipped" wait_for_cycle behavior.
func (tm *TaskManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(tm.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tm.tick(ctx)
		}
	}
}

func (tm *TaskManager) tick(ctx context.Context) {
	tm.updater.Run()

	if tm.disp != nil {
		tm.disp.Drain(ctx)
	}

	for _, cb := range tm.callbacks {
		if tm.counter < cb.offset {
			continue
		}
		if (tm.counter-cb.offset)%cb.period != 0 {
			continue
		}
		tm.invokeCallback(cb.fn)
	}

	for _, app := range tm.apps {
		tm.invokeApp(app)
	}

	tm.bus.PublishTaskTick(tm.counter)
	tm.counter++
}

// invokeCallback isolates a panic in one periodic callback so it cannot
// take down the tick loop or prevent other apps from running this tick.
func (tm *TaskManager) invokeCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			tm.log.Error("periodic callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (tm *TaskManager) invokeApp(app Component) {
	defer func() {
		if r := recover(); r != nil {
			tm.log.Error("app periodic task panicked", "panic", fmt.Sprint(r))
		}
	}()
	app.PeriodicTask(tm.counter)
}
