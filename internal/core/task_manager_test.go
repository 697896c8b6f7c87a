package core

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexran/rtc/internal/eventbus"
	"github.com/flexran/rtc/internal/network"
	"github.com/flexran/rtc/internal/rib"
)

func newTestTaskManager(t *testing.T, disp *Dispatcher) *TaskManager {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	r := rib.New(0)
	bus := eventbus.New()
	nm := network.NewManager(network.Config{}, nil)
	updater := rib.NewUpdater(r, nm, bus, 0, nil)
	return NewTaskManager(updater, bus, disp, 5*time.Millisecond, nil)
}

func TestTaskManagerTickIncrementsCounter(t *testing.T) {
	tm := newTestTaskManager(t, nil)
	assert.Equal(t, uint64(0), tm.TickCount())

	ctx, cancel := context.WithCancel(context.Background())
	go tm.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.Greater(t, tm.TickCount(), uint64(0))
}

func TestTaskManagerRunsRegisteredAppsEveryTick(t *testing.T) {
	tm := newTestTaskManager(t, nil)
	var calls int32
	tm.RegisterApp(componentFunc(func(uint64) { atomic.AddInt32(&calls, 1) }))

	ctx, cancel := context.WithCancel(context.Background())
	go tm.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.Greater(t, atomic.LoadInt32(&calls), int32(0))
}

func TestTaskManagerPeriodicCallbackRespectsOffsetAndPeriod(t *testing.T) {
	tm := newTestTaskManager(t, nil)
	var fires []uint64
	tm.RegisterPeriodic(3, 1, func() { fires = append(fires, tm.TickCount()) })

	for i := 0; i < 10; i++ {
		tm.tick(context.Background())
	}

	for _, tc := range fires {
		assert.Equal(t, uint64(0), (tc-1)%3, "tick %d should not have fired", tc)
	}
	assert.NotEmpty(t, fires)
}

func TestTaskManagerPanicInAppDoesNotStopTick(t *testing.T) {
	tm := newTestTaskManager(t, nil)
	var secondRan bool
	tm.RegisterApp(componentFunc(func(uint64) { panic("boom") }))
	tm.RegisterApp(componentFunc(func(uint64) { secondRan = true }))

	assert.NotPanics(t, func() { tm.tick(context.Background()) })
	assert.True(t, secondRan)
}

func TestTaskManagerDrainsDispatcherBeforeApps(t *testing.T) {
	disp := NewDispatcher(time.Second, nil)
	tm := newTestTaskManager(t, disp)

	done := make(chan error, 1)
	go func() {
		done <- disp.Dispatch("c1", func() error { return nil })
	}()
	time.Sleep(10 * time.Millisecond)

	tm.tick(context.Background())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatched command was not drained by tick")
	}
}

type componentFunc func(tickCount uint64)

func (f componentFunc) PeriodicTask(tickCount uint64) { f(tickCount) }
