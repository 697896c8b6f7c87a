package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchBlocksUntilDrainRuns(t *testing.T) {
	d := NewDispatcher(time.Second, nil)
	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch("c1", func() error { return nil })
	}()

	time.Sleep(10 * time.Millisecond) // allow Dispatch to enqueue
	d.Drain(context.Background())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Dispatch did not unblock after Drain")
	}
}

func TestDispatchPropagatesCommandError(t *testing.T) {
	d := NewDispatcher(time.Second, nil)
	want := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch("c1", func() error { return want })
	}()

	time.Sleep(10 * time.Millisecond) // allow Dispatch to enqueue
	d.Drain(context.Background())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, want)
	case <-time.After(time.Second):
		t.Fatal("Dispatch did not unblock after Drain")
	}
}

func TestDispatchTimesOutIfNeverDrained(t *testing.T) {
	d := NewDispatcher(20*time.Millisecond, nil)
	err := d.Dispatch("c1", func() error { return nil })
	require.Error(t, err)
}

func TestDispatchReportsBackpressureWhenQueueFull(t *testing.T) {
	d := NewDispatcher(10*time.Millisecond, nil)
	for i := 0; i < defaultQueueDepth; i++ {
		go d.Dispatch("filler", func() error { return nil })
	}
	time.Sleep(20 * time.Millisecond)
	err := d.Dispatch("overflow", func() error { return nil })
	assert.Error(t, err)
}

func TestDrainRunsEveryQueuedCommand(t *testing.T) {
	d := NewDispatcher(time.Second, nil)
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		go d.Dispatch("c", func() error {
			order = append(order, i)
			return nil
		})
	}
	time.Sleep(20 * time.Millisecond)
	d.Drain(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, order, 3)
}

func TestRunRecoversPanicIntoFatalError(t *testing.T) {
	d := NewDispatcher(time.Second, nil)
	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch("c1", func() error { panic("kaboom") })
	}()
	time.Sleep(10 * time.Millisecond)
	d.Drain(context.Background())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("panic did not produce a result")
	}
}
