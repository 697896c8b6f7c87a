// Package eventbus implements the controller's in-process event
// subscription mechanism (spec.md C6): apps register handlers for
// task_tick, ue_connect, ue_update, ue_disconnect, bs_add, and bs_remove,
// and the task-manager thread delivers events to them synchronously,
// in registration order, within the tick that produced them.
//
// There is exactly one bus per controller instance and it is only ever
// touched from the scheduler thread (spec.md §5), so no locking is needed
// on the hot path; the mutex below exists only to guard Subscribe/
// Unsubscribe being called from app constructors during startup.
package eventbus

import (
	"sync"

	"github.com/flexran/rtc/internal/protocol"
)

// Handle identifies a subscription so it can later be revoked.
type Handle uint64

// TaskTickHandler is invoked once per task-manager tick, after the RIB
// updater has drained inbound messages for that tick.
type TaskTickHandler func(tickCount uint64)

// UEHandler is invoked for ue_connect/ue_update/ue_disconnect events.
type UEHandler func(bsID uint64, rnti protocol.RNTI)

// BSHandler is invoked for bs_add/bs_remove events.
type BSHandler func(bsID uint64)

type subscription[F any] struct {
	handle Handle
	fn     F
}

// Bus is the event dispatch hub. Zero value is not usable; use New.
type Bus struct {
	mu sync.Mutex

	nextHandle Handle

	taskTick     []subscription[TaskTickHandler]
	ueConnect    []subscription[UEHandler]
	ueUpdate     []subscription[UEHandler]
	ueDisconnect []subscription[UEHandler]
	bsAdd        []subscription[BSHandler]
	bsRemove     []subscription[BSHandler]

	// removed collects handles revoked during an in-progress dispatch so
	// they can be swept out after that dispatch completes, rather than
	// mutating a slice out from under the range loop delivering it.
	removed map[Handle]bool
	dispatching bool
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{removed: make(map[Handle]bool)}
}

func (b *Bus) allocHandle() Handle {
	b.nextHandle++
	return b.nextHandle
}

// SubscribeTaskTick registers fn to run on every tick and returns a Handle
// that can be passed to Unsubscribe.
func (b *Bus) SubscribeTaskTick(fn TaskTickHandler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.allocHandle()
	b.taskTick = append(b.taskTick, subscription[TaskTickHandler]{handle: h, fn: fn})
	return h
}

// SubscribeUEConnect registers fn to run whenever a UE connects.
func (b *Bus) SubscribeUEConnect(fn UEHandler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.allocHandle()
	b.ueConnect = append(b.ueConnect, subscription[UEHandler]{handle: h, fn: fn})
	return h
}

// SubscribeUEUpdate registers fn to run whenever a UE's configuration
// changes in place.
func (b *Bus) SubscribeUEUpdate(fn UEHandler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.allocHandle()
	b.ueUpdate = append(b.ueUpdate, subscription[UEHandler]{handle: h, fn: fn})
	return h
}

// SubscribeUEDisconnect registers fn to run whenever a UE disconnects.
func (b *Bus) SubscribeUEDisconnect(fn UEHandler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.allocHandle()
	b.ueDisconnect = append(b.ueDisconnect, subscription[UEHandler]{handle: h, fn: fn})
	return h
}

// SubscribeBSAdd registers fn to run whenever a new base station reaches
// complete capability coverage.
func (b *Bus) SubscribeBSAdd(fn BSHandler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.allocHandle()
	b.bsAdd = append(b.bsAdd, subscription[BSHandler]{handle: h, fn: fn})
	return h
}

// SubscribeBSRemove registers fn to run whenever a base station's last
// agent disconnects.
func (b *Bus) SubscribeBSRemove(fn BSHandler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.allocHandle()
	b.bsRemove = append(b.bsRemove, subscription[BSHandler]{handle: h, fn: fn})
	return h
}

// Unsubscribe revokes a previously registered handler. It is safe to call
// from within a handler that is itself running as part of the current
// dispatch: the removal is deferred until dispatch finishes.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dispatching {
		b.removed[h] = true
		return
	}
	b.removeNow(h)
}

func (b *Bus) removeNow(h Handle) {
	b.taskTick = removeHandle(b.taskTick, h)
	b.ueConnect = removeHandle(b.ueConnect, h)
	b.ueUpdate = removeHandle(b.ueUpdate, h)
	b.ueDisconnect = removeHandle(b.ueDisconnect, h)
	b.bsAdd = removeHandle(b.bsAdd, h)
	b.bsRemove = removeHandle(b.bsRemove, h)
}

func removeHandle[F any](subs []subscription[F], h Handle) []subscription[F] {
	for i, s := range subs {
		if s.handle == h {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// beginDispatch/endDispatch bracket a single event's delivery so that
// Unsubscribe calls made by handlers during that delivery are deferred
// rather than mutating the slice being ranged over.
func (b *Bus) beginDispatch() {
	b.mu.Lock()
	b.dispatching = true
	b.mu.Unlock()
}

func (b *Bus) endDispatch() {
	b.mu.Lock()
	b.dispatching = false
	for h := range b.removed {
		b.removeNow(h)
		delete(b.removed, h)
	}
	b.mu.Unlock()
}

// PublishTaskTick delivers a task_tick event to every current subscriber,
// in registration order.
func (b *Bus) PublishTaskTick(tickCount uint64) {
	b.beginDispatch()
	defer b.endDispatch()
	for _, s := range snapshot(b.taskTick) {
		s.fn(tickCount)
	}
}

// PublishUEConnect delivers a ue_connect event.
func (b *Bus) PublishUEConnect(bsID uint64, rnti protocol.RNTI) {
	b.beginDispatch()
	defer b.endDispatch()
	for _, s := range snapshot(b.ueConnect) {
		s.fn(bsID, rnti)
	}
}

// PublishUEUpdate delivers a ue_update event.
func (b *Bus) PublishUEUpdate(bsID uint64, rnti protocol.RNTI) {
	b.beginDispatch()
	defer b.endDispatch()
	for _, s := range snapshot(b.ueUpdate) {
		s.fn(bsID, rnti)
	}
}

// PublishUEDisconnect delivers a ue_disconnect event.
func (b *Bus) PublishUEDisconnect(bsID uint64, rnti protocol.RNTI) {
	b.beginDispatch()
	defer b.endDispatch()
	for _, s := range snapshot(b.ueDisconnect) {
		s.fn(bsID, rnti)
	}
}

// PublishBSAdd delivers a bs_add event.
func (b *Bus) PublishBSAdd(bsID uint64) {
	b.beginDispatch()
	defer b.endDispatch()
	for _, s := range snapshot(b.bsAdd) {
		s.fn(bsID)
	}
}

// PublishBSRemove delivers a bs_remove event.
func (b *Bus) PublishBSRemove(bsID uint64) {
	b.beginDispatch()
	defer b.endDispatch()
	for _, s := range snapshot(b.bsRemove) {
		s.fn(bsID)
	}
}

func snapshot[F any](subs []subscription[F]) []subscription[F] {
	out := make([]subscription[F], len(subs))
	copy(out, subs)
	return out
}
