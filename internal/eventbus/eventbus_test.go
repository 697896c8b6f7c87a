package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flexran/rtc/internal/protocol"
)

func TestPublishTaskTickDeliversInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	b.SubscribeTaskTick(func(uint64) { order = append(order, 1) })
	b.SubscribeTaskTick(func(uint64) { order = append(order, 2) })
	b.SubscribeTaskTick(func(uint64) { order = append(order, 3) })

	b.PublishTaskTick(42)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishTaskTickPassesTickCount(t *testing.T) {
	b := New()
	var got uint64
	b.SubscribeTaskTick(func(tc uint64) { got = tc })
	b.PublishTaskTick(7)
	assert.Equal(t, uint64(7), got)
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	b := New()
	calls := 0
	h := b.SubscribeTaskTick(func(uint64) { calls++ })
	b.PublishTaskTick(1)
	b.Unsubscribe(h)
	b.PublishTaskTick(2)
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeDuringDispatchIsDeferred(t *testing.T) {
	b := New()
	var secondCalled bool
	var firstHandle Handle
	firstHandle = b.SubscribeTaskTick(func(uint64) {
		b.Unsubscribe(firstHandle)
	})
	b.SubscribeTaskTick(func(uint64) { secondCalled = true })

	assert.NotPanics(t, func() { b.PublishTaskTick(1) })
	assert.True(t, secondCalled, "subscriber registered after the self-unsubscriber must still run in the same dispatch")

	secondCalled = false
	b.PublishTaskTick(2)
	assert.True(t, secondCalled, "second subscriber remains subscribed after the deferred removal settles")
}

func TestUEEventsCarryBSIDAndRNTI(t *testing.T) {
	b := New()
	var gotBS uint64
	var gotRNTI protocol.RNTI
	b.SubscribeUEConnect(func(bsID uint64, rnti protocol.RNTI) {
		gotBS = bsID
		gotRNTI = rnti
	})
	b.PublishUEConnect(5, protocol.RNTI(100))
	assert.Equal(t, uint64(5), gotBS)
	assert.Equal(t, protocol.RNTI(100), gotRNTI)

	var updateCalled, disconnectCalled bool
	b.SubscribeUEUpdate(func(uint64, protocol.RNTI) { updateCalled = true })
	b.SubscribeUEDisconnect(func(uint64, protocol.RNTI) { disconnectCalled = true })
	b.PublishUEUpdate(5, protocol.RNTI(100))
	b.PublishUEDisconnect(5, protocol.RNTI(100))
	assert.True(t, updateCalled)
	assert.True(t, disconnectCalled)
}

func TestBSEventsCarryBSID(t *testing.T) {
	b := New()
	var addedID, removedID uint64
	b.SubscribeBSAdd(func(bsID uint64) { addedID = bsID })
	b.SubscribeBSRemove(func(bsID uint64) { removedID = bsID })

	b.PublishBSAdd(99)
	b.PublishBSRemove(99)

	assert.Equal(t, uint64(99), addedID)
	assert.Equal(t, uint64(99), removedID)
}

func TestHandlesAreUniquePerSubscription(t *testing.T) {
	b := New()
	h1 := b.SubscribeTaskTick(func(uint64) {})
	h2 := b.SubscribeTaskTick(func(uint64) {})
	assert.NotEqual(t, h1, h2)
}
