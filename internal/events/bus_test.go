package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDispatchesInOrder(t *testing.T) {
	bus := NewEventBus(16)

	var mu sync.Mutex
	var got []int
	bus.Subscribe(EventTypeWraparound, func(e Event) {
		mu.Lock()
		got = append(got, e.Data["cycles"].(int))
		mu.Unlock()
	})

	for i := 1; i <= 5; i++ {
		bus.Publish(NewWraparoundEvent(i, i*30))
	}
	bus.Stop()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestBusWildcardAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(16)
	defer bus.Stop()

	all := make(chan EventType, 8)
	id := bus.Subscribe(Wildcard, func(e Event) { all <- e.Type })

	bus.Publish(NewCaptureErrorEvent(assert.AnError))
	require.Equal(t, EventTypeCaptureError, <-all)

	bus.Unsubscribe(id)
	assert.Equal(t, 0, bus.GetSubscriberCount(Wildcard))

	bus.Publish(NewRunningChangedEvent(true, ""))
	select {
	case e := <-all:
		t.Fatalf("unexpected event after unsubscribe: %s", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTryPublishDropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)

	release := make(chan struct{})
	bus.Subscribe(EventTypeStateUpdated, func(Event) { <-release })

	// First event is picked up by the processor and blocks it
	require.True(t, bus.TryPublish(NewStateUpdatedEvent(1)))
	require.Eventually(t, func() bool { return bus.GetQueueSize() == 0 }, time.Second, time.Millisecond)

	assert.True(t, bus.TryPublish(NewStateUpdatedEvent(2)))
	assert.False(t, bus.TryPublish(NewStateUpdatedEvent(3)))
	assert.Equal(t, int64(1), bus.Dropped())

	close(release)
	bus.Stop()
	assert.False(t, bus.TryPublish(NewStateUpdatedEvent(4)))
}

func TestHandlerPanicDoesNotStopBus(t *testing.T) {
	bus := NewEventBus(4)
	defer bus.Stop()

	done := make(chan struct{})
	bus.Subscribe(EventTypeError, func(e Event) {
		if e.Source == "boom" {
			panic("handler failure")
		}
		close(done)
	})

	bus.Publish(NewErrorEvent("boom", "test", "first", nil))
	bus.Publish(NewErrorEvent("ok", "test", "second", nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second event was not delivered")
	}
}
