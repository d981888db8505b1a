package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	got := make(chan Event, 2)

	bus.Subscribe(EventSettingsUpdated, func(e Event) { got <- e })
	bus.Subscribe(EventSettingsUpdated, func(e Event) { got <- e })
	bus.PublishFrom("store", EventSettingsUpdated, "payload")

	for i := 0; i < 2; i++ {
		select {
		case e := <-got:
			assert.Equal(t, EventSettingsUpdated, e.Type)
			assert.Equal(t, "payload", e.Payload)
			assert.Equal(t, "store", e.Source)
		case <-time.After(time.Second):
			t.Fatal("handler was not called")
		}
	}
}

func TestInMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	called := make(chan struct{}, 1)

	id := bus.Subscribe(EventBadge, func(Event) { called <- struct{}{} })
	require.Equal(t, 1, bus.Subscribers(EventBadge))

	bus.Unsubscribe(EventBadge, id)
	assert.Equal(t, 0, bus.Subscribers(EventBadge))

	bus.Publish(EventBadge, "x")
	select {
	case <-called:
		t.Fatal("unsubscribed handler was called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	// 没有订阅者时发布不应该报错或阻塞
	bus.Publish(EventNotification, "nobody listens")
	assert.Equal(t, 0, bus.Subscribers(EventNotification))
}

func TestInMemoryBus_PreservesOrderPerSubscriber(t *testing.T) {
	bus := NewInMemoryBus()
	const n = 200

	got := make(chan int, n)
	bus.Subscribe(EventSettingsUpdated, func(e Event) { got <- e.Payload.(int) })

	for i := 0; i < n; i++ {
		bus.Publish(EventSettingsUpdated, i)
	}

	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			require.Equal(t, i, v, "events delivered out of order")
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d events delivered", i, n)
		}
	}
}

func TestInMemoryBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewInMemoryBus()
	release := make(chan struct{})
	defer close(release)

	bus.Subscribe(EventBadge, func(Event) { <-release })
	fast := make(chan Event, 4)
	bus.Subscribe(EventBadge, func(e Event) { fast <- e })

	bus.Publish(EventBadge, "a")
	bus.Publish(EventBadge, "b")

	for _, want := range []string{"a", "b"} {
		select {
		case e := <-fast:
			assert.Equal(t, want, e.Payload)
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved")
		}
	}
	assert.Equal(t, 2, bus.Subscribers(EventBadge))
}
