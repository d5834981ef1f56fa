package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{Type: EventNodeOffline, NodeID: "node-1"})

	select {
	case got := <-sub:
		assert.Equal(t, EventNodeOffline, got.Type)
		assert.Equal(t, "node-1", got.NodeID)
		assert.NotEmpty(t, got.ID, "publish should assign an id")
		assert.False(t, got.Timestamp.IsZero(), "publish should stamp the event")
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	first := broker.Subscribe()
	second := broker.Subscribe()
	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventTaskAssigned, TaskID: "task-1"})

	for _, sub := range []Subscriber{first, second} {
		select {
		case got := <-sub:
			assert.Equal(t, EventTaskAssigned, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestBrokerDoesNotBlockOnSlowSubscriber(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// never drained, buffer 50
	_ = broker.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			broker.Publish(&Event{Type: EventJobCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscribeTypesFilters(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	nodesOnly := broker.SubscribeTypes(EventNodeOffline, EventNodeFailed)
	defer broker.Unsubscribe(nodesOnly)

	broker.Publish(&Event{Type: EventTaskAssigned, TaskID: "task-1"})
	broker.Publish(&Event{Type: EventNodeFailed, NodeID: "node-1"})

	select {
	case got := <-nodesOnly:
		assert.Equal(t, EventNodeFailed, got.Type, "task event should have been filtered out")
	case <-time.After(2 * time.Second):
		t.Fatal("filtered subscriber missed its event")
	}

	select {
	case got := <-nodesOnly:
		t.Fatalf("unexpected extra event %s", got.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open, "unsubscribed channel should be closed")
	assert.Equal(t, 0, broker.SubscriberCount())
}
