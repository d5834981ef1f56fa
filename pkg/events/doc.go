/*
Package events provides pub/sub event distribution for Drover.

The Broker fans scheduler and cluster events (job lifecycle, task
assignment and rescheduling, node liveness changes) out to any number of
subscribers. Producers never block: Publish drops when the broker buffer is
full, and broadcast skips subscribers whose channels are full, so a slow
consumer can never stall a scheduling or failover path.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventNodeOffline,
		NodeID:  nodeID,
		Message: "heartbeat timeout",
	})

The manager subscribes a log sink at startup so every event appears in the
structured log; tests subscribe directly to assert on emitted sequences.
*/
package events
