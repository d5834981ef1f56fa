/*
Package registry tracks worker node membership for drover.

The Registry is the shared node table the heartbeat monitor, failover
manager, and task dispatcher all consult. Each node carries its declared
capability set, a max-concurrency slot count, its assigned-task load, the
last heartbeat timestamp, and a utilization sample.

# Node State

	                Register
	                   │
	                   ▼
	available ◄─────► busy          (0.9 CPU/memory threshold, automatic)
	    │  ▲
	    │  └── resumed heartbeat
	    ▼
	 offline ────► failed           (failover's explicit failure path)

	maintenance                     (operator-set, never changed automatically)

Metrics samples flip available/busy only; offline, failed, and maintenance
are left alone. Heartbeats touch the in-memory timestamp without hitting
the store, since persisting every ping would turn liveness into disk load.
Every other state change writes through and publishes a membership event.

# Placement

BestNode ranks candidates by HealthScore, 40% spare task slots and 60%
spare CPU/memory headroom, considering only nodes that are available with
free slots and offer every required capability. Ties break toward the lower
node id so placement is deterministic.

# See Also

  - pkg/heartbeat - drives the offline transition on missed heartbeats
  - pkg/failover - marks nodes failed and reschedules their tasks
  - pkg/dispatch - assigns pending tasks via BestNode
*/
package registry
