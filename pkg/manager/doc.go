/*
Package manager is the control plane of a drover cluster.

The Manager is a composition root: it owns the store, the event broker and
every coordinating component, restores persisted state at startup, and
exposes the operations the REST API serves. Membership is centrally
tracked; there is no consensus layer. One manager process is the
authoritative writer for node, task and group state.

# Architecture

	┌──────────────────────── MANAGER PROCESS ────────────────────────┐
	│                                                                  │
	│  ┌────────────────────────────────────────────────┐             │
	│  │          echo REST API (default :7420)         │             │
	│  └───────────────────────┬────────────────────────┘             │
	│                          │                                       │
	│  ┌───────────────────────▼────────────────────────┐             │
	│  │                  Manager                       │             │
	│  │  - job submit/cancel via LocalScheduler        │             │
	│  │  - task intake, placement, progress reports    │             │
	│  │  - node register/heartbeat/drain/remove        │             │
	│  │  - join-token issue/rotate/validate            │             │
	│  └──┬──────────┬──────────┬──────────┬────────────┘             │
	│     │          │          │          │                           │
	│  ┌──▼───┐  ┌───▼────┐  ┌──▼────┐  ┌──▼─────┐                   │
	│  │Sched │  │Registry│  │Tracker│  │ Groups │                   │
	│  └──┬───┘  └───┬────┘  └──┬────┘  └──┬─────┘                   │
	│     │          │          │          │                           │
	│  ┌──▼──────────▼──────────▼──────────▼───────────┐             │
	│  │               BoltDB Store                     │             │
	│  │  jobs / tasks / results / nodes / groups /     │             │
	│  │  retry ledger / cluster meta                   │             │
	│  └────────────────────────────────────────────────┘             │
	│                                                                  │
	│  background loops: heartbeat monitor → failover → dispatch,     │
	│  metrics collector, janitor sweeps, event log sink              │
	└──────────────────────────────────────────────────────────────────┘

# Failure Detection and Recovery

The heartbeat monitor scans for nodes that stopped pinging and hands the
expired ids to the manager's callback. Each one goes through the failover
manager, which marks the node failed and reschedules its tasks per the
configured strategy; a dispatch cycle then places whatever came back to
pending. The chain lives entirely inside this process:

	monitor.CheckHeartbeats ──► onNodeFailures ──► failover.HandleNodeFailure
	                                         └──► dispatcher.Dispatch

# Startup Restoration

New() reloads everything the previous process persisted:

  - nodes return as offline until they heartbeat again; nodes that hold
    tasks and stay silent for one heartbeat timeout after Start() are
    escalated to the failover path
  - pending tasks rejoin the placement queue; assigned and running tasks
    keep their assignment so a returning node can resume reporting
  - jobs that were in flight are marked failed, since their processes died
    with the previous daemon; terminal jobs are kept as history
  - job groups and the retry ledger load as-is

# Join Token

A single cluster join token lives in the store's cluster-meta bucket. It is
taken from configuration when set, otherwise loaded from a previous run,
otherwise generated. Agents present it when registering; RotateJoinToken
replaces it without affecting already-registered nodes.

# Configuration Reload

ApplyConfig applies what is safe to change live: the log level and the job
concurrency cap. Interval, retention and strategy changes are logged as
needing a restart rather than half-applied.
*/
package manager
