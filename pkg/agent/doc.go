/*
Package agent implements the worker-side daemon.

An agent turns a host into a drover node. It enrolls with the manager using
the cluster join token, then runs two loops against the REST API:

	┌────────────────────────── AGENT ──────────────────────────┐
	│                                                           │
	│  heartbeat loop ── POST /nodes/:id/heartbeat              │
	│    load + sampled cpu/mem/disk/network                    │
	│    known=false → re-register                              │
	│                                                           │
	│  poll loop ────── GET /nodes/:id/tasks                    │
	│    new assignment  → run spec on local scheduler          │
	│    vanished task   → cancel local process                 │
	│    running w/o us  → report failed (process lost)         │
	│    404             → re-register                          │
	│                                                           │
	│  local scheduler (pkg/scheduler) supervises processes     │
	└───────────────────────────────────────────────────────────┘

Execution reuses the same scheduler the manager uses for local jobs; a
task's spec becomes a job, the supervised process runs under the agent's
concurrency bound, and the terminal state is reported back with the exit
code.

The agent holds no durable state. Identity comes from registration, and a
manager that lost the node simply hands out a fresh one; tasks stranded on
the old identity are the failover manager's problem, not ours.
*/
package agent
