/*
Package tasks tracks distributed work items from submission to a terminal
result.

The Tracker owns two structures the rest of the cluster coordinates
through: the pending priority queue (critical > high > normal > low, FIFO
within a level) and the assignment table mapping active tasks to their
nodes. Assignment is guarded: the node must offer every capability the task
requires and have a free slot, with a full node reported as
ErrResourceLimitReached so the dispatcher knows to try again later rather
than treat it as a placement bug.

Task lifecycle:

	pending ──► assigned ──► running ──► completed
	   ▲            │            │   └──► failed
	   │            │            └──────► canceled
	   └────────────┴── requeue (failover / no eligible node / operator retry)

Completion and failure record a TaskResult, free the node's slot through
the registry, and on success reset the failover retry history via the
OnSuccess hook. Terminal reports are idempotent: the first one wins and
duplicates from a slow agent are no-ops.
*/
package tasks
