/*
Package failover reschedules tasks orphaned by node failures.

When the heartbeat monitor (or an operator drain) reports a dead node, the
Manager marks it failed in the registry, reclaims every task assigned
there, and decides each task's fate by the configured strategy:

  - immediate: back into the pending queue right away.
  - delayed: reclaimed now, requeued after base·2^(attempt−1) backoff on a
    cancellable timer, so one slow task never blocks reclaiming the rest.
  - optimal: reassigned directly to the best eligible node by health score,
    bypassing the queue; no candidate means immediate behavior.
  - manual: marked failed and left for an operator to retry.

Every rescue first passes the retry ledger, a per-task attempt count
persisted in the store's retries bucket. A task failed more than
max_retries times (default 3) is given up on instead of requeued, with a
task.exhausted event. Successful completion clears a task's ledger entry
via the tracker's success hook, so only consecutive failures count against
the limit.

This path absorbs errors: individual task problems are logged and the
reclamation loop moves on. A node failure must never escalate into a
failover failure.
*/
package failover
