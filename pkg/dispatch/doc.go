/*
Package dispatch moves pending tasks onto worker nodes.

The Dispatcher runs a placement cycle on an interval (default 5s): it
drains the tracker's pending queue in priority order and asks the registry
for the best eligible node for each task. Tasks with no eligible node,
because none has the required capabilities or every candidate is full, are
requeued in the order they were popped, so a cycle under capacity pressure
never reorders the backlog. Cycles are also cheap when idle: an empty queue
returns immediately.

The same loop carries a staleness watchdog. An assigned or running task
older than the stale threshold (default 1h) is flagged once, logged, and
published as a task.stale event for operators. Flagging is advisory only;
the dispatcher never cancels work, since the failover manager owns
reclaiming tasks from nodes that actually died.
*/
package dispatch
