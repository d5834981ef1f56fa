/*
Package types defines the core data structures used throughout Drover.

This package contains the domain model shared by every other package: local
jobs and their process specs, job groups, distributed tasks, worker nodes,
and the error taxonomy. All entities serialize to JSON for both the REST API
and the bbolt store.

# Core Types

Local execution:
  - Job: one unit of local work backed by an external process
  - JobSpec: executable path, argv, environment, working directory, timeout
  - JobStatus: pending, running, completed, failed, cancelled
  - JobGroup: named batch of job ids with tags, advisory limits, expiry

Distributed execution:
  - Task: a distributable unit of work with priority and capability needs
  - TaskStatus: pending, assigned, running, completed, failed, canceled
  - TaskPriority: low, normal, high, critical (Rank orders the queue)
  - TaskResult: terminal outcome persisted per task

Cluster topology:
  - Node: worker target with capabilities, load, metrics, heartbeat
  - NodeStatus: available, busy, offline, failed, maintenance
  - Capability: compute, memory, network, storage, gpu, privileged

# State Machines

Job and task statuses are monotonic except for the explicit cancel
transitions. Node liveness moves available/busy -> offline only via
heartbeat timeout and offline -> available only via a resumed heartbeat;
the failed state is entered only through failover handling.

Node.ApplyMetrics implements the utilization sub-machine: a sample above 0.9
CPU or memory flips an available node to busy and back, and never touches
offline, failed, or maintenance nodes.

# Health Scoring

Node.HealthScore ranks failover targets in [0,1]:

	score = 0.4*(1 - load/max) + 0.6*(1 - (cpu+mem)/2)

Nodes that are neither available nor busy score zero, which keeps offline
and failed nodes out of placement decisions without extra filtering.

# Errors

errors.go declares the sentinel taxonomy (ErrJobNotFound,
ErrProcessStartFailed, ErrCancellationFailed, ...). Components wrap these
with fmt.Errorf("...: %w", ...) and callers branch with errors.Is.
*/
package types
