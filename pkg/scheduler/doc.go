/*
Package scheduler provides local priority-based job scheduling with process
supervision for drover.

Jobs wrap one external process each. The scheduler admits jobs into a priority
queue, launches as many as the concurrency cap allows, captures their output,
and converges every job to exactly one terminal status: completed, failed, or
cancelled.

# Architecture

Scheduling is event-driven rather than tick-driven. Dispatch runs whenever
capacity may have changed: on submission, on process exit, and when the
concurrency cap is raised.

	          Schedule(job)
	               │
	               ▼
	┌──────────────────────────────┐
	│  priority queue              │   higher priority first,
	│  (container/heap)            │   submission order on ties
	└──────────────┬───────────────┘
	               │ dispatch: pop while running < max
	               ▼
	┌──────────────────────────────┐
	│  Launcher.Launch(spec)       │   os/exec behind an interface
	└──────────────┬───────────────┘
	               │
	     ┌─────────┴─────────┐
	     ▼                   ▼
	  drain stdout        drain stderr     (capped at 1 MiB each)
	     └─────────┬─────────┘
	               ▼
	        Process.Wait()
	               │
	               ▼
	  terminal bookkeeping ──► dispatch next queued job

# Job Lifecycle

	pending ──► running ──► completed   (exit code 0)
	   │           │    └─► failed      (non-zero exit, spawn error, timeout)
	   │           └──────► cancelled   (Cancel while running)
	   └──────────────────► cancelled   (Cancel while queued)

Terminal statuses are final. Re-submitting an id the scheduler has seen, in
any state, fails with ErrSchedulingFailed; cancelling a terminal job is a
no-op.

# Cancellation

Cancel on a running job flips the status to cancelled first, then delivers
SIGTERM, waits a 500ms grace period, and kills the process if it is still
alive. The status change never depends on signal delivery: if signalling
fails the job is still cancelled and the error is reported as
ErrCancellationFailed. On Windows the process is killed outright since
SIGTERM delivery is not supported there.

# Output Capture

Stdout and stderr are drained concurrently into per-job buffers capped at
types.MaxOutputBytes per stream. Output beyond the cap is dropped and the
truncation flag is set; capture problems never fail the job.

# Usage

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentJobs: 4,
		Store:             store,  // optional write-through persistence
		Broker:            broker, // optional lifecycle events
	})

	job := &types.Job{
		Priority: 10,
		Spec: types.JobSpec{
			Path:    "/usr/local/bin/backup",
			Args:    []string{"--full"},
			Timeout: 30 * time.Minute,
		},
	}
	if err := sched.Schedule(job); err != nil {
		// launch failed inline, or the queue rejected the job
	}

	// later
	_ = sched.Cancel(job.ID)

Schedule returns an error for the submitted job only when that job was
dispatched during the call and its launch failed; jobs that fail to launch
later surface the error on their job record instead.

# Testing

The Launcher interface is the seam for tests: a stub launcher returns fake
processes whose exit is controlled by the test, so scheduling order, the
concurrency cap, cancellation, and timeout behavior can all be exercised
without spawning real processes.

# See Also

  - pkg/types - Job, JobSpec, and the status vocabulary
  - pkg/agent - runs a Scheduler per worker node for distributed tasks
  - pkg/manager - wires the Scheduler into the daemon
*/
package scheduler
