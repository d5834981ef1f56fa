package scheduler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

const (
	// cancelGracePeriod is how long a cancelled process gets between the
	// graceful terminate signal and the forced kill.
	cancelGracePeriod = 500 * time.Millisecond

	drainChunkSize = 4096
)

// Config holds configuration for creating a Scheduler
type Config struct {
	MaxConcurrentJobs int            // 0 means the host logical core count
	MaxQueuedJobs     int            // 0 means unbounded
	Launcher          Launcher       // nil means ExecLauncher
	Store             storage.Store  // optional: job state is written through
	Broker            *events.Broker // optional: lifecycle events are published
}

// Scheduler admits jobs into a priority queue, bounds concurrent execution,
// supervises the backing processes, and supports signal-based cancellation.
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*types.Job
	queue     *jobQueue
	procs     map[string]*supervised
	running   int
	maxJobs   int
	maxQueued int

	launcher Launcher
	store    storage.Store
	broker   *events.Broker
	logger   zerolog.Logger
}

// supervised tracks one launched process. done is closed after exit
// bookkeeping completes, which is what cancellation and timeout waiters
// select on.
type supervised struct {
	proc     Process
	done     chan struct{}
	timedOut bool // guarded by Scheduler.mu
}

// New creates a new Scheduler
func New(cfg Config) *Scheduler {
	maxJobs := cfg.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = runtime.NumCPU()
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = ExecLauncher{}
	}

	return &Scheduler{
		jobs:      make(map[string]*types.Job),
		queue:     newJobQueue(),
		procs:     make(map[string]*supervised),
		maxJobs:   maxJobs,
		maxQueued: cfg.MaxQueuedJobs,
		launcher:  launcher,
		store:     cfg.Store,
		broker:    cfg.Broker,
		logger:    log.WithComponent("scheduler"),
	}
}

// Schedule enqueues a job and dispatches queued work while capacity remains.
// If the submitted job itself is launched during this call and the launch
// fails, that error is returned; launch failures of other queued jobs are
// recorded on their job records.
func (s *Scheduler) Schedule(job *types.Job) error {
	if job == nil || job.Spec.Path == "" {
		return fmt.Errorf("%w: executable path required", types.ErrSchedulingFailed)
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	s.mu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s already submitted", types.ErrSchedulingFailed, job.ID)
	}
	if s.maxQueued > 0 && s.queue.Len() >= s.maxQueued {
		s.mu.Unlock()
		return fmt.Errorf("%w: job queue full at %d", types.ErrTooManyRunningJobs, s.maxQueued)
	}
	job.Status = types.JobStatusPending
	s.jobs[job.ID] = job
	s.queue.Push(job.ID, job.Priority)
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Str("job_id", job.ID).
		Int("priority", job.Priority).
		Str("path", job.Spec.Path).
		Msg("job queued")
	s.publish(events.EventJobScheduled, job.ID, "job queued")
	s.persist(job.ID)

	return s.dispatch(job.ID)
}

// Restore loads a persisted job back into the scheduler at startup. Terminal
// jobs are kept as history. Jobs that were pending or running when the
// previous process died have no surviving child process, so they are marked
// failed.
func (s *Scheduler) Restore(job *types.Job) {
	if job == nil || job.ID == "" {
		return
	}
	interrupted := !job.Status.IsTerminal()
	if interrupted {
		job.Status = types.JobStatusFailed
		job.Error = "interrupted: scheduler restarted"
		job.FinishedAt = time.Now()
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if interrupted {
		s.logger.Warn().Str("job_id", job.ID).Msg("job interrupted by restart")
		s.persist(job.ID)
	}
}

// Cancel terminates a job. Queued jobs are removed from the queue; running
// jobs get the graceful-then-forced signal sequence. Cancelling a job that
// already reached a terminal status is a no-op. The job always converges to
// cancelled even when signalling fails; a signal failure is reported as
// ErrCancellationFailed.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		s.mu.Unlock()
		return nil
	}

	if job.Status == types.JobStatusPending {
		s.queue.Remove(jobID)
		job.Status = types.JobStatusCancelled
		job.FinishedAt = time.Now()
		s.updateGaugesLocked()
		s.mu.Unlock()

		metrics.JobsTotal.WithLabelValues(string(types.JobStatusCancelled)).Inc()
		s.logger.Info().Str("job_id", jobID).Msg("queued job cancelled")
		s.publish(events.EventJobCancelled, jobID, "cancelled before dispatch")
		s.persist(jobID)
		return nil
	}

	// Running: converge the status first so exit bookkeeping preserves it,
	// then signal without holding the lock.
	entry := s.procs[jobID]
	job.Status = types.JobStatusCancelled
	pid := job.PID
	s.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(types.JobStatusCancelled)).Inc()
	s.logger.Info().Str("job_id", jobID).Int("pid", pid).Msg("cancelling running job")
	s.publish(events.EventJobCancelled, jobID, "cancel requested")
	s.persist(jobID)

	if entry == nil {
		// Launch is still in flight; it observes the cancelled status and
		// kills the process as soon as it exists.
		return nil
	}
	if err := s.terminate(entry); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCancellationFailed, err)
	}
	return nil
}

// Job returns a snapshot of the job with the given id.
func (s *Scheduler) Job(jobID string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// Jobs returns snapshots of every tracked job, oldest first.
func (s *Scheduler) Jobs() []*types.Job {
	s.mu.Lock()
	jobs := make([]*types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// RunningJobs returns the number of jobs currently executing.
func (s *Scheduler) RunningJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// QueuedJobs returns the number of jobs waiting in the queue.
func (s *Scheduler) QueuedJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// MaxConcurrentJobs returns the concurrency cap.
func (s *Scheduler) MaxConcurrentJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxJobs
}

// SetMaxConcurrentJobs adjusts the concurrency cap (minimum 1). Raising the
// cap dispatches queued jobs into the new capacity; lowering it lets excess
// running jobs finish naturally.
func (s *Scheduler) SetMaxConcurrentJobs(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.maxJobs = n
	s.mu.Unlock()
	_ = s.dispatch("")
}

// Forget drops a terminal job from the scheduler's memory. Pending and
// running jobs cannot be forgotten.
func (s *Scheduler) Forget(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, jobID)
	}
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", types.ErrSchedulingFailed, jobID, job.Status)
	}
	delete(s.jobs, jobID)
	return nil
}

// dispatch pops the queue head while running capacity remains, launching
// each popped job. Only a launch failure for triggerID is returned; other
// failures are recorded on the affected job records.
func (s *Scheduler) dispatch(triggerID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchDuration)

	var triggerErr error
	for {
		s.mu.Lock()
		if s.running >= s.maxJobs {
			s.mu.Unlock()
			return triggerErr
		}
		jobID, ok := s.queue.Pop()
		if !ok {
			s.mu.Unlock()
			return triggerErr
		}
		job := s.jobs[jobID]
		job.Status = types.JobStatusRunning
		job.StartedAt = time.Now()
		job.ExecutionCount++
		s.running++
		spec := job.Spec
		s.updateGaugesLocked()
		s.mu.Unlock()

		if err := s.launch(jobID, spec); err != nil {
			s.failLaunch(jobID, err)
			if jobID == triggerID {
				triggerErr = err
			}
		}
	}
}

// launch starts the process for a dispatched job and hands it to the
// supervision goroutines.
func (s *Scheduler) launch(jobID string, spec types.JobSpec) error {
	proc, err := s.launcher.Launch(spec)
	if err != nil {
		return classifyLaunch(err)
	}

	entry := &supervised{proc: proc, done: make(chan struct{})}

	s.mu.Lock()
	job := s.jobs[jobID]
	job.PID = proc.PID()
	cancelled := job.Status != types.JobStatusRunning
	s.procs[jobID] = entry
	s.mu.Unlock()

	if cancelled {
		// Cancelled in the window between dispatch and process start.
		_ = proc.Kill()
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("pid", proc.PID()).
		Str("path", spec.Path).
		Msg("job started")
	s.publish(events.EventJobStarted, jobID, "process started")
	s.persist(jobID)

	go s.supervise(jobID, entry)
	if spec.Timeout > 0 {
		go s.watchTimeout(jobID, entry, spec.Timeout)
	}
	return nil
}

// failLaunch records a spawn failure as the job's terminal state and frees
// the running slot it had reserved.
func (s *Scheduler) failLaunch(jobID string, launchErr error) {
	s.mu.Lock()
	job := s.jobs[jobID]
	job.Status = types.JobStatusFailed
	job.Error = launchErr.Error()
	job.FinishedAt = time.Now()
	s.running--
	s.updateGaugesLocked()
	s.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(types.JobStatusFailed)).Inc()
	s.logger.Warn().Err(launchErr).Str("job_id", jobID).Msg("job failed to start")
	s.publish(events.EventJobFailed, jobID, launchErr.Error())
	s.persist(jobID)
}

// supervise drains both output streams, awaits process exit, and performs
// the terminal bookkeeping. The two drainers are independent so a stalled
// reader on one stream can never block the other.
func (s *Scheduler) supervise(jobID string, entry *supervised) {
	var drainers sync.WaitGroup
	drainers.Add(2)
	go func() {
		defer drainers.Done()
		s.drain(jobID, entry.proc.Stdout(), false)
	}()
	go func() {
		defer drainers.Done()
		s.drain(jobID, entry.proc.Stderr(), true)
	}()
	drainers.Wait()

	code, waitErr := entry.proc.Wait()

	s.mu.Lock()
	job := s.jobs[jobID]
	job.ExitCode = &code
	job.FinishedAt = time.Now()

	transitioned := job.Status == types.JobStatusRunning
	if transitioned {
		switch {
		case entry.timedOut:
			job.Status = types.JobStatusFailed
			job.Error = fmt.Sprintf("%v after %s", types.ErrTimeout, job.Spec.Timeout)
		case waitErr != nil:
			job.Status = types.JobStatusFailed
			job.Error = waitErr.Error()
		case code == 0:
			job.Status = types.JobStatusCompleted
		default:
			job.Status = types.JobStatusFailed
		}
	}
	outcome := job.Status
	duration := job.FinishedAt.Sub(job.StartedAt)
	s.running--
	delete(s.procs, jobID)
	s.updateGaugesLocked()
	s.mu.Unlock()

	close(entry.done)

	metrics.JobDuration.Observe(duration.Seconds())
	if transitioned {
		metrics.JobsTotal.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case types.JobStatusCompleted:
			s.publish(events.EventJobCompleted, jobID, "process exited cleanly")
		default:
			s.publish(events.EventJobFailed, jobID, fmt.Sprintf("process exited with code %d", code))
		}
	}
	s.logger.Info().
		Str("job_id", jobID).
		Str("status", string(outcome)).
		Int("exit_code", code).
		Dur("duration", duration).
		Msg("job finished")
	s.persist(jobID)

	// The freed slot may admit queued work.
	_ = s.dispatch("")
}

// drain copies one output stream into the job's capped buffer. Read errors
// end the capture quietly; partial output is acceptable and never fails the
// job.
func (s *Scheduler) drain(jobID string, r io.Reader, stderr bool) {
	buf := make([]byte, drainChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.appendOutput(jobID, buf[:n], stderr)
		}
		if err != nil {
			return
		}
	}
}

func (s *Scheduler) appendOutput(jobID string, chunk []byte, stderr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return
	}

	dst, truncated := &job.Stdout, &job.StdoutTruncated
	stream := "stdout"
	if stderr {
		dst, truncated = &job.Stderr, &job.StderrTruncated
		stream = "stderr"
	}

	remaining := types.MaxOutputBytes - len(*dst)
	if remaining > len(chunk) {
		*dst = append(*dst, chunk...)
		return
	}
	if remaining > 0 {
		*dst = append(*dst, chunk[:remaining]...)
	}
	if !*truncated {
		*truncated = true
		s.logger.Warn().
			Str("job_id", jobID).
			Str("stream", stream).
			Int("cap_bytes", types.MaxOutputBytes).
			Msg("output capture truncated")
	}
}

// terminate delivers the graceful-then-forced termination sequence. On
// platforms without POSIX signal delivery the process is killed outright.
func (s *Scheduler) terminate(entry *supervised) error {
	if runtime.GOOS == "windows" {
		if err := entry.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}

	if err := entry.proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}

	select {
	case <-entry.done:
		return nil
	case <-time.After(cancelGracePeriod):
	}

	if err := entry.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// watchTimeout enforces a job's execution deadline.
func (s *Scheduler) watchTimeout(jobID string, entry *supervised, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	job := s.jobs[jobID]
	if job == nil || job.Status != types.JobStatusRunning {
		s.mu.Unlock()
		return
	}
	entry.timedOut = true
	s.mu.Unlock()

	s.logger.Warn().
		Str("job_id", jobID).
		Dur("timeout", timeout).
		Msg("job deadline exceeded, terminating")
	if err := s.terminate(entry); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to terminate overrunning job")
	}
}

func (s *Scheduler) updateGaugesLocked() {
	metrics.JobsRunning.Set(float64(s.running))
	metrics.JobsQueued.Set(float64(s.queue.Len()))
}

func (s *Scheduler) publish(t events.EventType, jobID, msg string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: t, JobID: jobID, Message: msg})
}

func (s *Scheduler) persist(jobID string) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	snapshot := cloneJob(job)
	s.mu.Unlock()

	if err := s.store.UpdateJob(snapshot); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to persist job state")
	}
}

// classifyLaunch maps a raw launch error into the scheduling taxonomy,
// passing through errors the launcher already classified.
func classifyLaunch(err error) error {
	switch {
	case errors.Is(err, types.ErrPermissionDenied),
		errors.Is(err, types.ErrProcessCommunicationFailed),
		errors.Is(err, types.ErrProcessStartFailed):
		return err
	default:
		return fmt.Errorf("%w: %v", types.ErrProcessStartFailed, err)
	}
}

// cloneJob returns a deep copy safe to hand outside the scheduler lock.
func cloneJob(job *types.Job) *types.Job {
	clone := *job
	if job.ExitCode != nil {
		code := *job.ExitCode
		clone.ExitCode = &code
	}
	if job.Stdout != nil {
		clone.Stdout = append([]byte(nil), job.Stdout...)
	}
	if job.Stderr != nil {
		clone.Stderr = append([]byte(nil), job.Stderr...)
	}
	if job.Spec.Args != nil {
		clone.Spec.Args = append([]string(nil), job.Spec.Args...)
	}
	if job.Spec.Env != nil {
		clone.Spec.Env = make(map[string]string, len(job.Spec.Env))
		for k, v := range job.Spec.Env {
			clone.Spec.Env[k] = v
		}
	}
	if job.Labels != nil {
		clone.Labels = make(map[string]string, len(job.Labels))
		for k, v := range job.Labels {
			clone.Labels[k] = v
		}
	}
	return &clone
}
