package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeProcess is a controllable Process: tests decide when and how it exits.
type fakeProcess struct {
	pid    int
	stdout io.Reader
	stderr io.Reader

	mu           sync.Mutex
	signals      []os.Signal
	sigErr       error
	exitOnSignal bool
	killed       bool
	exited       bool
	exitCh       chan int
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{
		pid:    pid,
		stdout: strings.NewReader(""),
		stderr: strings.NewReader(""),
		exitCh: make(chan int, 1),
	}
}

func (p *fakeProcess) PID() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.stdout }
func (p *fakeProcess) Stderr() io.Reader { return p.stderr }

func (p *fakeProcess) Wait() (int, error) {
	return <-p.exitCh, nil
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sigErr != nil {
		return p.sigErr
	}
	p.signals = append(p.signals, sig)
	if p.exitOnSignal {
		p.exitLocked(-1)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.exitLocked(-1)
	return nil
}

// exit simulates the process finishing with the given code.
func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked(code)
}

func (p *fakeProcess) exitLocked(code int) {
	if p.exited {
		return
	}
	p.exited = true
	p.exitCh <- code
}

func (p *fakeProcess) sawSignal(want os.Signal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sig := range p.signals {
		if sig == want {
			return true
		}
	}
	return false
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// stubLauncher hands out fake processes keyed by spec path and records the
// launch order.
type stubLauncher struct {
	mu        sync.Mutex
	order     []string
	byPath    map[string]*fakeProcess
	nextPID   int
	failPaths map[string]error
	configure func(p *fakeProcess)
}

func newStubLauncher() *stubLauncher {
	return &stubLauncher{
		byPath:    make(map[string]*fakeProcess),
		failPaths: make(map[string]error),
		nextPID:   1000,
	}
}

func (l *stubLauncher) Launch(spec types.JobSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.failPaths[spec.Path]; ok {
		return nil, err
	}

	l.nextPID++
	p := newFakeProcess(l.nextPID)
	if l.configure != nil {
		l.configure(p)
	}
	l.order = append(l.order, spec.Path)
	l.byPath[spec.Path] = p
	return p, nil
}

func (l *stubLauncher) proc(path string) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byPath[path]
}

func (l *stubLauncher) launchOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func waitForProc(t *testing.T, l *stubLauncher, path string) *fakeProcess {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.proc(path) != nil
	}, waitFor, tick, "process for %s never launched", path)
	return l.proc(path)
}

func waitForStatus(t *testing.T, s *Scheduler, jobID string, want types.JobStatus) *types.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := s.Job(jobID)
		return err == nil && job.Status == want
	}, waitFor, tick, "job %s never reached %s", jobID, want)
	job, err := s.Job(jobID)
	require.NoError(t, err)
	return job
}

func testJob(id, path string, priority int) *types.Job {
	return &types.Job{
		ID:       id,
		Priority: priority,
		Spec:     types.JobSpec{Path: path},
	}
}

// TestScheduleRunsToCompletion tests the happy path from submission to a
// completed terminal state
func TestScheduleRunsToCompletion(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 2, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("job-1", "/bin/quick", 0)))

	proc := waitForProc(t, launcher, "/bin/quick")
	proc.exit(0)

	job := waitForStatus(t, s, "job-1", types.JobStatusCompleted)
	require.NotNil(t, job.ExitCode)
	assert.Equal(t, 0, *job.ExitCode)
	assert.Equal(t, proc.pid, job.PID)
	assert.False(t, job.StartedAt.IsZero())
	assert.False(t, job.FinishedAt.IsZero())
	assert.Equal(t, 1, job.ExecutionCount)
	assert.Zero(t, s.RunningJobs())
}

// TestScheduleValidation tests rejection of jobs without an executable path
func TestScheduleValidation(t *testing.T) {
	s := New(Config{MaxConcurrentJobs: 1, Launcher: newStubLauncher()})

	err := s.Schedule(&types.Job{ID: "no-path"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSchedulingFailed)

	err = s.Schedule(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSchedulingFailed)
}

// TestScheduleAssignsID tests that submissions without an id get one
func TestScheduleAssignsID(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	job := testJob("", "/bin/anon", 0)
	require.NoError(t, s.Schedule(job))
	assert.NotEmpty(t, job.ID)

	waitForProc(t, launcher, "/bin/anon").exit(0)
	waitForStatus(t, s, job.ID, types.JobStatusCompleted)
}

// TestDuplicateSubmissionRejected tests that a known id cannot be submitted
// again, including after it reached a terminal state
func TestDuplicateSubmissionRejected(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("dup", "/bin/first", 0)))

	err := s.Schedule(testJob("dup", "/bin/second", 0))
	assert.ErrorIs(t, err, types.ErrSchedulingFailed)

	waitForProc(t, launcher, "/bin/first").exit(0)
	waitForStatus(t, s, "dup", types.JobStatusCompleted)

	err = s.Schedule(testJob("dup", "/bin/third", 0))
	assert.ErrorIs(t, err, types.ErrSchedulingFailed, "terminal jobs must not be resubmitted")
}

// TestConcurrencyCapHeld tests that running jobs never exceed the cap and
// the remainder queues
func TestConcurrencyCapHeld(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 2, Launcher: launcher})

	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/bin/job-%d", i)
		require.NoError(t, s.Schedule(testJob(fmt.Sprintf("job-%d", i), path, 0)))
	}

	assert.Equal(t, 2, s.RunningJobs())
	assert.Equal(t, 3, s.QueuedJobs())

	// Finish everything; each exit admits the next queued job.
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/bin/job-%d", i)
		waitForProc(t, launcher, path).exit(0)
	}

	require.Eventually(t, func() bool {
		return s.RunningJobs() == 0 && s.QueuedJobs() == 0
	}, waitFor, tick)

	for i := 0; i < 5; i++ {
		job, err := s.Job(fmt.Sprintf("job-%d", i))
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusCompleted, job.Status)
	}
}

// TestDispatchOrderPriorityThenSubmission tests that queued jobs dispatch by
// priority with submission order breaking ties
func TestDispatchOrderPriorityThenSubmission(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 2, Launcher: launcher})

	// Occupy both running slots.
	require.NoError(t, s.Schedule(testJob("block-1", "/bin/block-1", 0)))
	require.NoError(t, s.Schedule(testJob("block-2", "/bin/block-2", 0)))

	// A, B, C queue behind them.
	require.NoError(t, s.Schedule(testJob("A", "/bin/jobA", 5)))
	require.NoError(t, s.Schedule(testJob("B", "/bin/jobB", 5)))
	require.NoError(t, s.Schedule(testJob("C", "/bin/jobC", 10)))
	require.Equal(t, 3, s.QueuedJobs())

	// First freed slot goes to C (highest priority).
	waitForProc(t, launcher, "/bin/block-1").exit(0)
	waitForProc(t, launcher, "/bin/jobC")
	assert.Equal(t, 2, s.QueuedJobs())

	jobB, err := s.Job("B")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, jobB.Status, "B stays queued until a slot frees")

	// Next slot goes to A: same priority as B but submitted first.
	waitForProc(t, launcher, "/bin/block-2").exit(0)
	waitForProc(t, launcher, "/bin/jobA")

	waitForProc(t, launcher, "/bin/jobC").exit(0)
	waitForProc(t, launcher, "/bin/jobB")

	assert.Equal(t, []string{"/bin/block-1", "/bin/block-2", "/bin/jobC", "/bin/jobA", "/bin/jobB"},
		launcher.launchOrder())

	waitForProc(t, launcher, "/bin/jobA").exit(0)
	waitForProc(t, launcher, "/bin/jobB").exit(0)
	require.Eventually(t, func() bool { return s.RunningJobs() == 0 }, waitFor, tick)
}

// TestQueueBoundRejects tests the queue depth limit
func TestQueueBoundRejects(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, MaxQueuedJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("runner", "/bin/runner", 0)))
	require.NoError(t, s.Schedule(testJob("queued", "/bin/queued", 0)))

	err := s.Schedule(testJob("rejected", "/bin/rejected", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTooManyRunningJobs)

	_, getErr := s.Job("rejected")
	assert.ErrorIs(t, getErr, types.ErrJobNotFound, "rejected job must not be tracked")

	waitForProc(t, launcher, "/bin/runner").exit(0)
	waitForProc(t, launcher, "/bin/queued").exit(0)
}

// TestSpawnFailureInlineError tests that a launch failure for the submitted
// job is returned from Schedule and recorded on the job
func TestSpawnFailureInlineError(t *testing.T) {
	launcher := newStubLauncher()
	launcher.failPaths["/bin/broken"] = errors.New("exec format error")
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	err := s.Schedule(testJob("broken", "/bin/broken", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProcessStartFailed)

	job, getErr := s.Job("broken")
	require.NoError(t, getErr)
	assert.Equal(t, types.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "exec format error")
	assert.Zero(t, s.RunningJobs(), "failed launch must release its slot")
}

// TestSpawnFailureDeferredRecordsError tests that a queued job whose later
// launch fails surfaces the error on its record, not to any caller
func TestSpawnFailureDeferredRecordsError(t *testing.T) {
	launcher := newStubLauncher()
	launcher.failPaths["/bin/bad"] = errors.New("no such file")
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("blocker", "/bin/blocker", 0)))
	require.NoError(t, s.Schedule(testJob("bad", "/bin/bad", 0)),
		"queued submission succeeds even though its launch will fail")

	waitForProc(t, launcher, "/bin/blocker").exit(0)

	job := waitForStatus(t, s, "bad", types.JobStatusFailed)
	assert.Contains(t, job.Error, "no such file")
}

// TestCancelQueuedJob tests cancelling a job before it runs
func TestCancelQueuedJob(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("blocker", "/bin/blocker", 0)))
	require.NoError(t, s.Schedule(testJob("victim", "/bin/victim", 0)))
	require.Equal(t, 1, s.QueuedJobs())

	require.NoError(t, s.Cancel("victim"))
	assert.Zero(t, s.QueuedJobs())

	job, err := s.Job("victim")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, job.Status)
	assert.False(t, job.FinishedAt.IsZero())

	// The cancelled job must never launch when the slot frees.
	waitForProc(t, launcher, "/bin/blocker").exit(0)
	require.Eventually(t, func() bool { return s.RunningJobs() == 0 }, waitFor, tick)
	assert.Nil(t, launcher.proc("/bin/victim"))
}

// TestCancelRunningGraceful tests that a cooperative process exits on the
// terminate signal without being killed
func TestCancelRunningGraceful(t *testing.T) {
	launcher := newStubLauncher()
	launcher.configure = func(p *fakeProcess) { p.exitOnSignal = true }
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("soft", "/bin/soft", 0)))
	proc := waitForProc(t, launcher, "/bin/soft")

	require.NoError(t, s.Cancel("soft"))

	job := waitForStatus(t, s, "soft", types.JobStatusCancelled)
	assert.True(t, proc.sawSignal(syscall.SIGTERM))
	assert.False(t, proc.wasKilled(), "cooperative exit should not be force-killed")
	require.NotNil(t, job.ExitCode)
}

// TestCancelRunningForcedKill tests the forced kill after the grace period
func TestCancelRunningForcedKill(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("stubborn", "/bin/stubborn", 0)))
	proc := waitForProc(t, launcher, "/bin/stubborn")

	require.NoError(t, s.Cancel("stubborn"))

	waitForStatus(t, s, "stubborn", types.JobStatusCancelled)
	assert.True(t, proc.sawSignal(syscall.SIGTERM))
	assert.True(t, proc.wasKilled(), "process ignoring the signal must be killed")
}

// TestCancelUnknownJob tests cancelling an id the scheduler has never seen
func TestCancelUnknownJob(t *testing.T) {
	s := New(Config{MaxConcurrentJobs: 1, Launcher: newStubLauncher()})
	assert.ErrorIs(t, s.Cancel("ghost"), types.ErrJobNotFound)
}

// TestCancelTerminalNoop tests that cancelling a finished job is a no-op
func TestCancelTerminalNoop(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("done", "/bin/done", 0)))
	waitForProc(t, launcher, "/bin/done").exit(0)
	waitForStatus(t, s, "done", types.JobStatusCompleted)

	require.NoError(t, s.Cancel("done"))

	job, err := s.Job("done")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, job.Status, "terminal status must not change")
}

// TestCancelSignalFailureStillCancels tests that the status converges to
// cancelled even when signal delivery fails
func TestCancelSignalFailureStillCancels(t *testing.T) {
	launcher := newStubLauncher()
	launcher.configure = func(p *fakeProcess) { p.sigErr = errors.New("operation not permitted") }
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("protected", "/bin/protected", 0)))
	proc := waitForProc(t, launcher, "/bin/protected")

	err := s.Cancel("protected")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCancellationFailed)

	job, getErr := s.Job("protected")
	require.NoError(t, getErr)
	assert.Equal(t, types.JobStatusCancelled, job.Status)

	proc.exit(-1)
	require.Eventually(t, func() bool { return s.RunningJobs() == 0 }, waitFor, tick)
}

// TestTimeoutTerminatesJob tests the execution deadline
func TestTimeoutTerminatesJob(t *testing.T) {
	launcher := newStubLauncher()
	launcher.configure = func(p *fakeProcess) { p.exitOnSignal = true }
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	job := testJob("slow", "/bin/slow", 0)
	job.Spec.Timeout = 30 * time.Millisecond
	require.NoError(t, s.Schedule(job))

	got := waitForStatus(t, s, "slow", types.JobStatusFailed)
	assert.Contains(t, got.Error, types.ErrTimeout.Error())
}

// TestOutputCapture tests that both streams land on the job record
func TestOutputCapture(t *testing.T) {
	launcher := newStubLauncher()
	launcher.configure = func(p *fakeProcess) {
		p.stdout = strings.NewReader("result: 42\n")
		p.stderr = strings.NewReader("warn: deprecated flag\n")
	}
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("out", "/bin/out", 0)))
	waitForProc(t, launcher, "/bin/out").exit(0)

	job := waitForStatus(t, s, "out", types.JobStatusCompleted)
	assert.Equal(t, "result: 42\n", string(job.Stdout))
	assert.Equal(t, "warn: deprecated flag\n", string(job.Stderr))
	assert.False(t, job.StdoutTruncated)
	assert.False(t, job.StderrTruncated)
}

// TestOutputTruncation tests the per-stream capture cap
func TestOutputTruncation(t *testing.T) {
	launcher := newStubLauncher()
	launcher.configure = func(p *fakeProcess) {
		p.stdout = bytes.NewReader(bytes.Repeat([]byte("x"), types.MaxOutputBytes+4096))
	}
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("chatty", "/bin/chatty", 0)))
	waitForProc(t, launcher, "/bin/chatty").exit(0)

	job := waitForStatus(t, s, "chatty", types.JobStatusCompleted)
	assert.Len(t, job.Stdout, types.MaxOutputBytes)
	assert.True(t, job.StdoutTruncated)
	assert.False(t, job.StderrTruncated)
}

// TestSetMaxConcurrentJobs tests that raising the cap dispatches queued work
func TestSetMaxConcurrentJobs(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("first", "/bin/first", 0)))
	require.NoError(t, s.Schedule(testJob("second", "/bin/second", 0)))
	require.Equal(t, 1, s.QueuedJobs())

	s.SetMaxConcurrentJobs(2)
	waitForProc(t, launcher, "/bin/second")
	assert.Equal(t, 2, s.RunningJobs())
	assert.Zero(t, s.QueuedJobs())

	waitForProc(t, launcher, "/bin/first").exit(0)
	waitForProc(t, launcher, "/bin/second").exit(0)
	require.Eventually(t, func() bool { return s.RunningJobs() == 0 }, waitFor, tick)
}

// TestForget tests dropping terminal jobs from tracking
func TestForget(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	require.NoError(t, s.Schedule(testJob("keeper", "/bin/keeper", 0)))

	err := s.Forget("keeper")
	require.Error(t, err, "running jobs cannot be forgotten")

	waitForProc(t, launcher, "/bin/keeper").exit(0)
	waitForStatus(t, s, "keeper", types.JobStatusCompleted)

	require.NoError(t, s.Forget("keeper"))
	_, err = s.Job("keeper")
	assert.ErrorIs(t, err, types.ErrJobNotFound)

	assert.ErrorIs(t, s.Forget("keeper"), types.ErrJobNotFound)
}

// TestRestore tests reloading persisted jobs after a restart
func TestRestore(t *testing.T) {
	s := New(Config{MaxConcurrentJobs: 1, Launcher: newStubLauncher()})

	finished := time.Now().Add(-time.Hour)
	done := testJob("done", "/bin/done", 0)
	done.Status = types.JobStatusCompleted
	done.FinishedAt = finished
	s.Restore(done)

	orphan := testJob("orphan", "/bin/orphan", 0)
	orphan.Status = types.JobStatusRunning
	s.Restore(orphan)

	got, err := s.Job("done")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, finished.Unix(), got.FinishedAt.Unix())

	got, err = s.Job("orphan")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status, "restored in-flight job has no process")
	assert.Contains(t, got.Error, "interrupted")
	assert.False(t, got.FinishedAt.IsZero())

	// Restored jobs count as history, not work: nothing runs or queues.
	assert.Equal(t, 0, s.RunningJobs())
	assert.Equal(t, 0, s.QueuedJobs())
}

// TestJobsSnapshot tests listing and that returned snapshots are copies
func TestJobsSnapshot(t *testing.T) {
	launcher := newStubLauncher()
	s := New(Config{MaxConcurrentJobs: 1, Launcher: launcher})

	first := testJob("list-1", "/bin/list-1", 0)
	first.CreatedAt = time.Now().Add(-time.Minute)
	second := testJob("list-2", "/bin/list-2", 0)

	require.NoError(t, s.Schedule(first))
	require.NoError(t, s.Schedule(second))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "list-1", jobs[0].ID, "oldest first")

	// Mutating the snapshot must not leak into scheduler state.
	jobs[0].Status = types.JobStatusFailed
	got, err := s.Job("list-1")
	require.NoError(t, err)
	assert.NotEqual(t, types.JobStatusFailed, got.Status)

	waitForProc(t, launcher, "/bin/list-1").exit(0)
	waitForProc(t, launcher, "/bin/list-2").exit(0)
	require.Eventually(t, func() bool { return s.RunningJobs() == 0 }, waitFor, tick)
}
