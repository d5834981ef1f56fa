package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/client"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/scheduler"
	"github.com/droverd/drover/pkg/types"
)

const (
	// DefaultHeartbeatInterval paces liveness reports to the manager.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultPollInterval paces assignment polls.
	DefaultPollInterval = 3 * time.Second
	// requestTimeout bounds one API call from a loop.
	requestTimeout = 5 * time.Second
	// jobWatchTick paces the wait on a supervised local process.
	jobWatchTick = 200 * time.Millisecond
)

// Config wires an Agent.
type Config struct {
	Client            *client.Client
	Token             string // cluster join token
	Name              string
	Address           string
	Capabilities      []types.Capability
	MaxTasks          int
	HeartbeatInterval time.Duration // 0 means DefaultHeartbeatInterval
	PollInterval      time.Duration // 0 means DefaultPollInterval
}

// Agent is the worker-side daemon: it enrolls the host as a node, heartbeats
// with sampled metrics, polls for assignments and runs each task's spec as a
// job on its own local scheduler, reporting outcomes back over the API.
type Agent struct {
	client    *client.Client
	token     string
	name      string
	address   string
	caps      []types.Capability
	maxTasks  int
	hbEvery   time.Duration
	pollEvery time.Duration

	scheduler *scheduler.Scheduler
	sampler   *systemSampler

	mu     sync.Mutex
	nodeID string
	active map[string]string // task id -> local job id

	// regMu serializes re-registration so concurrent verdicts from the
	// heartbeat and poll loops enroll the host once, not twice.
	regMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New builds an agent. The client is required; everything else has a
// default.
func New(cfg Config) (*Agent, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("agent: client is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = []types.Capability{types.CapabilityCompute}
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = types.DefaultMaxConcurrentTasks
	}

	return &Agent{
		client:    cfg.Client,
		token:     cfg.Token,
		name:      cfg.Name,
		address:   cfg.Address,
		caps:      cfg.Capabilities,
		maxTasks:  cfg.MaxTasks,
		hbEvery:   cfg.HeartbeatInterval,
		pollEvery: cfg.PollInterval,
		scheduler: scheduler.New(scheduler.Config{MaxConcurrentJobs: cfg.MaxTasks}),
		sampler:   newSystemSampler(),
		active:    make(map[string]string),
		stopCh:    make(chan struct{}),
		logger:    log.WithComponent("agent"),
	}, nil
}

// Start registers with the manager and launches the heartbeat and poll
// loops. A failed initial registration is fatal; losses after that trigger
// re-registration from the loops.
func (a *Agent) Start() error {
	if err := a.register(); err != nil {
		return fmt.Errorf("initial registration: %w", err)
	}

	a.wg.Add(2)
	go a.heartbeatLoop()
	go a.pollLoop()

	a.logger.Info().
		Str("node_id", a.NodeID()).
		Int("max_tasks", a.maxTasks).
		Dur("heartbeat_interval", a.hbEvery).
		Dur("poll_interval", a.pollEvery).
		Msg("agent started")
	return nil
}

// Stop halts the loops and cancels any local processes still running. The
// manager's failure detection reclaims the affected tasks.
func (a *Agent) Stop() {
	close(a.stopCh)
	a.wg.Wait()

	a.mu.Lock()
	orphans := make([]string, 0, len(a.active))
	for _, jobID := range a.active {
		orphans = append(orphans, jobID)
	}
	a.active = make(map[string]string)
	a.mu.Unlock()

	for _, jobID := range orphans {
		if err := a.scheduler.Cancel(jobID); err != nil {
			a.logger.Warn().Err(err).Str("job_id", jobID).Msg("cancel on shutdown failed")
		}
	}
	a.logger.Info().Msg("agent stopped")
}

// NodeID returns the node identity from the latest registration.
func (a *Agent) NodeID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeID
}

// ActiveTasks returns how many tasks the agent is currently executing.
func (a *Agent) ActiveTasks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// register enrolls the host and swaps in the assigned node id. Local jobs
// belonging to a previous identity are cancelled; the manager re-dispatches
// their tasks once the old node times out.
func (a *Agent) register() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*requestTimeout)
	defer cancel()

	caps := make([]string, len(a.caps))
	for i, c := range a.caps {
		caps[i] = string(c)
	}

	node, err := a.client.RegisterNode(ctx, api.RegisterNodeRequest{
		Token:        a.token,
		Name:         a.name,
		Address:      a.address,
		Capabilities: caps,
		MaxTasks:     a.maxTasks,
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	previous := a.nodeID
	a.nodeID = node.ID
	stale := a.active
	a.active = make(map[string]string)
	a.mu.Unlock()

	for _, jobID := range stale {
		_ = a.scheduler.Cancel(jobID)
	}

	if previous != "" && previous != node.ID {
		a.logger.Warn().
			Str("old_node_id", previous).
			Str("node_id", node.ID).
			Msg("re-registered under a new identity")
	} else {
		a.logger.Info().Str("node_id", node.ID).Msg("registered with manager")
	}
	return nil
}

// reRegister enrolls again after the manager lost us. staleID is the
// identity the caller observed the problem under; when another loop already
// fixed it, this is a no-op.
func (a *Agent) reRegister(staleID string) {
	a.regMu.Lock()
	defer a.regMu.Unlock()

	if a.NodeID() != staleID {
		return
	}
	if err := a.register(); err != nil {
		a.logger.Error().Err(err).Msg("re-registration failed")
	}
}

// heartbeatLoop reports liveness with sampled system metrics and the local
// load. A known=false verdict means the manager lost us: re-enroll.
func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.hbEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sendHeartbeat()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) sendHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	nodeID := a.NodeID()
	metrics := a.sampler.Sample()
	known, err := a.client.Heartbeat(ctx, nodeID, api.HeartbeatRequest{
		Load:    a.ActiveTasks(),
		Metrics: &metrics,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	if !known {
		a.logger.Warn().Msg("manager does not know this node, re-registering")
		a.reRegister(nodeID)
	}
}

// pollLoop fetches the node's assignments and reconciles them against the
// local picture: new assignments start, vanished ones are cancelled, and
// tasks the manager believes are running but we have no process for are
// reported failed so failover can requeue them.
func (a *Agent) pollLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.syncAssignments()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) syncAssignments() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	nodeID := a.NodeID()
	assigned, err := a.client.NodeTasks(ctx, nodeID)
	if err != nil {
		if client.IsNotFound(err) {
			a.logger.Warn().Msg("node unknown on poll, re-registering")
			a.reRegister(nodeID)
			return
		}
		a.logger.Warn().Err(err).Msg("assignment poll failed")
		return
	}

	seen := make(map[string]bool, len(assigned))
	for i := range assigned {
		task := assigned[i]
		seen[task.ID] = true

		a.mu.Lock()
		_, mine := a.active[task.ID]
		a.mu.Unlock()
		if mine {
			continue
		}

		switch task.Status {
		case types.TaskStatusAssigned:
			go a.runTask(task)
		case types.TaskStatusRunning:
			// The manager believes this runs here, but we hold no process
			// for it. The process died with a previous agent incarnation.
			a.reportStatus(task.ID, api.ReportTaskStatusRequest{
				Status:   string(types.TaskStatusFailed),
				ExitCode: -1,
				Error:    "agent restarted, process lost",
			})
		}
	}

	// Tasks we run that the manager no longer lists were cancelled or
	// reassigned remotely; stop their processes.
	a.mu.Lock()
	var lost []string
	for taskID, jobID := range a.active {
		if !seen[taskID] {
			lost = append(lost, jobID)
			delete(a.active, taskID)
		}
	}
	a.mu.Unlock()
	for _, jobID := range lost {
		if err := a.scheduler.Cancel(jobID); err != nil {
			a.logger.Warn().Err(err).Str("job_id", jobID).Msg("cancel of revoked task failed")
		}
	}
}

// runTask executes one assignment: schedule the spec locally, flip the task
// to running, wait for the process, and report the outcome.
func (a *Agent) runTask(task types.Task) {
	job := &types.Job{
		Name:     "task/" + task.ID,
		Spec:     task.Spec,
		Priority: task.Priority.Rank() * 10,
	}

	if err := a.scheduler.Schedule(job); err != nil {
		a.logger.Error().Err(err).Str("task_id", task.ID).Msg("local schedule failed")
		a.reportStatus(task.ID, api.ReportTaskStatusRequest{
			Status:   string(types.TaskStatusFailed),
			ExitCode: -1,
			Error:    err.Error(),
		})
		return
	}

	a.mu.Lock()
	a.active[task.ID] = job.ID
	a.mu.Unlock()

	a.logger.Info().
		Str("task_id", task.ID).
		Str("job_id", job.ID).
		Str("path", task.Spec.Path).
		Msg("task started")
	a.reportStatus(task.ID, api.ReportTaskStatusRequest{
		Status: string(types.TaskStatusRunning),
	})

	a.waitAndReport(task.ID, job.ID)
}

// waitAndReport polls the local job until it settles, then sends the
// terminal report. Skips reporting when the task was revoked meanwhile.
func (a *Agent) waitAndReport(taskID, jobID string) {
	ticker := time.NewTicker(jobWatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			job, err := a.scheduler.Job(jobID)
			if err != nil || !job.Status.IsTerminal() {
				continue
			}

			a.mu.Lock()
			_, stillMine := a.active[taskID]
			delete(a.active, taskID)
			a.mu.Unlock()
			if !stillMine {
				return
			}

			a.reportStatus(taskID, terminalReport(job))
			return
		case <-a.stopCh:
			return
		}
	}
}

// terminalReport translates a finished local job into the agent's report.
func terminalReport(job *types.Job) api.ReportTaskStatusRequest {
	exitCode := -1
	if job.ExitCode != nil {
		exitCode = *job.ExitCode
	}

	switch job.Status {
	case types.JobStatusCompleted:
		return api.ReportTaskStatusRequest{
			Status:   string(types.TaskStatusCompleted),
			ExitCode: exitCode,
		}
	case types.JobStatusCancelled:
		return api.ReportTaskStatusRequest{
			Status:   string(types.TaskStatusCanceled),
			ExitCode: exitCode,
			Error:    job.Error,
		}
	default:
		reason := job.Error
		if reason == "" {
			reason = fmt.Sprintf("exit code %d", exitCode)
		}
		return api.ReportTaskStatusRequest{
			Status:   string(types.TaskStatusFailed),
			ExitCode: exitCode,
			Error:    reason,
		}
	}
}

func (a *Agent) reportStatus(taskID string, report api.ReportTaskStatusRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := a.client.ReportTaskStatus(ctx, taskID, report); err != nil {
		a.logger.Warn().
			Err(err).
			Str("task_id", taskID).
			Str("status", report.Status).
			Msg("status report failed")
	}
}
