package manager

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/config"
	"github.com/droverd/drover/pkg/dispatch"
	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/failover"
	"github.com/droverd/drover/pkg/group"
	"github.com/droverd/drover/pkg/heartbeat"
	"github.com/droverd/drover/pkg/janitor"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/scheduler"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/tasks"
	"github.com/droverd/drover/pkg/types"
)

// Manager is the composition root of a drover control plane: it owns the
// store, the event broker, and every coordinating component, restores their
// persisted state at startup, and exposes the operations the API serves.
type Manager struct {
	mu  sync.RWMutex
	cfg *config.Config

	store      storage.Store
	broker     *events.Broker
	registry   *registry.Registry
	scheduler  *scheduler.Scheduler
	tracker    *tasks.Tracker
	groups     *group.Manager
	failover   *failover.Manager
	monitor    *heartbeat.Monitor
	dispatcher *dispatch.Dispatcher
	janitor    *janitor.Janitor
	collector  *metrics.Collector

	joinToken string

	// nodes restored as offline; escalated to the failover path if they
	// hold tasks and never heartbeat after restart
	restoredNodes []string

	logSink events.Subscriber
	logDone chan struct{}
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// New builds a manager from the daemon configuration: it opens the store,
// wires every component, loads or generates the cluster join token, and
// restores persisted state. Nothing runs until Start.
func New(cfg *config.Config) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	strategy, err := failover.ParseStrategy(cfg.Failover.Strategy)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		broker: events.NewBroker(),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("manager"),
	}

	m.registry = registry.New(registry.Config{
		Store:  store,
		Broker: m.broker,
	})
	m.scheduler = scheduler.New(scheduler.Config{
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		MaxQueuedJobs:     cfg.Scheduler.MaxQueuedJobs,
		Store:             store,
		Broker:            m.broker,
	})
	m.tracker = tasks.New(tasks.Config{
		Registry: m.registry,
		Store:    store,
		Broker:   m.broker,
		// m.failover is assigned below; no task can complete before then
		OnSuccess: func(taskID string) { m.failover.ClearRetryHistory(taskID) },
	})
	m.failover = failover.New(failover.Config{
		Registry:       m.registry,
		Tracker:        m.tracker,
		Store:          store,
		Broker:         m.broker,
		Strategy:       strategy,
		MaxRetries:     cfg.Failover.MaxRetries,
		RetryBaseDelay: cfg.Failover.RetryBaseDelay.Std(),
	})
	m.monitor = heartbeat.New(heartbeat.Config{
		Registry:     m.registry,
		Timeout:      cfg.Heartbeat.Timeout.Std(),
		ScanInterval: cfg.Heartbeat.ScanInterval.Std(),
		OnFailure:    m.onNodeFailures,
	})
	m.dispatcher = dispatch.New(dispatch.Config{
		Registry:   m.registry,
		Tracker:    m.tracker,
		Broker:     m.broker,
		Interval:   cfg.Dispatch.Interval.Std(),
		StaleAfter: cfg.Dispatch.TaskStaleAfter.Std(),
	})
	m.groups = group.New(group.Config{Store: store})
	m.janitor = janitor.New(janitor.Config{
		Store:           store,
		Scheduler:       m.scheduler,
		Groups:          m.groups,
		Tracker:         m.tracker,
		Failover:        m.failover,
		Schedule:        cfg.Janitor.Schedule,
		JobRetention:    cfg.Janitor.JobRetention.Std(),
		ResultRetention: cfg.Janitor.ResultRetention.Std(),
	})
	m.collector = metrics.NewCollector(m)

	if err := m.loadJoinToken(cfg.JoinToken); err != nil {
		store.Close()
		return nil, err
	}
	if err := m.restore(); err != nil {
		store.Close()
		return nil, err
	}

	metrics.RegisterComponent("store", true, "")
	return m, nil
}

// Start runs the background loops: event distribution, heartbeat scanning,
// task dispatch, metrics collection and retention sweeps.
func (m *Manager) Start() error {
	m.broker.Start()
	m.startLogSink()
	m.monitor.Start()
	m.dispatcher.Start()
	m.collector.Start()
	if err := m.janitor.Start(); err != nil {
		return err
	}
	go m.watchRestoredNodes()

	m.logger.Info().
		Str("strategy", string(m.failover.Strategy())).
		Int("max_concurrent_jobs", m.scheduler.MaxConcurrentJobs()).
		Msg("manager started")
	return nil
}

// Stop halts every loop and closes the store. Safe to call once.
func (m *Manager) Stop() error {
	close(m.stopCh)
	m.janitor.Stop()
	m.dispatcher.Stop()
	m.monitor.Stop()
	m.failover.Stop()
	m.collector.Stop()
	m.stopLogSink()
	m.broker.Stop()

	if err := m.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	m.logger.Info().Msg("manager stopped")
	return nil
}

// restore reloads persisted state. Nodes come back offline until they
// heartbeat; pending tasks rejoin the queue; in-flight jobs of the previous
// process are marked failed (their processes died with it); groups and the
// retry ledger load as-is.
func (m *Manager) restore() error {
	nodes, err := m.store.ListNodes()
	if err != nil {
		return fmt.Errorf("restore nodes: %w", err)
	}
	for _, node := range nodes {
		m.registry.Restore(node)
		m.restoredNodes = append(m.restoredNodes, node.ID)
	}

	jobs, err := m.store.ListJobs()
	if err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	for _, job := range jobs {
		m.scheduler.Restore(job)
	}

	taskList, err := m.store.ListTasks()
	if err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}
	for _, task := range taskList {
		m.tracker.Restore(task)
	}

	groups, err := m.store.ListJobGroups()
	if err != nil {
		return fmt.Errorf("restore groups: %w", err)
	}
	for _, g := range groups {
		m.groups.Restore(g)
	}

	if len(nodes)+len(jobs)+len(taskList)+len(groups) > 0 {
		m.logger.Info().
			Int("nodes", len(nodes)).
			Int("jobs", len(jobs)).
			Int("tasks", len(taskList)).
			Int("groups", len(groups)).
			Msg("persisted state restored")
	}
	return nil
}

// watchRestoredNodes gives nodes restored as offline one heartbeat timeout
// to come back. Any that still hold tasks and never re-registered a
// heartbeat go through the normal failover path.
func (m *Manager) watchRestoredNodes() {
	if len(m.restoredNodes) == 0 {
		return
	}
	select {
	case <-time.After(m.monitor.Timeout()):
	case <-m.stopCh:
		return
	}

	for _, nodeID := range m.restoredNodes {
		node, err := m.registry.Get(nodeID)
		if err != nil || node.Status != types.NodeStatusOffline {
			continue
		}
		if len(m.tracker.TasksOnNode(nodeID)) == 0 {
			continue
		}
		m.logger.Warn().
			Str("node_id", nodeID).
			Msg("node never returned after restart, reclaiming its tasks")
		m.failover.HandleNodeFailure(nodeID)
	}
	m.dispatcher.Dispatch()
}

// onNodeFailures is the heartbeat monitor's callback: every expired node
// goes through failover, then a dispatch cycle places whatever was pushed
// back to pending.
func (m *Manager) onNodeFailures(nodeIDs []string) {
	for _, nodeID := range nodeIDs {
		rescheduled := m.failover.HandleNodeFailure(nodeID)
		m.logger.Info().
			Str("node_id", nodeID).
			Int("rescheduled", rescheduled).
			Msg("node failure handled")
	}
	m.dispatcher.Dispatch()
}

// ApplyConfig applies a reloaded configuration. Log level and the job
// concurrency cap take effect immediately; interval and strategy changes
// need a restart.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	} else {
		m.logger.Warn().Err(err).Msg("reload kept the previous log level")
	}

	if n := cfg.MaxConcurrentJobs(); n != m.scheduler.MaxConcurrentJobs() {
		m.scheduler.SetMaxConcurrentJobs(n)
		m.logger.Info().Int("max_concurrent_jobs", n).Msg("job concurrency cap updated")
	}

	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	m.mu.Unlock()

	if prev.Heartbeat != cfg.Heartbeat || prev.Failover != cfg.Failover ||
		prev.Dispatch != cfg.Dispatch || prev.Janitor != cfg.Janitor {
		m.logger.Warn().Msg("heartbeat/failover/dispatch/janitor changes take effect on restart")
	}
	m.logger.Info().Msg("configuration reloaded")
}

// Broker exposes the event broker for API event streaming.
func (m *Manager) Broker() *events.Broker {
	return m.broker
}

// ---- jobs (local scheduler) ----

// SubmitJob admits a job into the local scheduler.
func (m *Manager) SubmitJob(job *types.Job) error {
	return m.scheduler.Schedule(job)
}

// CancelJob cancels a queued or running job.
func (m *Manager) CancelJob(jobID string) error {
	return m.scheduler.Cancel(jobID)
}

// GetJob returns a snapshot of a job.
func (m *Manager) GetJob(jobID string) (*types.Job, error) {
	return m.scheduler.Job(jobID)
}

// ListJobs returns snapshots of all jobs, oldest first.
func (m *Manager) ListJobs() []*types.Job {
	return m.scheduler.Jobs()
}

// RunningJobs returns the number of currently executing jobs.
func (m *Manager) RunningJobs() int {
	return m.scheduler.RunningJobs()
}

// QueuedJobs returns the number of queued jobs.
func (m *Manager) QueuedJobs() int {
	return m.scheduler.QueuedJobs()
}

// ---- job groups ----

// CreateGroup registers a job group.
func (m *Manager) CreateGroup(g *types.JobGroup) error {
	return m.groups.Create(g)
}

// GetGroup returns a group by id.
func (m *Manager) GetGroup(id string) (*types.JobGroup, error) {
	return m.groups.Get(id)
}

// GetGroupByName returns a group by its unique name.
func (m *Manager) GetGroupByName(name string) (*types.JobGroup, error) {
	return m.groups.GetByName(name)
}

// ListGroups returns all groups sorted by name.
func (m *Manager) ListGroups() []*types.JobGroup {
	return m.groups.List()
}

// DeleteGroup removes a group, leaving its member jobs alone.
func (m *Manager) DeleteGroup(id string) error {
	return m.groups.Delete(id)
}

// AddJobToGroup adds a job id to a group's membership.
func (m *Manager) AddJobToGroup(groupID, jobID string) error {
	return m.groups.AddJob(groupID, jobID)
}

// RemoveJobFromGroup removes a job id from a group's membership.
func (m *Manager) RemoveJobFromGroup(groupID, jobID string) error {
	return m.groups.RemoveJob(groupID, jobID)
}

// Groups exposes the group manager for expiration and tag operations.
func (m *Manager) Groups() *group.Manager {
	return m.groups
}

// ---- distributed tasks ----

// SubmitTask admits a task and immediately runs a placement cycle so an
// eligible node picks it up without waiting for the next tick.
func (m *Manager) SubmitTask(task *types.Task) error {
	if err := m.tracker.Add(task); err != nil {
		return err
	}
	m.dispatcher.Dispatch()
	return nil
}

// GetTask returns a snapshot of a task.
func (m *Manager) GetTask(taskID string) (*types.Task, error) {
	return m.tracker.Get(taskID)
}

// ListTasks returns snapshots of all tracked tasks.
func (m *Manager) ListTasks() []*types.Task {
	return m.tracker.List()
}

// GetTaskResult returns the recorded execution result of a task.
func (m *Manager) GetTaskResult(taskID string) (*types.TaskResult, error) {
	return m.store.GetTaskResult(taskID)
}

// TasksOnNode returns the active tasks assigned to a node.
func (m *Manager) TasksOnNode(nodeID string) []*types.Task {
	return m.tracker.TasksOnNode(nodeID)
}

// RetryTask is the operator path for a terminal task: retry history is
// wiped, the task goes back to pending with a fresh budget, and a placement
// cycle runs.
func (m *Manager) RetryTask(taskID string) error {
	if err := m.tracker.Requeue(taskID); err != nil {
		return err
	}
	m.failover.ClearRetryHistory(taskID)
	m.dispatcher.Dispatch()
	return nil
}

// ReportTaskStatus records an agent's progress report for an assigned task.
func (m *Manager) ReportTaskStatus(taskID string, status types.TaskStatus, exitCode int, reason string) error {
	switch status {
	case types.TaskStatusRunning:
		return m.tracker.MarkRunning(taskID)
	case types.TaskStatusCompleted:
		return m.tracker.Complete(taskID, exitCode)
	case types.TaskStatusFailed:
		return m.tracker.Fail(taskID, exitCode, reason)
	case types.TaskStatusCanceled:
		return m.tracker.MarkCanceled(taskID, reason)
	default:
		return fmt.Errorf("%w: cannot report status %q", types.ErrSchedulingFailed, status)
	}
}

// ---- nodes ----

// RegisterNode validates the join token and admits the node, then runs a
// placement cycle against the new capacity.
func (m *Manager) RegisterNode(node *types.Node, token string) error {
	if err := m.ValidateJoinToken(token); err != nil {
		return err
	}
	if err := m.registry.Register(node); err != nil {
		return err
	}
	m.dispatcher.Dispatch()
	return nil
}

// Heartbeat records a node's liveness ping with its sampled metrics.
// Returns false for nodes the registry does not know, telling the agent to
// re-register.
func (m *Manager) Heartbeat(nodeID string, load int, nodeMetrics *types.NodeMetrics) bool {
	if !m.monitor.ProcessHeartbeat(nodeID) {
		return false
	}
	if nodeMetrics != nil {
		if err := m.registry.UpdateMetrics(nodeID, *nodeMetrics); err != nil {
			m.logger.Warn().Err(err).Str("node_id", nodeID).Msg("heartbeat metrics update failed")
		}
	}
	if node, err := m.registry.Get(nodeID); err == nil && load != node.CurrentLoad {
		// The ledger here is authoritative; drift usually means a report
		// raced an assignment and resolves on the next ping.
		m.logger.Debug().
			Str("node_id", nodeID).
			Int("reported", load).
			Int("tracked", node.CurrentLoad).
			Msg("node load report differs from tracked load")
	}
	return true
}

// GetNode returns a snapshot of a node.
func (m *Manager) GetNode(nodeID string) (*types.Node, error) {
	return m.registry.Get(nodeID)
}

// ListNodes returns snapshots of all nodes sorted by id.
func (m *Manager) ListNodes() []*types.Node {
	return m.registry.List()
}

// SetNodeStatus transitions a node's lifecycle state.
func (m *Manager) SetNodeStatus(nodeID string, status types.NodeStatus) error {
	return m.registry.SetStatus(nodeID, status)
}

// DrainNode moves a node into maintenance and requeues its active tasks
// without burning their retry budget. Returns how many tasks were requeued.
func (m *Manager) DrainNode(nodeID string) (int, error) {
	if err := m.registry.SetStatus(nodeID, types.NodeStatusMaintenance); err != nil {
		return 0, err
	}
	requeued := m.reclaimTasks(nodeID)
	m.dispatcher.Dispatch()
	m.logger.Info().
		Str("node_id", nodeID).
		Int("requeued", requeued).
		Msg("node drained")
	return requeued, nil
}

// RemoveNode requeues the node's active tasks and removes it from the
// registry.
func (m *Manager) RemoveNode(nodeID string) error {
	requeued := m.reclaimTasks(nodeID)
	if err := m.registry.Remove(nodeID); err != nil {
		return err
	}
	if requeued > 0 {
		m.dispatcher.Dispatch()
	}
	return nil
}

func (m *Manager) reclaimTasks(nodeID string) int {
	requeued := 0
	for _, task := range m.tracker.TasksOnNode(nodeID) {
		if err := m.tracker.Push(task.ID); err != nil {
			m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to requeue task")
			continue
		}
		requeued++
	}
	return requeued
}

// PendingTasks returns the number of tasks waiting for placement.
func (m *Manager) PendingTasks() int {
	return m.tracker.PendingCount()
}

// ---- metrics.Source ----

// Nodes returns node snapshots for the metrics collector.
func (m *Manager) Nodes() []types.Node {
	list := m.registry.List()
	nodes := make([]types.Node, 0, len(list))
	for _, node := range list {
		nodes = append(nodes, *node)
	}
	return nodes
}

// Tasks returns task snapshots for the metrics collector.
func (m *Manager) Tasks() []types.Task {
	list := m.tracker.List()
	taskList := make([]types.Task, 0, len(list))
	for _, task := range list {
		taskList = append(taskList, *task)
	}
	return taskList
}

// ---- event log sink ----

// startLogSink subscribes a logger to the broker so every cluster event
// lands in the structured log.
func (m *Manager) startLogSink() {
	m.logSink = m.broker.Subscribe()
	m.logDone = make(chan struct{})

	go func() {
		defer close(m.logDone)
		for ev := range m.logSink {
			entry := m.logger.Info().Str("event", string(ev.Type))
			if ev.JobID != "" {
				entry = entry.Str("job_id", ev.JobID)
			}
			if ev.TaskID != "" {
				entry = entry.Str("task_id", ev.TaskID)
			}
			if ev.NodeID != "" {
				entry = entry.Str("node_id", ev.NodeID)
			}
			entry.Msg(ev.Message)
		}
	}()
}

func (m *Manager) stopLogSink() {
	if m.logSink == nil {
		return
	}
	m.broker.Unsubscribe(m.logSink)
	<-m.logDone
}
