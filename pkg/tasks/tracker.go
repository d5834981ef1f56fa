package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Config holds configuration for creating a Tracker
type Config struct {
	Registry *registry.Registry
	Store    storage.Store  // optional: tasks and results are written through
	Broker   *events.Broker // optional: task lifecycle events are published
	// OnSuccess runs after a task completes cleanly. The manager wires it
	// to the failover retry-ledger reset.
	OnSuccess func(taskID string)
}

// Tracker owns the distributed task collection: the pending priority queue
// and the task-to-node assignment table. Node load bookkeeping goes through
// the registry so placement decisions always see current slot usage.
type Tracker struct {
	mu          sync.RWMutex
	tasks       map[string]*types.Task
	pending     *taskQueue
	assignments map[string]string // task id -> node id

	registry  *registry.Registry
	store     storage.Store
	broker    *events.Broker
	onSuccess func(string)
	logger    zerolog.Logger
}

// New creates a new Tracker
func New(cfg Config) *Tracker {
	return &Tracker{
		tasks:       make(map[string]*types.Task),
		pending:     newTaskQueue(),
		assignments: make(map[string]string),
		registry:    cfg.Registry,
		store:       cfg.Store,
		broker:      cfg.Broker,
		onSuccess:   cfg.OnSuccess,
		logger:      log.WithComponent("tasks"),
	}
}

// Add accepts a new task into the pending queue.
func (t *Tracker) Add(task *types.Task) error {
	if task == nil || task.Spec.Path == "" {
		return fmt.Errorf("%w: executable path required", types.ErrSchedulingFailed)
	}
	for _, c := range task.Required {
		if !types.ValidCapability(c) {
			return fmt.Errorf("%w: unknown capability %q", types.ErrSchedulingFailed, c)
		}
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = types.TaskPriorityNormal
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	t.mu.Lock()
	if _, exists := t.tasks[task.ID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: task %s already submitted", types.ErrSchedulingFailed, task.ID)
	}
	task.Status = types.TaskStatusPending
	task.NodeID = ""
	t.tasks[task.ID] = task
	t.pending.Push(task.ID, task.Priority)
	t.mu.Unlock()

	t.logger.Debug().
		Str("task_id", task.ID).
		Str("priority", string(task.Priority)).
		Msg("task submitted")
	t.publish(events.EventTaskSubmitted, task.ID, "", "task submitted")
	t.persist(task.ID)
	return nil
}

// Restore loads a persisted task back into the tracker at startup. Pending
// tasks rejoin the queue; assigned and running tasks keep their assignment
// so failover can reclaim them if their node never comes back.
func (t *Tracker) Restore(task *types.Task) {
	if task == nil || task.ID == "" {
		return
	}
	t.mu.Lock()
	t.tasks[task.ID] = task
	switch {
	case task.Status == types.TaskStatusPending:
		t.pending.Push(task.ID, task.Priority)
	case task.Status.IsActive() && task.NodeID != "":
		t.assignments[task.ID] = task.NodeID
	}
	t.mu.Unlock()

	t.logger.Debug().
		Str("task_id", task.ID).
		Str("status", string(task.Status)).
		Msg("task restored")
}

// Pop removes and returns the highest-priority pending task, skipping stale
// queue entries whose task has moved on.
func (t *Tracker) Pop() (*types.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		taskID, ok := t.pending.Pop()
		if !ok {
			return nil, false
		}
		task, exists := t.tasks[taskID]
		if !exists || task.Status != types.TaskStatusPending {
			continue
		}
		return cloneTask(task), true
	}
}

// Push returns a task to the pending queue, clearing any assignment. Used
// when no node is eligible yet and by the failover requeue paths.
func (t *Tracker) Push(taskID string) error {
	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if task.Status.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", types.ErrSchedulingFailed, taskID, task.Status)
	}
	nodeID := t.releaseLocked(taskID)
	task.Status = types.TaskStatusPending
	task.NodeID = ""
	t.pending.Push(taskID, task.Priority)
	t.mu.Unlock()

	t.releaseNodeSlot(nodeID)
	t.persist(taskID)
	return nil
}

// Release detaches a task from its node without requeueing it: the
// assignment clears, the node slot frees, and the task sits pending but
// off-queue until someone pushes it. The delayed failover strategy holds
// tasks in this window during backoff, and the optimal strategy uses it to
// bypass the pending queue entirely.
func (t *Tracker) Release(taskID string) error {
	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if task.Status.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", types.ErrSchedulingFailed, taskID, task.Status)
	}
	nodeID := t.releaseLocked(taskID)
	task.Status = types.TaskStatusPending
	task.NodeID = ""
	t.pending.Remove(taskID)
	t.mu.Unlock()

	t.releaseNodeSlot(nodeID)
	t.persist(taskID)
	return nil
}

// Requeue is the operator retry path: a terminal task goes back to pending
// with its error and retry count cleared.
func (t *Tracker) Requeue(taskID string) error {
	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if !task.Status.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s, not terminal", types.ErrSchedulingFailed, taskID, task.Status)
	}
	task.Status = types.TaskStatusPending
	task.NodeID = ""
	task.Error = ""
	task.RetryCount = 0
	task.FinishedAt = time.Time{}
	t.pending.Push(taskID, task.Priority)
	t.mu.Unlock()

	t.logger.Info().Str("task_id", taskID).Msg("task requeued by operator")
	t.publish(events.EventTaskSubmitted, taskID, "", "operator retry")
	t.persist(taskID)
	return nil
}

// MarkAssigned binds a pending task to a node after checking that the node
// offers every required capability and has a free slot. A full node is
// reported as ErrResourceLimitReached so callers can distinguish "try
// later" from a placement bug.
func (t *Tracker) MarkAssigned(taskID, nodeID string) error {
	node, err := t.registry.Get(nodeID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if task.Status.IsTerminal() || task.Status.IsActive() {
		t.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", types.ErrSchedulingFailed, taskID, task.Status)
	}
	if !node.HasCapabilities(task.Required) {
		t.mu.Unlock()
		return fmt.Errorf("%w: node %s lacks required capabilities", types.ErrSchedulingFailed, nodeID)
	}
	if node.CurrentLoad >= node.MaxConcurrentTasks {
		t.mu.Unlock()
		return fmt.Errorf("%w: node %s is at %d/%d tasks",
			types.ErrResourceLimitReached, nodeID, node.CurrentLoad, node.MaxConcurrentTasks)
	}
	if node.Status != types.NodeStatusAvailable {
		t.mu.Unlock()
		return fmt.Errorf("node %s is %s, not available", nodeID, node.Status)
	}

	t.pending.Remove(taskID)
	task.Status = types.TaskStatusAssigned
	task.NodeID = nodeID
	task.AssignedAt = time.Now()
	t.assignments[taskID] = nodeID
	t.mu.Unlock()

	if err := t.registry.AdjustLoad(nodeID, 1); err != nil {
		t.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to bump node load")
	}
	metrics.TasksAssigned.Inc()
	t.logger.Info().
		Str("task_id", taskID).
		Str("node_id", nodeID).
		Msg("task assigned")
	t.publish(events.EventTaskAssigned, taskID, nodeID, "task assigned")
	t.persist(taskID)
	return nil
}

// MarkRunning records that the assigned node started executing the task.
func (t *Tracker) MarkRunning(taskID string) error {
	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if task.Status != types.TaskStatusAssigned {
		t.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s, not assigned", types.ErrSchedulingFailed, taskID, task.Status)
	}
	task.Status = types.TaskStatusRunning
	task.StartedAt = time.Now()
	t.mu.Unlock()

	t.persist(taskID)
	return nil
}

// Complete finishes a task successfully: records the result, frees the node
// slot, and resets the failover retry history via the OnSuccess hook.
// Reporting a task that is already terminal is a no-op so duplicate agent
// reports stay harmless.
func (t *Tracker) Complete(taskID string, exitCode int) error {
	return t.finish(taskID, types.TaskStatusCompleted, exitCode, "")
}

// Fail finishes a task unsuccessfully, recording the exit code and reason.
func (t *Tracker) Fail(taskID string, exitCode int, reason string) error {
	return t.finish(taskID, types.TaskStatusFailed, exitCode, reason)
}

// MarkCanceled records an agent-side cancellation as the task's terminal
// state.
func (t *Tracker) MarkCanceled(taskID string, reason string) error {
	return t.finish(taskID, types.TaskStatusCanceled, -1, reason)
}

func (t *Tracker) finish(taskID string, status types.TaskStatus, exitCode int, reason string) error {
	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if task.Status.IsTerminal() {
		t.mu.Unlock()
		return nil
	}
	nodeID := t.releaseLocked(taskID)
	if nodeID == "" {
		nodeID = task.NodeID
	}
	task.Status = status
	task.Error = reason
	task.FinishedAt = time.Now()
	result := &types.TaskResult{
		TaskID:     taskID,
		NodeID:     nodeID,
		ExitCode:   exitCode,
		Error:      reason,
		FinishedAt: task.FinishedAt,
	}
	t.mu.Unlock()

	t.releaseNodeSlot(nodeID)

	if t.store != nil {
		if err := t.store.PutTaskResult(result); err != nil {
			t.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to persist task result")
		}
	}
	t.persist(taskID)

	switch status {
	case types.TaskStatusCompleted:
		t.logger.Info().Str("task_id", taskID).Str("node_id", nodeID).Msg("task completed")
		t.publish(events.EventTaskCompleted, taskID, nodeID, "task completed")
		if t.onSuccess != nil {
			t.onSuccess(taskID)
		}
	case types.TaskStatusFailed:
		t.logger.Warn().
			Str("task_id", taskID).
			Str("node_id", nodeID).
			Str("reason", reason).
			Msg("task failed")
		t.publish(events.EventTaskFailed, taskID, nodeID, reason)
	default:
		t.logger.Info().Str("task_id", taskID).Str("reason", reason).Msg("task canceled")
	}
	return nil
}

// Abandon marks a task failed without recording an execution result. The
// failover manager uses it for exhausted retries and the manual strategy,
// where no process ever produced an outcome; the caller publishes its own
// event.
func (t *Tracker) Abandon(taskID, reason string) error {
	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if task.Status.IsTerminal() {
		t.mu.Unlock()
		return nil
	}
	nodeID := t.releaseLocked(taskID)
	task.Status = types.TaskStatusFailed
	task.Error = reason
	task.FinishedAt = time.Now()
	t.mu.Unlock()

	t.releaseNodeSlot(nodeID)
	t.persist(taskID)
	return nil
}

// SetRetryCount mirrors the failover retry ledger onto the task record so
// API consumers see the attempt count without reading the ledger.
func (t *Tracker) SetRetryCount(taskID string, n int) {
	t.mu.Lock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return
	}
	task.RetryCount = n
	t.mu.Unlock()

	t.persist(taskID)
}

// Get returns a snapshot of the task with the given id.
func (t *Tracker) Get(taskID string) (*types.Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	return cloneTask(task), nil
}

// List returns snapshots of every tracked task, oldest first.
func (t *Tracker) List() []*types.Task {
	t.mu.RLock()
	tasks := make([]*types.Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	t.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// TasksOnNode returns snapshots of the tasks currently assigned to or
// running on the given node.
func (t *Tracker) TasksOnNode(nodeID string) []*types.Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*types.Task
	for taskID, assigned := range t.assignments {
		if assigned != nodeID {
			continue
		}
		if task, ok := t.tasks[taskID]; ok {
			out = append(out, cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingCount returns the number of tasks waiting for a node.
func (t *Tracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending.Len()
}

// Forget drops a terminal task from the tracker's memory.
func (t *Tracker) Forget(taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}
	if !task.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", types.ErrSchedulingFailed, taskID, task.Status)
	}
	delete(t.tasks, taskID)
	return nil
}

// releaseLocked clears the assignment table entry, returning the node id
// that held the task. Caller must hold t.mu and release the node slot after
// unlocking.
func (t *Tracker) releaseLocked(taskID string) string {
	nodeID, ok := t.assignments[taskID]
	if !ok {
		return ""
	}
	delete(t.assignments, taskID)
	return nodeID
}

// releaseNodeSlot gives an occupied slot back to the node, outside the
// tracker lock since the registry persists the change.
func (t *Tracker) releaseNodeSlot(nodeID string) {
	if nodeID == "" {
		return
	}
	if err := t.registry.AdjustLoad(nodeID, -1); err != nil {
		t.logger.Debug().Err(err).Str("node_id", nodeID).Msg("node gone before slot release")
	}
}

func (t *Tracker) publish(typ events.EventType, taskID, nodeID, msg string) {
	if t.broker == nil {
		return
	}
	t.broker.Publish(&events.Event{Type: typ, TaskID: taskID, NodeID: nodeID, Message: msg})
}

func (t *Tracker) persist(taskID string) {
	if t.store == nil {
		return
	}
	t.mu.RLock()
	task, ok := t.tasks[taskID]
	if !ok {
		t.mu.RUnlock()
		return
	}
	snapshot := cloneTask(task)
	t.mu.RUnlock()

	if err := t.store.UpdateTask(snapshot); err != nil {
		t.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to persist task state")
	}
}

// cloneTask returns a deep copy safe to hand outside the tracker lock.
func cloneTask(task *types.Task) *types.Task {
	clone := *task
	if task.Required != nil {
		clone.Required = append([]types.Capability(nil), task.Required...)
	}
	if task.Spec.Args != nil {
		clone.Spec.Args = append([]string(nil), task.Spec.Args...)
	}
	if task.Spec.Env != nil {
		clone.Spec.Env = make(map[string]string, len(task.Spec.Env))
		for k, v := range task.Spec.Env {
			clone.Spec.Env[k] = v
		}
	}
	return &clone
}
