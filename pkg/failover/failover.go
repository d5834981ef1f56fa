package failover

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/tasks"
	"github.com/droverd/drover/pkg/types"
)

// Strategy selects how tasks orphaned by a node failure are rescheduled.
type Strategy string

const (
	// StrategyImmediate requeues orphaned tasks right away.
	StrategyImmediate Strategy = "immediate"
	// StrategyDelayed requeues after an exponential backoff.
	StrategyDelayed Strategy = "delayed"
	// StrategyOptimal reassigns directly to the best eligible node,
	// falling back to immediate when none exists.
	StrategyOptimal Strategy = "optimal"
	// StrategyManual parks orphaned tasks as failed for an operator.
	StrategyManual Strategy = "manual"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyImmediate, StrategyDelayed, StrategyOptimal, StrategyManual:
		return Strategy(s), nil
	case "":
		return StrategyImmediate, nil
	default:
		return "", fmt.Errorf("unknown failover strategy %q", s)
	}
}

const (
	// DefaultMaxRetries bounds how often one task is rescued before it is
	// given up on.
	DefaultMaxRetries = 3
	// DefaultRetryBaseDelay seeds the delayed strategy's backoff.
	DefaultRetryBaseDelay = time.Second
)

// Config holds configuration for creating a Manager
type Config struct {
	Registry       *registry.Registry
	Tracker        *tasks.Tracker
	Store          storage.Store  // optional: retry ledger persistence
	Broker         *events.Broker // optional: reschedule/exhaust events
	Strategy       Strategy       // empty means immediate
	MaxRetries     int            // 0 means DefaultMaxRetries
	RetryBaseDelay time.Duration  // 0 means DefaultRetryBaseDelay
}

// Manager reacts to node failures: it marks the node failed, reclaims every
// task that was assigned there, and reschedules each one according to the
// configured strategy with per-task retry accounting.
type Manager struct {
	registry *registry.Registry
	tracker  *tasks.Tracker
	store    storage.Store
	broker   *events.Broker

	strategy   Strategy
	maxRetries int
	baseDelay  time.Duration

	mu      sync.Mutex
	retries map[string]int

	stopCh chan struct{}
	logger zerolog.Logger
}

// New creates a new Manager. If a store is configured, the retry ledger is
// reloaded from it so attempt counts survive restarts.
func New(cfg Config) *Manager {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyImmediate
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}

	m := &Manager{
		registry:   cfg.Registry,
		tracker:    cfg.Tracker,
		store:      cfg.Store,
		broker:     cfg.Broker,
		strategy:   strategy,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		retries:    make(map[string]int),
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("failover"),
	}

	if m.store != nil {
		ledger, err := m.store.ListRetryCounts()
		if err != nil {
			m.logger.Warn().Err(err).Msg("failed to reload retry ledger")
		} else {
			m.retries = ledger
		}
	}
	return m
}

// Stop cancels pending delayed requeues.
func (m *Manager) Stop() {
	close(m.stopCh)
}

// Strategy returns the configured strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// HandleNodeFailure runs the full failure path for one node and returns how
// many of its tasks were rescheduled (exhausted and manually parked tasks
// are not counted). Per-task problems are logged and the reclamation loop
// continues; this path never propagates errors upward.
func (m *Manager) HandleNodeFailure(nodeID string) int {
	if err := m.registry.SetStatus(nodeID, types.NodeStatusFailed); err != nil {
		m.logger.Warn().Err(err).Str("node_id", nodeID).Msg("cannot mark node failed")
		return 0
	}

	orphaned := m.tracker.TasksOnNode(nodeID)
	m.logger.Info().
		Str("node_id", nodeID).
		Str("strategy", string(m.strategy)).
		Int("orphaned_tasks", len(orphaned)).
		Msg("handling node failure")

	rescheduled := 0
	for _, task := range orphaned {
		if m.rescueTask(task, nodeID) {
			rescheduled++
		}
	}
	return rescheduled
}

// rescueTask reclaims one orphaned task, reporting whether it was put back
// in flight.
func (m *Manager) rescueTask(task *types.Task, failedNodeID string) bool {
	count := m.bumpRetry(task.ID)
	m.tracker.SetRetryCount(task.ID, count)

	if count > m.maxRetries {
		reason := fmt.Sprintf("retry limit exhausted after %d attempts", m.maxRetries)
		if err := m.tracker.Abandon(task.ID, reason); err != nil {
			m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to abandon exhausted task")
			return false
		}
		metrics.TasksExhausted.Inc()
		m.logger.Warn().
			Str("task_id", task.ID).
			Int("retries", count).
			Msg("task exhausted its retries")
		m.publish(events.EventTaskExhausted, task.ID, failedNodeID, reason)
		return false
	}

	switch m.strategy {
	case StrategyDelayed:
		// Detach now so the task never sits assigned to a failed node;
		// it rejoins the queue when the backoff elapses.
		if err := m.tracker.Release(task.ID); err != nil {
			m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to reclaim task")
			return false
		}
		delay := m.backoff(count)
		m.logger.Info().
			Str("task_id", task.ID).
			Int("retry", count).
			Dur("delay", delay).
			Msg("task requeue scheduled with backoff")
		m.publish(events.EventTaskRescheduled, task.ID, failedNodeID,
			fmt.Sprintf("requeue in %s (attempt %d)", delay, count))
		metrics.TasksRescheduled.WithLabelValues(string(StrategyDelayed)).Inc()
		go m.requeueAfter(task.ID, delay)
		return true

	case StrategyOptimal:
		return m.rescueOptimal(task, failedNodeID, count)

	case StrategyManual:
		if err := m.tracker.Abandon(task.ID, "node failed, awaiting manual intervention"); err != nil {
			m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to park task for operator")
			return false
		}
		m.logger.Warn().
			Str("task_id", task.ID).
			Str("node_id", failedNodeID).
			Msg("task parked for manual intervention")
		m.publish(events.EventTaskManualHold, task.ID, failedNodeID, "awaiting manual intervention")
		return false

	default: // StrategyImmediate
		if err := m.tracker.Push(task.ID); err != nil {
			m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to requeue task")
			return false
		}
		metrics.TasksRescheduled.WithLabelValues(string(StrategyImmediate)).Inc()
		m.publish(events.EventTaskRescheduled, task.ID, failedNodeID,
			fmt.Sprintf("requeued immediately (attempt %d)", count))
		return true
	}
}

// rescueOptimal reassigns straight to the best eligible node, bypassing the
// pending queue; with no candidate it degrades to the immediate behavior.
func (m *Manager) rescueOptimal(task *types.Task, failedNodeID string, count int) bool {
	if err := m.tracker.Release(task.ID); err != nil {
		m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to reclaim task")
		return false
	}

	best, err := m.registry.BestNode(task.Required)
	if err != nil {
		return m.fallbackImmediate(task, failedNodeID, count, "no replacement node")
	}

	if err := m.tracker.MarkAssigned(task.ID, best.ID); err != nil {
		// The candidate filled up between selection and assignment.
		m.logger.Warn().Err(err).
			Str("task_id", task.ID).
			Str("node_id", best.ID).
			Msg("direct reassignment failed")
		return m.fallbackImmediate(task, failedNodeID, count, "reassignment raced")
	}

	metrics.TasksRescheduled.WithLabelValues(string(StrategyOptimal)).Inc()
	m.logger.Info().
		Str("task_id", task.ID).
		Str("from", failedNodeID).
		Str("to", best.ID).
		Msg("task reassigned to best node")
	m.publish(events.EventTaskRescheduled, task.ID, best.ID,
		fmt.Sprintf("reassigned to %s (attempt %d)", best.ID, count))
	return true
}

// fallbackImmediate puts a reclaimed task back in the pending queue when
// direct reassignment is not possible.
func (m *Manager) fallbackImmediate(task *types.Task, failedNodeID string, count int, why string) bool {
	if err := m.tracker.Push(task.ID); err != nil {
		m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to requeue task")
		return false
	}
	metrics.TasksRescheduled.WithLabelValues(string(StrategyImmediate)).Inc()
	m.logger.Info().
		Str("task_id", task.ID).
		Str("reason", why).
		Msg("task requeued instead of reassigned")
	m.publish(events.EventTaskRescheduled, task.ID, failedNodeID,
		fmt.Sprintf("requeued, %s (attempt %d)", why, count))
	return true
}

// requeueAfter pushes a task back to pending once the backoff elapses. The
// timer is cancelled by Stop so a shutdown does not leave sleepers behind.
func (m *Manager) requeueAfter(taskID string, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-m.stopCh:
		return
	}

	if err := m.tracker.Push(taskID); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("delayed requeue failed")
	}
}

// backoff computes base · 2^(count−1), so the first retry waits the base
// delay and each further attempt doubles it.
func (m *Manager) backoff(count int) time.Duration {
	delay := m.baseDelay
	for i := 1; i < count; i++ {
		delay *= 2
	}
	return delay
}

// bumpRetry atomically increments a task's ledger entry and persists it.
func (m *Manager) bumpRetry(taskID string) int {
	m.mu.Lock()
	m.retries[taskID]++
	count := m.retries[taskID]
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.PutRetryCount(taskID, count); err != nil {
			m.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to persist retry count")
		}
	}
	return count
}

// RetryCount returns a task's current ledger entry.
func (m *Manager) RetryCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[taskID]
}

// ClearRetryHistory forgets a task's attempts. Wired to the tracker's
// success hook and to the operator retry endpoint.
func (m *Manager) ClearRetryHistory(taskID string) {
	m.mu.Lock()
	delete(m.retries, taskID)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteRetryCount(taskID); err != nil {
			m.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to clear persisted retry count")
		}
	}
}

func (m *Manager) publish(typ events.EventType, taskID, nodeID, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: typ, TaskID: taskID, NodeID: nodeID, Message: msg})
}
