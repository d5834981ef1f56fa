package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/tasks"
)

const (
	// DefaultInterval is how often pending tasks are matched to nodes.
	DefaultInterval = 5 * time.Second
	// DefaultStaleAfter is how old an unfinished task may grow before the
	// watchdog flags it.
	DefaultStaleAfter = time.Hour
)

// Config holds configuration for creating a Dispatcher
type Config struct {
	Registry   *registry.Registry
	Tracker    *tasks.Tracker
	Broker     *events.Broker // optional: stale-task events are published
	Interval   time.Duration  // 0 means DefaultInterval
	StaleAfter time.Duration  // 0 means DefaultStaleAfter
}

// Dispatcher matches pending tasks to nodes on an interval and watches for
// tasks that have been in flight suspiciously long.
type Dispatcher struct {
	registry   *registry.Registry
	tracker    *tasks.Tracker
	broker     *events.Broker
	interval   time.Duration
	staleAfter time.Duration

	mu        sync.Mutex
	staleSeen map[string]bool // flagged once per task

	stopCh chan struct{}
	logger zerolog.Logger
}

// New creates a new Dispatcher
func New(cfg Config) *Dispatcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &Dispatcher{
		registry:   cfg.Registry,
		tracker:    cfg.Tracker,
		broker:     cfg.Broker,
		interval:   interval,
		staleAfter: staleAfter,
		staleSeen:  make(map[string]bool),
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("dispatch"),
	}
}

// Start begins the dispatch loop
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop stops the dispatcher
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

func (d *Dispatcher) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Dispatch()
			d.CheckStale()
		case <-d.stopCh:
			return
		}
	}
}

// Dispatch drains the pending queue once, assigning each task to the best
// eligible node. Tasks with no eligible node go back to pending for the
// next cycle; their relative order survives because they are requeued in
// the order they were popped. Returns the number of assignments made.
func (d *Dispatcher) Dispatch() int {
	assigned := 0
	var unplaced []string

	for {
		task, ok := d.tracker.Pop()
		if !ok {
			break
		}

		node, err := d.registry.BestNode(task.Required)
		if err != nil {
			unplaced = append(unplaced, task.ID)
			continue
		}

		if err := d.tracker.MarkAssigned(task.ID, node.ID); err != nil {
			d.logger.Warn().Err(err).
				Str("task_id", task.ID).
				Str("node_id", node.ID).
				Msg("assignment failed, task returns to pending")
			unplaced = append(unplaced, task.ID)
			continue
		}
		assigned++
	}

	for _, taskID := range unplaced {
		if err := d.tracker.Push(taskID); err != nil {
			d.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to requeue unplaced task")
		}
	}

	if assigned > 0 || len(unplaced) > 0 {
		d.logger.Debug().
			Int("assigned", assigned).
			Int("unplaced", len(unplaced)).
			Msg("dispatch cycle finished")
	}
	return assigned
}

// CheckStale flags active tasks older than the staleness threshold, once
// per task, and returns the newly flagged ids. Flagging is advisory: the
// watchdog warns operators about stuck work but never cancels it.
func (d *Dispatcher) CheckStale() []string {
	cutoff := time.Now().Add(-d.staleAfter)
	var flagged []string

	d.mu.Lock()
	for _, task := range d.tracker.List() {
		if !task.Status.IsActive() {
			delete(d.staleSeen, task.ID)
			continue
		}
		if task.CreatedAt.After(cutoff) || d.staleSeen[task.ID] {
			continue
		}
		d.staleSeen[task.ID] = true
		flagged = append(flagged, task.ID)
	}
	d.mu.Unlock()

	for _, taskID := range flagged {
		task, err := d.tracker.Get(taskID)
		if err != nil {
			continue
		}

		d.logger.Warn().
			Str("task_id", task.ID).
			Str("node_id", task.NodeID).
			Time("created_at", task.CreatedAt).
			Dur("stale_after", d.staleAfter).
			Msg("task exceeded the staleness threshold")
		if d.broker != nil {
			d.broker.Publish(&events.Event{
				Type:    events.EventTaskStale,
				TaskID:  task.ID,
				NodeID:  task.NodeID,
				Message: "task in flight past the staleness threshold",
			})
		}
	}
	return flagged
}
