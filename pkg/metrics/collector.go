package metrics

import (
	"time"

	"github.com/droverd/drover/pkg/types"
)

// Source supplies the cluster snapshots the collector polls. The manager
// implements it; tests can supply a stub.
type Source interface {
	Nodes() []types.Node
	Tasks() []types.Task
}

// Collector periodically refreshes the polled gauges (node and task counts).
// Counters and histograms are updated inline by the owning components.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectNodeMetrics() {
	counts := map[types.NodeStatus]int{
		types.NodeStatusAvailable:   0,
		types.NodeStatusBusy:        0,
		types.NodeStatusOffline:     0,
		types.NodeStatusFailed:      0,
		types.NodeStatusMaintenance: 0,
	}
	for _, node := range c.source.Nodes() {
		counts[node.Status]++
	}
	// every status is written each pass so stale series drop to zero
	for status, count := range counts {
		NodesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	counts := map[types.TaskStatus]int{
		types.TaskStatusPending:   0,
		types.TaskStatusAssigned:  0,
		types.TaskStatusRunning:   0,
		types.TaskStatusCompleted: 0,
		types.TaskStatusFailed:    0,
		types.TaskStatusCanceled:  0,
	}
	for _, task := range c.source.Tasks() {
		counts[task.Status]++
	}
	for status, count := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
