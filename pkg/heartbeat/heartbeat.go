package heartbeat

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/types"
)

const (
	// DefaultTimeout is how long a node may go silent before it is
	// considered offline.
	DefaultTimeout = 30 * time.Second
	// DefaultScanInterval bounds how often the registry is scanned for
	// missed heartbeats.
	DefaultScanInterval = 5 * time.Second
)

// Config holds configuration for creating a Monitor
type Config struct {
	Registry     *registry.Registry
	Timeout      time.Duration    // 0 means DefaultTimeout
	ScanInterval time.Duration    // 0 means DefaultScanInterval
	OnFailure    func(nodeIDs []string) // invoked with each scan's newly offline nodes
}

// Monitor watches node liveness: it records incoming heartbeats through the
// registry and periodically scans for nodes that have gone silent past the
// timeout, transitioning them to offline.
type Monitor struct {
	registry     *registry.Registry
	timeout      time.Duration
	scanInterval time.Duration
	limiter      *rate.Limiter
	onFailure    func([]string)
	logger       zerolog.Logger
	stopCh       chan struct{}
}

// New creates a new Monitor
func New(cfg Config) *Monitor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	scanInterval := cfg.ScanInterval
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}

	return &Monitor{
		registry:     cfg.Registry,
		timeout:      timeout,
		scanInterval: scanInterval,
		limiter:      rate.NewLimiter(rate.Every(scanInterval), 1),
		onFailure:    cfg.OnFailure,
		logger:       log.WithComponent("heartbeat"),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the background scan loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			failed := m.CheckHeartbeats()
			if len(failed) > 0 && m.onFailure != nil {
				m.onFailure(failed)
			}
		case <-m.stopCh:
			return
		}
	}
}

// ProcessHeartbeat records a liveness ping from a node, reporting whether
// the node is registered. An offline node that pings again recovers to
// available.
func (m *Monitor) ProcessHeartbeat(nodeID string) bool {
	return m.registry.Heartbeat(nodeID, time.Now())
}

// CheckHeartbeats scans for nodes whose last heartbeat is older than the
// timeout and transitions them to offline, returning their ids. Scans are
// rate limited to the scan interval, so callers hammering this (API-driven
// checks alongside the ticker) cannot turn it into a registry thrash; a
// gated call returns nil.
//
// The scan is two passes over a registry snapshot: collect the expired
// nodes first, then transition exactly those. Only available and busy nodes
// are eligible; offline stays offline until a heartbeat resumes, and
// failed/maintenance are never touched here.
func (m *Monitor) CheckHeartbeats() []string {
	if !m.limiter.Allow() {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HeartbeatScanDuration)

	cutoff := time.Now().Add(-m.timeout)
	var failed []string
	for _, node := range m.registry.List() {
		switch node.Status {
		case types.NodeStatusAvailable, types.NodeStatusBusy:
			if node.LastHeartbeat.Before(cutoff) {
				failed = append(failed, node.ID)
			}
		}
	}

	for _, nodeID := range failed {
		m.logger.Warn().
			Str("node_id", nodeID).
			Dur("timeout", m.timeout).
			Msg("node missed heartbeat deadline")
		if err := m.registry.SetStatus(nodeID, types.NodeStatusOffline); err != nil {
			m.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to mark node offline")
		}
	}
	return failed
}

// Timeout returns the configured liveness deadline.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}
