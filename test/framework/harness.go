// Package framework provides an in-process cluster harness for end-to-end
// tests: a real manager with its REST API behind httptest, plus any number
// of worker agents. Stopping an agent without deregistering it simulates a
// node crash, which is exactly what the failover tests need.
package framework

import (
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/droverd/drover/pkg/agent"
	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/client"
	"github.com/droverd/drover/pkg/config"
	"github.com/droverd/drover/pkg/manager"
	"github.com/droverd/drover/pkg/types"
)

// ClusterConfig shapes the test cluster. Zero values mean fast test-friendly
// defaults, not production ones.
type ClusterConfig struct {
	DataDir string // required; use t.TempDir()

	Workers           int // agents started up front
	MaxTasksPerWorker int

	HeartbeatTimeout time.Duration
	ScanInterval     time.Duration
	DispatchInterval time.Duration

	Strategy   string // immediate, delayed, optimal, manual
	MaxRetries int
}

// Cluster is a running manager plus its workers, all in one process.
type Cluster struct {
	Manager *manager.Manager
	Client  *client.Client

	server  *httptest.Server
	workers map[string]*agent.Agent // node id -> agent
}

// NewCluster starts a manager, its API and cfg.Workers agents. Callers must
// Cleanup when done.
func NewCluster(cfg ClusterConfig) (*Cluster, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("cluster config needs a data dir")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("cluster config needs >= 0 workers")
	}

	mcfg := config.Default()
	mcfg.DataDir = cfg.DataDir
	if cfg.HeartbeatTimeout > 0 {
		mcfg.Heartbeat.Timeout = config.Duration(cfg.HeartbeatTimeout)
	}
	if cfg.ScanInterval > 0 {
		mcfg.Heartbeat.ScanInterval = config.Duration(cfg.ScanInterval)
	}
	if cfg.DispatchInterval > 0 {
		mcfg.Dispatch.Interval = config.Duration(cfg.DispatchInterval)
	}
	if cfg.Strategy != "" {
		mcfg.Failover.Strategy = cfg.Strategy
	}
	if cfg.MaxRetries > 0 {
		mcfg.Failover.MaxRetries = cfg.MaxRetries
	}

	mgr, err := manager.New(mcfg)
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}
	if err := mgr.Start(); err != nil {
		return nil, fmt.Errorf("start manager: %w", err)
	}

	server := httptest.NewServer(api.NewServer(mgr).Handler())
	c := &Cluster{
		Manager: mgr,
		Client:  client.New(server.URL),
		server:  server,
		workers: make(map[string]*agent.Agent),
	}

	maxTasks := cfg.MaxTasksPerWorker
	if maxTasks == 0 {
		maxTasks = 4
	}
	for i := 0; i < cfg.Workers; i++ {
		if _, err := c.StartWorker(fmt.Sprintf("worker-%d", i), maxTasks); err != nil {
			c.Cleanup()
			return nil, err
		}
	}
	return c, nil
}

// StartWorker registers one more agent against the cluster and returns its
// node id.
func (c *Cluster) StartWorker(name string, maxTasks int) (string, error) {
	a, err := agent.New(agent.Config{
		Client:            client.New(c.server.URL),
		Token:             c.Manager.JoinToken(),
		Name:              name,
		Capabilities:      []types.Capability{types.CapabilityCompute},
		MaxTasks:          maxTasks,
		HeartbeatInterval: 50 * time.Millisecond,
		PollInterval:      50 * time.Millisecond,
	})
	if err != nil {
		return "", fmt.Errorf("create agent %s: %w", name, err)
	}
	if err := a.Start(); err != nil {
		return "", fmt.Errorf("start agent %s: %w", name, err)
	}
	c.workers[a.NodeID()] = a
	return a.NodeID(), nil
}

// CrashWorker stops the agent without deregistering its node. The manager
// keeps believing in the node until heartbeats time out, so the liveness
// monitor and the failover engine see a real node failure.
func (c *Cluster) CrashWorker(nodeID string) error {
	a, ok := c.workers[nodeID]
	if !ok {
		return fmt.Errorf("no worker with node id %s", nodeID)
	}
	delete(c.workers, nodeID)
	a.Stop()
	return nil
}

// WorkerIDs returns the node ids of the live workers.
func (c *Cluster) WorkerIDs() []string {
	ids := make([]string, 0, len(c.workers))
	for id := range c.workers {
		ids = append(ids, id)
	}
	return ids
}

// Cleanup tears everything down: agents first so they stop reporting, then
// the API, then the manager.
func (c *Cluster) Cleanup() {
	for id, a := range c.workers {
		a.Stop()
		delete(c.workers, id)
	}
	c.server.Close()
	_ = c.Manager.Stop()
}
