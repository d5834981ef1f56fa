package registry

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
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Config holds configuration for creating a Registry
type Config struct {
	Store  storage.Store  // optional: node state is written through
	Broker *events.Broker // optional: membership events are published
}

// Registry tracks worker node membership, declared capabilities, reported
// load, and liveness timestamps. All state changes write through to the
// store; heartbeat touches stay in memory since they arrive every few
// seconds per node.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]*types.Node
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// New creates a new Registry
func New(cfg Config) *Registry {
	return &Registry{
		nodes:  make(map[string]*types.Node),
		store:  cfg.Store,
		broker: cfg.Broker,
		logger: log.WithComponent("registry"),
	}
}

// Register adds a node to the registry or re-admits a returning one. A
// re-registration replaces the previous entry: the agent restarted, so its
// load starts over at zero.
func (r *Registry) Register(node *types.Node) error {
	if node == nil {
		return fmt.Errorf("node is required")
	}
	for _, c := range node.Capabilities {
		if !types.ValidCapability(c) {
			return fmt.Errorf("unknown capability %q", c)
		}
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if node.MaxConcurrentTasks <= 0 {
		node.MaxConcurrentTasks = types.DefaultMaxConcurrentTasks
	}

	node.Status = types.NodeStatusAvailable
	node.CurrentLoad = 0
	node.LastHeartbeat = time.Now()

	r.mu.Lock()
	if prev, ok := r.nodes[node.ID]; ok {
		node.CreatedAt = prev.CreatedAt
	} else if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	r.nodes[node.ID] = node
	r.mu.Unlock()

	r.logger.Info().
		Str("node_id", node.ID).
		Str("name", node.Name).
		Str("address", node.Address).
		Int("max_tasks", node.MaxConcurrentTasks).
		Msg("node registered")
	r.publish(events.EventNodeJoined, node.ID, "node registered")
	r.persist(node.ID)
	return nil
}

// Restore loads a persisted node back into the registry at startup. Nodes
// that were available or busy come back offline until they heartbeat again;
// operator-set maintenance survives the restart. No membership event is
// published.
func (r *Registry) Restore(node *types.Node) {
	if node == nil || node.ID == "" {
		return
	}
	switch node.Status {
	case types.NodeStatusAvailable, types.NodeStatusBusy:
		node.Status = types.NodeStatusOffline
	}

	r.mu.Lock()
	r.nodes[node.ID] = node
	r.mu.Unlock()

	r.logger.Debug().
		Str("node_id", node.ID).
		Str("status", string(node.Status)).
		Msg("node restored")
	r.persist(node.ID)
}

// Remove deletes a node from the registry.
func (r *Registry) Remove(nodeID string) error {
	r.mu.Lock()
	if _, ok := r.nodes[nodeID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrNodeNotFound, nodeID)
	}
	delete(r.nodes, nodeID)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteNode(nodeID); err != nil {
			r.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to delete persisted node")
		}
	}
	r.logger.Info().Str("node_id", nodeID).Msg("node removed")
	r.publish(events.EventNodeRemoved, nodeID, "node removed")
	return nil
}

// Get returns a snapshot of the node with the given id.
func (r *Registry) Get(nodeID string) (*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNodeNotFound, nodeID)
	}
	return cloneNode(node), nil
}

// List returns snapshots of every registered node ordered by id.
func (r *Registry) List() []*types.Node {
	r.mu.RLock()
	nodes := make([]*types.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, cloneNode(node))
	}
	r.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// UpdateMetrics records a node's self-reported utilization sample and flips
// the available/busy sub-state at the 0.9 threshold.
func (r *Registry) UpdateMetrics(nodeID string, m types.NodeMetrics) error {
	r.mu.Lock()
	node, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrNodeNotFound, nodeID)
	}
	before := node.Status
	node.ApplyMetrics(m)
	after := node.Status
	r.mu.Unlock()

	if before != after {
		r.logger.Debug().
			Str("node_id", nodeID).
			Str("from", string(before)).
			Str("to", string(after)).
			Float64("cpu", m.CPUUsage).
			Float64("memory", m.MemoryUsage).
			Msg("node utilization state changed")
	}
	r.persist(nodeID)
	return nil
}

// Heartbeat records a liveness ping, reporting whether the node is known.
// An offline node that heartbeats again recovers to available. Plain
// touches are memory-only; only the recovery transition is persisted.
func (r *Registry) Heartbeat(nodeID string, at time.Time) bool {
	r.mu.Lock()
	node, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	node.LastHeartbeat = at
	recovered := node.Status == types.NodeStatusOffline
	if recovered {
		node.Status = types.NodeStatusAvailable
	}
	r.mu.Unlock()

	if recovered {
		r.logger.Info().Str("node_id", nodeID).Msg("offline node resumed heartbeating")
		r.publish(events.EventNodeRecovered, nodeID, "heartbeat resumed")
		r.persist(nodeID)
	}
	return true
}

// SetStatus forces a node into the given status. Transitions to offline and
// failed publish the matching membership event.
func (r *Registry) SetStatus(nodeID string, status types.NodeStatus) error {
	r.mu.Lock()
	node, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrNodeNotFound, nodeID)
	}
	before := node.Status
	node.Status = status
	r.mu.Unlock()

	if before != status {
		r.logger.Info().
			Str("node_id", nodeID).
			Str("from", string(before)).
			Str("to", string(status)).
			Msg("node status changed")
		switch status {
		case types.NodeStatusOffline:
			r.publish(events.EventNodeOffline, nodeID, "node marked offline")
		case types.NodeStatusFailed:
			metrics.NodeFailures.Inc()
			r.publish(events.EventNodeFailed, nodeID, "node marked failed")
		}
	}
	r.persist(nodeID)
	return nil
}

// AdjustLoad changes a node's assigned-task count by delta, clamped at zero.
func (r *Registry) AdjustLoad(nodeID string, delta int) error {
	r.mu.Lock()
	node, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrNodeNotFound, nodeID)
	}
	node.CurrentLoad += delta
	if node.CurrentLoad < 0 {
		node.CurrentLoad = 0
	}
	r.mu.Unlock()

	r.persist(nodeID)
	return nil
}

// BestNode returns the available node with the highest health score among
// those offering every required capability. Ties break toward the lower id
// so placement is deterministic.
func (r *Registry) BestNode(required []types.Capability) (*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *types.Node
	var bestScore float64
	for _, node := range r.nodes {
		if !node.IsAvailable() || !node.HasCapabilities(required) {
			continue
		}
		score := node.HealthScore()
		if best == nil || score > bestScore || (score == bestScore && node.ID < best.ID) {
			best = node
			bestScore = score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no eligible node", types.ErrNodeNotFound)
	}
	return cloneNode(best), nil
}

func (r *Registry) publish(t events.EventType, nodeID, msg string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{Type: t, NodeID: nodeID, Message: msg})
}

func (r *Registry) persist(nodeID string) {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	node, ok := r.nodes[nodeID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	snapshot := cloneNode(node)
	r.mu.RUnlock()

	if err := r.store.UpdateNode(snapshot); err != nil {
		r.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to persist node state")
	}
}

// cloneNode returns a deep copy safe to hand outside the registry lock.
func cloneNode(node *types.Node) *types.Node {
	clone := *node
	if node.Capabilities != nil {
		clone.Capabilities = append([]types.Capability(nil), node.Capabilities...)
	}
	if node.Labels != nil {
		clone.Labels = make(map[string]string, len(node.Labels))
		for k, v := range node.Labels {
			clone.Labels[k] = v
		}
	}
	return &clone
}
