package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeHealthScore(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want float64
	}{
		{
			name: "loaded node with light resource usage",
			node: Node{
				Status:             NodeStatusAvailable,
				CurrentLoad:        9,
				MaxConcurrentTasks: 10,
				Metrics:            NodeMetrics{CPUUsage: 0.2, MemoryUsage: 0.2},
			},
			// 0.4*(1-0.9) + 0.6*(1-0.2) = 0.04 + 0.48
			want: 0.52,
		},
		{
			name: "idle node scores highest",
			node: Node{
				Status:             NodeStatusAvailable,
				CurrentLoad:        0,
				MaxConcurrentTasks: 10,
			},
			want: 1.0,
		},
		{
			name: "busy node still scores",
			node: Node{
				Status:             NodeStatusBusy,
				CurrentLoad:        5,
				MaxConcurrentTasks: 10,
				Metrics:            NodeMetrics{CPUUsage: 1.0, MemoryUsage: 1.0},
			},
			// 0.4*0.5 + 0.6*0
			want: 0.2,
		},
		{
			name: "offline node scores zero",
			node: Node{Status: NodeStatusOffline, MaxConcurrentTasks: 10},
			want: 0,
		},
		{
			name: "failed node scores zero",
			node: Node{Status: NodeStatusFailed, MaxConcurrentTasks: 10},
			want: 0,
		},
		{
			name: "maintenance node scores zero",
			node: Node{Status: NodeStatusMaintenance, MaxConcurrentTasks: 10},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.node.HealthScore(), 1e-9)
		})
	}
}

func TestNodeIsAvailable(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want bool
	}{
		{
			name: "available with spare slots",
			node: Node{Status: NodeStatusAvailable, CurrentLoad: 3, MaxConcurrentTasks: 10},
			want: true,
		},
		{
			name: "available but full",
			node: Node{Status: NodeStatusAvailable, CurrentLoad: 10, MaxConcurrentTasks: 10},
			want: false,
		},
		{
			name: "busy is not available",
			node: Node{Status: NodeStatusBusy, CurrentLoad: 0, MaxConcurrentTasks: 10},
			want: false,
		},
		{
			name: "offline is not available",
			node: Node{Status: NodeStatusOffline, CurrentLoad: 0, MaxConcurrentTasks: 10},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.IsAvailable())
		})
	}
}

func TestNodeApplyMetrics(t *testing.T) {
	tests := []struct {
		name       string
		status     NodeStatus
		metrics    NodeMetrics
		wantStatus NodeStatus
	}{
		{
			name:       "high cpu flips available to busy",
			status:     NodeStatusAvailable,
			metrics:    NodeMetrics{CPUUsage: 0.95, MemoryUsage: 0.1},
			wantStatus: NodeStatusBusy,
		},
		{
			name:       "high memory flips available to busy",
			status:     NodeStatusAvailable,
			metrics:    NodeMetrics{CPUUsage: 0.1, MemoryUsage: 0.95},
			wantStatus: NodeStatusBusy,
		},
		{
			name:       "recovered utilization flips busy back",
			status:     NodeStatusBusy,
			metrics:    NodeMetrics{CPUUsage: 0.5, MemoryUsage: 0.5},
			wantStatus: NodeStatusAvailable,
		},
		{
			name:       "threshold is exclusive",
			status:     NodeStatusAvailable,
			metrics:    NodeMetrics{CPUUsage: 0.9, MemoryUsage: 0.9},
			wantStatus: NodeStatusAvailable,
		},
		{
			name:       "offline is never flipped",
			status:     NodeStatusOffline,
			metrics:    NodeMetrics{CPUUsage: 0.99, MemoryUsage: 0.99},
			wantStatus: NodeStatusOffline,
		},
		{
			name:       "failed is never flipped",
			status:     NodeStatusFailed,
			metrics:    NodeMetrics{CPUUsage: 0.1, MemoryUsage: 0.1},
			wantStatus: NodeStatusFailed,
		},
		{
			name:       "maintenance is never flipped",
			status:     NodeStatusMaintenance,
			metrics:    NodeMetrics{CPUUsage: 0.99, MemoryUsage: 0.1},
			wantStatus: NodeStatusMaintenance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := Node{Status: tt.status, MaxConcurrentTasks: 10}
			node.ApplyMetrics(tt.metrics)
			assert.Equal(t, tt.wantStatus, node.Status)
			assert.Equal(t, tt.metrics, node.Metrics)
		})
	}
}

func TestNodeHasCapabilities(t *testing.T) {
	node := Node{
		Capabilities: []Capability{CapabilityCompute, CapabilityMemory, CapabilityGPU},
	}

	assert.True(t, node.HasCapabilities(nil))
	assert.True(t, node.HasCapabilities([]Capability{CapabilityCompute}))
	assert.True(t, node.HasCapabilities([]Capability{CapabilityGPU, CapabilityMemory}))
	assert.False(t, node.HasCapabilities([]Capability{CapabilityPrivileged}))
	assert.False(t, node.HasCapabilities([]Capability{CapabilityCompute, CapabilityStorage}))
}

func TestTaskPriorityRank(t *testing.T) {
	assert.Greater(t, TaskPriorityCritical.Rank(), TaskPriorityHigh.Rank())
	assert.Greater(t, TaskPriorityHigh.Rank(), TaskPriorityNormal.Rank())
	assert.Greater(t, TaskPriorityNormal.Rank(), TaskPriorityLow.Rank())
	// unknown priorities are treated as normal
	assert.Equal(t, TaskPriorityNormal.Rank(), TaskPriority("").Rank())
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())

	assert.True(t, TaskStatusCanceled.IsTerminal())
	assert.False(t, TaskStatusAssigned.IsTerminal())
	assert.True(t, TaskStatusAssigned.IsActive())
	assert.True(t, TaskStatusRunning.IsActive())
	assert.False(t, TaskStatusPending.IsActive())
	assert.False(t, TaskStatusCompleted.IsActive())
}

func TestJobGroupExpiry(t *testing.T) {
	group := &JobGroup{Name: "batch"}
	assert.False(t, group.IsExpired(), "group without expiry never expires")

	past := time.Now().Add(-time.Minute)
	group.ExpiresAt = &past
	assert.True(t, group.IsExpired())

	future := time.Now().Add(time.Hour)
	group.ExpiresAt = &future
	assert.False(t, group.IsExpired())
}

func TestJobGroupHasJob(t *testing.T) {
	group := &JobGroup{JobIDs: []string{"a", "b"}}
	assert.True(t, group.HasJob("a"))
	assert.False(t, group.HasJob("c"))
}

func TestValidCapability(t *testing.T) {
	for _, c := range []Capability{
		CapabilityCompute, CapabilityMemory, CapabilityNetwork,
		CapabilityStorage, CapabilityGPU, CapabilityPrivileged,
	} {
		assert.True(t, ValidCapability(c), string(c))
	}
	assert.False(t, ValidCapability("quantum"))
}
