package types

import (
	"time"
)

// MaxOutputBytes caps the stdout/stderr buffers retained per job. Output
// beyond the cap is dropped, not an error (best-effort capture).
const MaxOutputBytes = 1 << 20 // 1 MiB per stream

// DefaultMaxConcurrentTasks is the per-node task slot count used when a node
// registers without declaring one.
const DefaultMaxConcurrentTasks = 10

// JobSpec describes the external process a job runs.
type JobSpec struct {
	Path    string            `json:"path"`              // executable path
	Args    []string          `json:"args,omitempty"`    // argv[1:]
	Env     map[string]string `json:"env,omitempty"`     // environment overrides
	Dir     string            `json:"dir,omitempty"`     // working directory
	Timeout time.Duration     `json:"timeout,omitempty"` // 0 = no limit
}

// JobStatus represents the lifecycle state of a local job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal jobs never
// transition again; Cancel on a terminal job is a no-op.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job represents a locally scheduled unit of work backed by one external process
type Job struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Spec     JobSpec           `json:"spec"`
	Priority int               `json:"priority"` // higher value is served first
	Status   JobStatus         `json:"status"`
	PID      int               `json:"pid,omitempty"`       // 0 until the process starts
	ExitCode *int              `json:"exit_code,omitempty"` // nil until the process exits
	Error    string            `json:"error,omitempty"`     // launch/timeout/signal failure detail
	Labels   map[string]string `json:"labels,omitempty"`

	Stdout          []byte `json:"stdout,omitempty"`
	Stderr          []byte `json:"stderr,omitempty"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`

	ExecutionCount int       `json:"execution_count"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
}

// ResourceLimits is an advisory group-wide resource descriptor. The scheduler
// does not enforce it; it travels with the group for operators and tooling.
type ResourceLimits struct {
	MaxCPU       float64 `json:"max_cpu,omitempty"` // cores (0.5 = half a core)
	MaxMemoryMB  int64   `json:"max_memory_mb,omitempty"`
	MaxProcesses int     `json:"max_processes,omitempty"`
}

// JobGroup is a named, taggable batch of job ids with shared metadata.
type JobGroup struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	JobIDs         []string          `json:"job_ids,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	ResourceLimits *ResourceLimits   `json:"resource_limits,omitempty"`
	Description    string            `json:"description,omitempty"`
	Priority       int               `json:"priority"` // clamped to [0,100]
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsExpired reports whether an expiration was set and has elapsed. Expiry is
// advisory: member jobs are not removed automatically.
func (g *JobGroup) IsExpired() bool {
	return g.ExpiresAt != nil && time.Now().After(*g.ExpiresAt)
}

// HasJob reports whether the group contains the given job id.
func (g *JobGroup) HasJob(jobID string) bool {
	for _, id := range g.JobIDs {
		if id == jobID {
			return true
		}
	}
	return false
}

// TaskPriority orders distributed tasks in the pending queue
type TaskPriority string

const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityNormal   TaskPriority = "normal"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// Rank maps a priority to its ordering weight (higher runs first). Unknown
// priorities rank as normal.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityCritical:
		return 3
	case TaskPriorityHigh:
		return 2
	case TaskPriorityLow:
		return 0
	default:
		return 1
	}
}

// Capability names a resource class a node may offer and a task may require
type Capability string

const (
	CapabilityCompute    Capability = "compute"
	CapabilityMemory     Capability = "memory"
	CapabilityNetwork    Capability = "network"
	CapabilityStorage    Capability = "storage"
	CapabilityGPU        Capability = "gpu"
	CapabilityPrivileged Capability = "privileged"
)

// ValidCapability reports whether c is part of the fixed capability vocabulary.
func ValidCapability(c Capability) bool {
	switch c {
	case CapabilityCompute, CapabilityMemory, CapabilityNetwork,
		CapabilityStorage, CapabilityGPU, CapabilityPrivileged:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a distributed task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// IsActive reports whether the task currently occupies a node slot.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusAssigned || s == TaskStatusRunning
}

// Task represents a distributable unit of work tracked against the node registry
type Task struct {
	ID         string       `json:"id"`
	Name       string       `json:"name,omitempty"`
	Priority   TaskPriority `json:"priority"`
	Required   []Capability `json:"required,omitempty"` // capabilities the target node must offer
	Status     TaskStatus   `json:"status"`
	Spec       JobSpec      `json:"spec"`              // what an agent executes
	NodeID     string       `json:"node_id,omitempty"` // current assignment, empty while pending
	RetryCount int          `json:"retry_count"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"` // basis for staleness detection
	AssignedAt time.Time    `json:"assigned_at,omitempty"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// TaskResult records the outcome of a task's final execution.
type TaskResult struct {
	TaskID     string    `json:"task_id"`
	NodeID     string    `json:"node_id"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// NodeStatus represents the current state of a worker node
type NodeStatus string

const (
	NodeStatusAvailable   NodeStatus = "available"
	NodeStatusBusy        NodeStatus = "busy"
	NodeStatusOffline     NodeStatus = "offline"
	NodeStatusFailed      NodeStatus = "failed"
	NodeStatusMaintenance NodeStatus = "maintenance"
)

// NodeMetrics carries a node's self-reported resource utilization.
// CPU/memory/disk are fractions in [0,1]; network is raw throughput.
type NodeMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	DiskUsage   float64 `json:"disk_usage"`
	NetworkMbps float64 `json:"network_mbps"`
}

// Node represents a worker execution target with declared capabilities and
// observed health
type Node struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name,omitempty"`
	Address            string            `json:"address,omitempty"`
	Status             NodeStatus        `json:"status"`
	Capabilities       []Capability      `json:"capabilities,omitempty"`
	Labels             map[string]string `json:"labels,omitempty"`
	LastHeartbeat      time.Time         `json:"last_heartbeat"`
	CurrentLoad        int               `json:"current_load"` // count of assigned tasks
	MaxConcurrentTasks int               `json:"max_concurrent_tasks"`
	Metrics            NodeMetrics       `json:"metrics"`
	CreatedAt          time.Time         `json:"created_at"`
}

// IsAvailable reports whether the node can accept another task.
func (n *Node) IsAvailable() bool {
	return n.Status == NodeStatusAvailable && n.CurrentLoad < n.MaxConcurrentTasks
}

// HealthScore ranks the node in [0,1] for failover target selection: 40%
// spare task capacity, 60% spare CPU/memory headroom. Nodes that are neither
// available nor busy score zero.
func (n *Node) HealthScore() float64 {
	if n.Status != NodeStatusAvailable && n.Status != NodeStatusBusy {
		return 0
	}
	var loadRatio float64
	if n.MaxConcurrentTasks > 0 {
		loadRatio = float64(n.CurrentLoad) / float64(n.MaxConcurrentTasks)
	}
	capacityScore := 1.0 - loadRatio
	resourceScore := 1.0 - (n.Metrics.CPUUsage+n.Metrics.MemoryUsage)/2
	return 0.4*capacityScore + 0.6*resourceScore
}

// HasCapabilities reports whether the node offers every required capability.
func (n *Node) HasCapabilities(required []Capability) bool {
	for _, req := range required {
		found := false
		for _, c := range n.Capabilities {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ApplyMetrics records a metrics sample and flips the available/busy
// sub-state at the 0.9 utilization threshold on either CPU or memory.
// Offline, failed, and maintenance nodes keep their status untouched.
func (n *Node) ApplyMetrics(m NodeMetrics) {
	n.Metrics = m
	switch n.Status {
	case NodeStatusAvailable:
		if m.CPUUsage > 0.9 || m.MemoryUsage > 0.9 {
			n.Status = NodeStatusBusy
		}
	case NodeStatusBusy:
		if m.CPUUsage <= 0.9 && m.MemoryUsage <= 0.9 {
			n.Status = NodeStatusAvailable
		}
	}
}
