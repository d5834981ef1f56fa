package storage

import (
	"github.com/droverd/drover/pkg/types"
)

// Store defines the interface for scheduler state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	// Job groups
	CreateJobGroup(group *types.JobGroup) error
	GetJobGroup(id string) (*types.JobGroup, error)
	GetJobGroupByName(name string) (*types.JobGroup, error)
	ListJobGroups() ([]*types.JobGroup, error)
	UpdateJobGroup(group *types.JobGroup) error
	DeleteJobGroup(id string) error

	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByNode(nodeID string) ([]*types.Task, error)
	ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	DeleteTask(id string) error

	// Task results
	PutTaskResult(result *types.TaskResult) error
	GetTaskResult(taskID string) (*types.TaskResult, error)
	ListTaskResults() ([]*types.TaskResult, error)
	DeleteTaskResult(taskID string) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Retry ledger
	PutRetryCount(taskID string, count int) error
	GetRetryCount(taskID string) (int, error)
	ListRetryCounts() (map[string]int, error)
	DeleteRetryCount(taskID string) error

	// Cluster metadata (join token, schema version)
	PutClusterMeta(key, value string) error
	GetClusterMeta(key string) (string, error)

	// Utility
	Close() error
}
