package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/droverd/drover/pkg/types"
)

var (
	// Bucket names
	bucketJobs        = []byte("jobs")
	bucketJobGroups   = []byte("job_groups")
	bucketTasks       = []byte("tasks")
	bucketTaskResults = []byte("task_results")
	bucketNodes       = []byte("nodes")
	bucketRetries     = []byte("retries")
	bucketCluster     = []byte("cluster")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir and ensures all
// buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "drover.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketJobGroups,
			bucketTasks,
			bucketTaskResults,
			bucketNodes,
			bucketRetries,
			bucketCluster,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Job operations
func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job) // Same as create (upsert)
}

func (s *BoltStore) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.Delete([]byte(id))
	})
}

// Job group operations
func (s *BoltStore) CreateJobGroup(group *types.JobGroup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobGroups)
		data, err := json.Marshal(group)
		if err != nil {
			return err
		}
		return b.Put([]byte(group.ID), data)
	})
}

func (s *BoltStore) GetJobGroup(id string) (*types.JobGroup, error) {
	var group types.JobGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobGroups)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrGroupNotFound, id)
		}
		return json.Unmarshal(data, &group)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) GetJobGroupByName(name string) (*types.JobGroup, error) {
	var found *types.JobGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobGroups)
		return b.ForEach(func(k, v []byte) error {
			var group types.JobGroup
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			if group.Name == name {
				found = &group
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrGroupNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListJobGroups() ([]*types.JobGroup, error) {
	var groups []*types.JobGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobGroups)
		return b.ForEach(func(k, v []byte) error {
			var group types.JobGroup
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			groups = append(groups, &group)
			return nil
		})
	})
	return groups, err
}

func (s *BoltStore) UpdateJobGroup(group *types.JobGroup) error {
	return s.CreateJobGroup(group)
}

func (s *BoltStore) DeleteJobGroup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobGroups)
		return b.Delete([]byte(id))
	})
}

// Task operations
func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrTaskNotFound, id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByNode(nodeID string) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Task
	for _, task := range tasks {
		if task.NodeID == nodeID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListTasksByStatus(status types.TaskStatus) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Task
	for _, task := range tasks {
		if task.Status == status {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.CreateTask(task)
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.Delete([]byte(id))
	})
}

// Task result operations. Results are keyed by task id; a task has at most
// one recorded result (the latest terminal outcome).
func (s *BoltStore) PutTaskResult(result *types.TaskResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskResults)
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put([]byte(result.TaskID), data)
	})
}

func (s *BoltStore) GetTaskResult(taskID string) (*types.TaskResult, error) {
	var result types.TaskResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskResults)
		data := b.Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("%w: no result for %s", types.ErrTaskNotFound, taskID)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *BoltStore) ListTaskResults() ([]*types.TaskResult, error) {
	var results []*types.TaskResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskResults)
		return b.ForEach(func(k, v []byte) error {
			var result types.TaskResult
			if err := json.Unmarshal(v, &result); err != nil {
				return err
			}
			results = append(results, &result)
			return nil
		})
	})
	return results, err
}

func (s *BoltStore) DeleteTaskResult(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTaskResults)
		return b.Delete([]byte(taskID))
	})
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrNodeNotFound, id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Retry ledger operations. Counts are stored as decimal strings keyed by
// task id; a missing key reads as zero.
func (s *BoltStore) PutRetryCount(taskID string, count int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRetries)
		return b.Put([]byte(taskID), []byte(strconv.Itoa(count)))
	})
}

func (s *BoltStore) GetRetryCount(taskID string) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRetries)
		data := b.Get([]byte(taskID))
		if data == nil {
			return nil
		}
		n, err := strconv.Atoi(string(data))
		if err != nil {
			return fmt.Errorf("corrupt retry count for %s: %w", taskID, err)
		}
		count = n
		return nil
	})
	return count, err
}

func (s *BoltStore) ListRetryCounts() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRetries)
		return b.ForEach(func(k, v []byte) error {
			n, err := strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("corrupt retry count for %s: %w", k, err)
			}
			counts[string(k)] = n
			return nil
		})
	})
	return counts, err
}

func (s *BoltStore) DeleteRetryCount(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRetries)
		return b.Delete([]byte(taskID))
	})
}

// Cluster metadata operations. Values are plain strings (join token, schema
// version); a missing key reads as the empty string.
func (s *BoltStore) PutClusterMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCluster)
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) GetClusterMeta(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCluster)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		// Copy out: bucket data is only valid inside the transaction.
		value = string(data)
		return nil
	})
	return value, err
}
