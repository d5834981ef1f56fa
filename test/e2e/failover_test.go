package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/types"
	"github.com/droverd/drover/test/framework"
)

const (
	waitFor = 20 * time.Second
	tick    = 25 * time.Millisecond
)

func newCluster(t *testing.T, cfg framework.ClusterConfig) *framework.Cluster {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	cluster, err := framework.NewCluster(cfg)
	require.NoError(t, err)
	t.Cleanup(cluster.Cleanup)
	return cluster
}

// TestNodeCrashReschedulesTask kills the worker a task runs on and expects
// the task to come back up on the surviving one.
func TestNodeCrashReschedulesTask(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	cluster := newCluster(t, framework.ClusterConfig{
		Workers:          2,
		HeartbeatTimeout: 400 * time.Millisecond,
		ScanInterval:     100 * time.Millisecond,
		DispatchInterval: 100 * time.Millisecond,
		Strategy:         "immediate",
		MaxRetries:       3,
	})
	ctx := context.Background()

	task, err := cluster.Client.SubmitTask(ctx, api.SubmitTaskRequest{
		Name:     "long-haul",
		Priority: "high",
		Path:     "/bin/sleep",
		Args:     []string{"300"},
	})
	require.NoError(t, err)

	var firstNode string
	require.Eventually(t, func() bool {
		got, err := cluster.Client.GetTask(ctx, task.ID)
		if err != nil || got.Status != types.TaskStatusRunning {
			return false
		}
		firstNode = got.NodeID
		return true
	}, waitFor, tick, "task never started")

	require.NoError(t, cluster.CrashWorker(firstNode))

	// The liveness monitor flags the node, the failover engine requeues the
	// task and the dispatcher lands it on the survivor.
	require.Eventually(t, func() bool {
		got, err := cluster.Client.GetTask(ctx, task.ID)
		if err != nil {
			return false
		}
		return got.Status == types.TaskStatusRunning && got.NodeID != firstNode
	}, waitFor, tick, "task was not rescheduled")

	got, err := cluster.Client.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.RetryCount)

	dead, err := cluster.Client.GetNode(ctx, firstNode)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusOffline, dead.Status)
}

// TestDrainMovesWorkToSurvivor drains a busy node and expects its task to
// finish on the other worker without burning retry budget.
func TestDrainMovesWorkToSurvivor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	cluster := newCluster(t, framework.ClusterConfig{
		Workers:          2,
		DispatchInterval: 100 * time.Millisecond,
	})
	ctx := context.Background()

	task, err := cluster.Client.SubmitTask(ctx, api.SubmitTaskRequest{
		Name: "movable",
		Path: "/bin/sleep",
		Args: []string{"300"},
	})
	require.NoError(t, err)

	var busyNode string
	require.Eventually(t, func() bool {
		got, err := cluster.Client.GetTask(ctx, task.ID)
		if err != nil || got.Status != types.TaskStatusRunning {
			return false
		}
		busyNode = got.NodeID
		return true
	}, waitFor, tick, "task never started")

	resp, err := cluster.Client.DrainNode(ctx, busyNode)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Rescheduled)

	require.Eventually(t, func() bool {
		got, err := cluster.Client.GetTask(ctx, task.ID)
		if err != nil {
			return false
		}
		return got.Status == types.TaskStatusRunning && got.NodeID != busyNode
	}, waitFor, tick, "task did not move off the drained node")

	got, err := cluster.Client.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.RetryCount, "drain must not consume retry budget")

	drained, err := cluster.Client.GetNode(ctx, busyNode)
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusMaintenance, drained.Status)
}

// TestBatchCompletesAcrossWorkers pushes a batch of short tasks through the
// whole stack and expects every result to land.
func TestBatchCompletesAcrossWorkers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	cluster := newCluster(t, framework.ClusterConfig{
		Workers:           2,
		MaxTasksPerWorker: 4,
		DispatchInterval:  100 * time.Millisecond,
	})
	ctx := context.Background()

	const batch = 8
	ids := make([]string, 0, batch)
	for i := 0; i < batch; i++ {
		task, err := cluster.Client.SubmitTask(ctx, api.SubmitTaskRequest{
			Name: "batch-item",
			Path: "/bin/echo",
			Args: []string{"done"},
		})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			got, err := cluster.Client.GetTask(ctx, id)
			if err != nil || got.Status != types.TaskStatusCompleted {
				return false
			}
		}
		return true
	}, waitFor, tick, "batch did not complete")

	workers := map[string]bool{}
	for _, id := range cluster.WorkerIDs() {
		workers[id] = true
	}
	for _, id := range ids {
		result, err := cluster.Client.GetTaskResult(ctx, id)
		require.NoError(t, err)
		require.Zero(t, result.ExitCode)
		require.True(t, workers[result.NodeID], "result from unknown node %s", result.NodeID)
	}

	// Slots free up once everything is done.
	require.Eventually(t, func() bool {
		nodes, err := cluster.Client.ListNodes(ctx, "")
		if err != nil {
			return false
		}
		for _, node := range nodes {
			if node.CurrentLoad != 0 {
				return false
			}
		}
		return true
	}, waitFor, tick, "node load never drained")
}
