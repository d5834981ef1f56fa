package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/tasks"
	"github.com/droverd/drover/pkg/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newHarness(t *testing.T) (*registry.Registry, *tasks.Tracker) {
	t.Helper()
	reg := registry.New(registry.Config{})
	return reg, tasks.New(tasks.Config{Registry: reg})
}

func addNode(t *testing.T, reg *registry.Registry, id string, maxTasks int, caps ...types.Capability) {
	t.Helper()
	require.NoError(t, reg.Register(&types.Node{
		ID:                 id,
		Capabilities:       caps,
		MaxConcurrentTasks: maxTasks,
	}))
}

func testTask(id string, priority types.TaskPriority, required ...types.Capability) *types.Task {
	return &types.Task{
		ID:       id,
		Priority: priority,
		Required: required,
		Spec:     types.JobSpec{Path: "/usr/bin/work"},
	}
}

// TestDispatchAssignsPendingTasks tests that a cycle drains the queue onto nodes
func TestDispatchAssignsPendingTasks(t *testing.T) {
	reg, tr := newHarness(t)
	addNode(t, reg, "node-1", 4)

	require.NoError(t, tr.Add(testTask("t1", types.TaskPriorityNormal)))
	require.NoError(t, tr.Add(testTask("t2", types.TaskPriorityNormal)))
	require.NoError(t, tr.Add(testTask("t3", types.TaskPriorityNormal)))

	d := New(Config{Registry: reg, Tracker: tr})
	assert.Equal(t, 3, d.Dispatch())
	assert.Equal(t, 0, tr.PendingCount())

	for _, id := range []string{"t1", "t2", "t3"} {
		task, err := tr.Get(id)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusAssigned, task.Status)
		assert.Equal(t, "node-1", task.NodeID)
	}

	node, err := reg.Get("node-1")
	require.NoError(t, err)
	assert.Equal(t, 3, node.CurrentLoad)
}

// TestDispatchPriorityWinsScarceCapacity tests that the highest priority task
// takes the last slot and the rest stay pending
func TestDispatchPriorityWinsScarceCapacity(t *testing.T) {
	reg, tr := newHarness(t)
	addNode(t, reg, "node-1", 1)

	require.NoError(t, tr.Add(testTask("background", types.TaskPriorityLow)))
	require.NoError(t, tr.Add(testTask("urgent", types.TaskPriorityCritical)))

	d := New(Config{Registry: reg, Tracker: tr})
	assert.Equal(t, 1, d.Dispatch())

	urgent, err := tr.Get("urgent")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusAssigned, urgent.Status)

	background, err := tr.Get("background")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, background.Status)
	assert.Equal(t, 1, tr.PendingCount())
}

// TestDispatchUnplacedTasksKeepOrder tests that requeued tasks keep their
// submission order across cycles
func TestDispatchUnplacedTasksKeepOrder(t *testing.T) {
	reg, tr := newHarness(t)
	addNode(t, reg, "node-1", 1)

	require.NoError(t, tr.Add(testTask("first", types.TaskPriorityNormal)))
	require.NoError(t, tr.Add(testTask("second", types.TaskPriorityNormal)))
	require.NoError(t, tr.Add(testTask("third", types.TaskPriorityNormal)))

	d := New(Config{Registry: reg, Tracker: tr})
	assert.Equal(t, 1, d.Dispatch())

	first, err := tr.Get("first")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusAssigned, first.Status)

	// Free the slot and run another cycle: "second" must go before "third".
	require.NoError(t, tr.Complete("first", 0))
	assert.Equal(t, 1, d.Dispatch())

	second, err := tr.Get("second")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusAssigned, second.Status)

	third, err := tr.Get("third")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, third.Status)
}

// TestDispatchNoNodesKeepsPending tests that tasks survive cycles with no
// eligible node
func TestDispatchNoNodesKeepsPending(t *testing.T) {
	reg, tr := newHarness(t)

	require.NoError(t, tr.Add(testTask("stranded", types.TaskPriorityNormal)))

	d := New(Config{Registry: reg, Tracker: tr})
	assert.Equal(t, 0, d.Dispatch())
	assert.Equal(t, 1, tr.PendingCount())

	task, err := tr.Get("stranded")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, task.Status)

	// A node arriving later picks the task up on the next cycle.
	addNode(t, reg, "node-1", 2)
	assert.Equal(t, 1, d.Dispatch())
}

// TestDispatchCapabilityRouting tests that required capabilities steer
// placement
func TestDispatchCapabilityRouting(t *testing.T) {
	reg, tr := newHarness(t)
	addNode(t, reg, "a-plain", 2)
	addNode(t, reg, "b-gpu", 2, types.CapabilityGPU)

	require.NoError(t, tr.Add(testTask("render", types.TaskPriorityNormal, types.CapabilityGPU)))
	require.NoError(t, tr.Add(testTask("batch", types.TaskPriorityNormal)))

	d := New(Config{Registry: reg, Tracker: tr})
	assert.Equal(t, 2, d.Dispatch())

	render, err := tr.Get("render")
	require.NoError(t, err)
	assert.Equal(t, "b-gpu", render.NodeID)

	batch, err := tr.Get("batch")
	require.NoError(t, err)
	assert.Equal(t, "a-plain", batch.NodeID)
}

// TestCheckStaleFlagsOncePerTask tests the staleness watchdog
func TestCheckStaleFlagsOncePerTask(t *testing.T) {
	reg, tr := newHarness(t)
	addNode(t, reg, "node-1", 4)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	old := testTask("old", types.TaskPriorityNormal)
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, tr.Add(old))
	require.NoError(t, tr.Add(testTask("fresh", types.TaskPriorityNormal)))

	d := New(Config{Registry: reg, Tracker: tr, Broker: broker, StaleAfter: time.Hour})
	require.Equal(t, 2, d.Dispatch())

	flagged := d.CheckStale()
	assert.Equal(t, []string{"old"}, flagged)

	require.Eventually(t, func() bool {
		select {
		case ev := <-sub:
			return ev.Type == events.EventTaskStale && ev.TaskID == "old"
		default:
			return false
		}
	}, waitFor, tick, "expected a stale-task event")

	// Second sweep stays quiet: the task was already flagged.
	assert.Empty(t, d.CheckStale())
}

// TestCheckStaleIgnoresInactiveTasks tests that only in-flight tasks are
// flagged
func TestCheckStaleIgnoresInactiveTasks(t *testing.T) {
	reg, tr := newHarness(t)

	pending := testTask("pending-old", types.TaskPriorityNormal)
	pending.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, tr.Add(pending))

	d := New(Config{Registry: reg, Tracker: tr, StaleAfter: time.Hour})
	assert.Empty(t, d.CheckStale())

	// Once assigned the task becomes eligible; once finished it never is.
	addNode(t, reg, "node-1", 2)
	require.Equal(t, 1, d.Dispatch())
	require.NoError(t, tr.Complete("pending-old", 0))
	assert.Empty(t, d.CheckStale())
}

// TestDispatcherRunLoop tests the background loop end to end
func TestDispatcherRunLoop(t *testing.T) {
	reg, tr := newHarness(t)
	addNode(t, reg, "node-1", 2)

	d := New(Config{Registry: reg, Tracker: tr, Interval: 10 * time.Millisecond})
	d.Start()
	defer d.Stop()

	require.NoError(t, tr.Add(testTask("looped", types.TaskPriorityNormal)))

	require.Eventually(t, func() bool {
		task, err := tr.Get("looped")
		return err == nil && task.Status == types.TaskStatusAssigned
	}, waitFor, tick, "run loop should assign the task")
}

// TestDispatcherDefaults tests config defaulting
func TestDispatcherDefaults(t *testing.T) {
	reg, tr := newHarness(t)
	d := New(Config{Registry: reg, Tracker: tr})

	assert.Equal(t, DefaultInterval, d.interval)
	assert.Equal(t, DefaultStaleAfter, d.staleAfter)
}
