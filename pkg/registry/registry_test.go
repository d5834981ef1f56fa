package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

func testNode(id string, caps ...types.Capability) *types.Node {
	return &types.Node{
		ID:                 id,
		Name:               id,
		Address:            "10.0.0.1:7421",
		Capabilities:       caps,
		MaxConcurrentTasks: 10,
	}
}

// TestRegisterDefaults tests id assignment and registration defaults
func TestRegisterDefaults(t *testing.T) {
	r := New(Config{})

	node := &types.Node{Name: "worker-a"}
	require.NoError(t, r.Register(node))

	assert.NotEmpty(t, node.ID)
	assert.Equal(t, types.NodeStatusAvailable, node.Status)
	assert.Equal(t, types.DefaultMaxConcurrentTasks, node.MaxConcurrentTasks)
	assert.False(t, node.LastHeartbeat.IsZero())
	assert.False(t, node.CreatedAt.IsZero())
	assert.Equal(t, 1, r.Len())
}

// TestRegisterRejectsUnknownCapability tests the fixed capability vocabulary
func TestRegisterRejectsUnknownCapability(t *testing.T) {
	r := New(Config{})

	node := testNode("bad-caps", types.Capability("quantum"))
	err := r.Register(node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum")
	assert.Zero(t, r.Len())
}

// TestReRegisterResetsLoad tests that a returning node starts with zero load
// but keeps its original join time
func TestReRegisterResetsLoad(t *testing.T) {
	r := New(Config{})

	first := testNode("worker-1", types.CapabilityCompute)
	require.NoError(t, r.Register(first))
	joined := first.CreatedAt
	require.NoError(t, r.AdjustLoad("worker-1", 3))

	again := testNode("worker-1", types.CapabilityCompute, types.CapabilityGPU)
	require.NoError(t, r.Register(again))

	got, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Zero(t, got.CurrentLoad)
	assert.Equal(t, joined, got.CreatedAt)
	assert.Contains(t, got.Capabilities, types.CapabilityGPU)
}

// TestRemove tests node departure
func TestRemove(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register(testNode("worker-1")))

	require.NoError(t, r.Remove("worker-1"))
	assert.Zero(t, r.Len())

	assert.ErrorIs(t, r.Remove("worker-1"), types.ErrNodeNotFound)
	_, err := r.Get("worker-1")
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}

// TestHeartbeatTouchAndRecovery tests liveness updates and the
// offline-to-available recovery path
func TestHeartbeatTouchAndRecovery(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register(testNode("worker-1")))

	assert.False(t, r.Heartbeat("stranger", time.Now()), "unknown node must not be accepted")

	at := time.Now().Add(time.Second)
	require.True(t, r.Heartbeat("worker-1", at))
	got, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, at, got.LastHeartbeat)
	assert.Equal(t, types.NodeStatusAvailable, got.Status)

	require.NoError(t, r.SetStatus("worker-1", types.NodeStatusOffline))
	require.True(t, r.Heartbeat("worker-1", time.Now()))

	got, err = r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusAvailable, got.Status, "resumed heartbeat recovers an offline node")
}

// TestHeartbeatDoesNotRecoverFailed tests that only offline nodes recover
// via heartbeat
func TestHeartbeatDoesNotRecoverFailed(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register(testNode("worker-1")))
	require.NoError(t, r.SetStatus("worker-1", types.NodeStatusFailed))

	require.True(t, r.Heartbeat("worker-1", time.Now()))

	got, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusFailed, got.Status)
}

// TestUpdateMetricsFlipsUtilizationState tests the 0.9 threshold on the
// available/busy sub-state
func TestUpdateMetricsFlipsUtilizationState(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register(testNode("worker-1")))

	require.NoError(t, r.UpdateMetrics("worker-1", types.NodeMetrics{CPUUsage: 0.95, MemoryUsage: 0.3}))
	got, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusBusy, got.Status)

	require.NoError(t, r.UpdateMetrics("worker-1", types.NodeMetrics{CPUUsage: 0.4, MemoryUsage: 0.3}))
	got, err = r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusAvailable, got.Status)

	assert.ErrorIs(t, r.UpdateMetrics("stranger", types.NodeMetrics{}), types.ErrNodeNotFound)
}

// TestAdjustLoadClampsAtZero tests load bookkeeping
func TestAdjustLoadClampsAtZero(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register(testNode("worker-1")))

	require.NoError(t, r.AdjustLoad("worker-1", 2))
	require.NoError(t, r.AdjustLoad("worker-1", -5))

	got, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Zero(t, got.CurrentLoad, "load never goes negative")
}

// TestBestNode tests failover target selection
func TestBestNode(t *testing.T) {
	r := New(Config{})

	healthy := testNode("healthy", types.CapabilityCompute)
	require.NoError(t, r.Register(healthy))
	require.NoError(t, r.UpdateMetrics("healthy", types.NodeMetrics{CPUUsage: 0.1, MemoryUsage: 0.1}))

	loaded := testNode("loaded", types.CapabilityCompute, types.CapabilityGPU)
	require.NoError(t, r.Register(loaded))
	require.NoError(t, r.AdjustLoad("loaded", 9))
	require.NoError(t, r.UpdateMetrics("loaded", types.NodeMetrics{CPUUsage: 0.8, MemoryUsage: 0.8}))

	best, err := r.BestNode([]types.Capability{types.CapabilityCompute})
	require.NoError(t, err)
	assert.Equal(t, "healthy", best.ID, "higher health score wins")

	best, err = r.BestNode([]types.Capability{types.CapabilityGPU})
	require.NoError(t, err)
	assert.Equal(t, "loaded", best.ID, "capability requirement narrows the field")

	_, err = r.BestNode([]types.Capability{types.CapabilityPrivileged})
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}

// TestBestNodeSkipsUnavailable tests that full and offline nodes are never
// selected
func TestBestNodeSkipsUnavailable(t *testing.T) {
	r := New(Config{})

	full := testNode("full", types.CapabilityCompute)
	require.NoError(t, r.Register(full))
	require.NoError(t, r.AdjustLoad("full", 10))

	offline := testNode("offline", types.CapabilityCompute)
	require.NoError(t, r.Register(offline))
	require.NoError(t, r.SetStatus("offline", types.NodeStatusOffline))

	_, err := r.BestNode(nil)
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}

// TestListOrdering tests stable listing
func TestListOrdering(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register(testNode("zulu")))
	require.NoError(t, r.Register(testNode("alpha")))
	require.NoError(t, r.Register(testNode("mike")))

	nodes := r.List()
	require.Len(t, nodes, 3)
	assert.Equal(t, "alpha", nodes[0].ID)
	assert.Equal(t, "mike", nodes[1].ID)
	assert.Equal(t, "zulu", nodes[2].ID)
}

// TestRestoreMarksOffline tests startup restoration semantics
func TestRestoreMarksOffline(t *testing.T) {
	r := New(Config{})

	active := testNode("was-active")
	active.Status = types.NodeStatusAvailable
	r.Restore(active)

	maint := testNode("in-maintenance")
	maint.Status = types.NodeStatusMaintenance
	r.Restore(maint)

	got, err := r.Get("was-active")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, got.Status, "liveness is unknown after a restart")

	got, err = r.Get("in-maintenance")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusMaintenance, got.Status, "operator-set maintenance survives restarts")
}

// TestSnapshotsAreCopies tests that returned nodes do not alias registry state
func TestSnapshotsAreCopies(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.Register(testNode("worker-1", types.CapabilityCompute)))

	got, err := r.Get("worker-1")
	require.NoError(t, err)
	got.Status = types.NodeStatusFailed
	got.Capabilities[0] = types.CapabilityGPU

	fresh, err := r.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusAvailable, fresh.Status)
	assert.Equal(t, types.CapabilityCompute, fresh.Capabilities[0])
}

// TestWriteThroughPersistence tests that state changes land in the store
func TestWriteThroughPersistence(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	r := New(Config{Store: store})
	require.NoError(t, r.Register(testNode("worker-1", types.CapabilityCompute)))

	persisted, err := store.GetNode("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusAvailable, persisted.Status)

	require.NoError(t, r.SetStatus("worker-1", types.NodeStatusMaintenance))
	persisted, err = store.GetNode("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusMaintenance, persisted.Status)

	require.NoError(t, r.Remove("worker-1"))
	_, err = store.GetNode("worker-1")
	assert.ErrorIs(t, err, types.ErrNodeNotFound)
}
