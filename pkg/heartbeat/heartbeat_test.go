package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/types"
)

func newTestRegistry(t *testing.T, nodeIDs ...string) *registry.Registry {
	t.Helper()
	r := registry.New(registry.Config{})
	for _, id := range nodeIDs {
		require.NoError(t, r.Register(&types.Node{ID: id, MaxConcurrentTasks: 10}))
	}
	return r
}

// TestProcessHeartbeat tests the liveness touch path
func TestProcessHeartbeat(t *testing.T) {
	reg := newTestRegistry(t, "worker-1")
	m := New(Config{Registry: reg})

	assert.True(t, m.ProcessHeartbeat("worker-1"))
	assert.False(t, m.ProcessHeartbeat("stranger"), "unknown nodes are rejected")
}

// TestProcessHeartbeatRecoversOffline tests offline-to-available recovery
func TestProcessHeartbeatRecoversOffline(t *testing.T) {
	reg := newTestRegistry(t, "worker-1")
	require.NoError(t, reg.SetStatus("worker-1", types.NodeStatusOffline))

	m := New(Config{Registry: reg})
	require.True(t, m.ProcessHeartbeat("worker-1"))

	node, err := reg.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusAvailable, node.Status)
}

// TestCheckHeartbeatsMarksExpiredOffline tests the two-pass timeout scan
func TestCheckHeartbeatsMarksExpiredOffline(t *testing.T) {
	reg := newTestRegistry(t, "stale", "fresh")
	reg.Heartbeat("stale", time.Now().Add(-2*time.Minute))
	reg.Heartbeat("fresh", time.Now())

	m := New(Config{Registry: reg, Timeout: 30 * time.Second, ScanInterval: time.Millisecond})

	failed := m.CheckHeartbeats()
	assert.Equal(t, []string{"stale"}, failed)

	node, err := reg.Get("stale")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, node.Status)

	node, err = reg.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusAvailable, node.Status)
}

// TestCheckHeartbeatsSkipsNonLiveStates tests that offline, failed, and
// maintenance nodes are not collected again
func TestCheckHeartbeatsSkipsNonLiveStates(t *testing.T) {
	reg := newTestRegistry(t, "offline", "failed", "maintenance")
	for _, id := range []string{"offline", "failed", "maintenance"} {
		reg.Heartbeat(id, time.Now().Add(-time.Hour))
	}
	require.NoError(t, reg.SetStatus("offline", types.NodeStatusOffline))
	require.NoError(t, reg.SetStatus("failed", types.NodeStatusFailed))
	require.NoError(t, reg.SetStatus("maintenance", types.NodeStatusMaintenance))

	m := New(Config{Registry: reg, Timeout: time.Second, ScanInterval: time.Millisecond})

	assert.Empty(t, m.CheckHeartbeats())
}

// TestCheckHeartbeatsRateLimited tests the scan interval gate
func TestCheckHeartbeatsRateLimited(t *testing.T) {
	reg := newTestRegistry(t, "stale")
	reg.Heartbeat("stale", time.Now().Add(-time.Hour))

	m := New(Config{Registry: reg, Timeout: time.Second, ScanInterval: time.Hour})

	assert.Equal(t, []string{"stale"}, m.CheckHeartbeats(), "first scan passes the gate")
	assert.Nil(t, m.CheckHeartbeats(), "immediate rescan is gated")
}

// TestMonitorLoopInvokesOnFailure tests the background loop end to end
func TestMonitorLoopInvokesOnFailure(t *testing.T) {
	reg := newTestRegistry(t, "worker-1")
	reg.Heartbeat("worker-1", time.Now().Add(-time.Minute))

	var mu sync.Mutex
	var reported []string
	m := New(Config{
		Registry:     reg,
		Timeout:      10 * time.Millisecond,
		ScanInterval: 10 * time.Millisecond,
		OnFailure: func(ids []string) {
			mu.Lock()
			reported = append(reported, ids...)
			mu.Unlock()
		},
	})

	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 1 && reported[0] == "worker-1"
	}, 2*time.Second, 5*time.Millisecond)

	node, err := reg.Get("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, node.Status)
}

// TestDefaults tests configuration defaulting
func TestDefaults(t *testing.T) {
	m := New(Config{Registry: registry.New(registry.Config{})})
	assert.Equal(t, DefaultTimeout, m.Timeout())
	assert.Equal(t, DefaultScanInterval, m.scanInterval)
}
