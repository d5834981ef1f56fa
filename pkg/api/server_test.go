package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/config"
	"github.com/droverd/drover/pkg/manager"
	"github.com/droverd/drover/pkg/types"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// newTestServer builds an API server over a real manager backed by a
// throwaway store. Background loops stay off; the inline paths cover
// everything these tests exercise.
func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	mgr, err := manager.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Stop() })

	return NewServer(mgr), mgr
}

// doJSON performs a request against the server's handler and returns the
// recorder.
func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a recorded JSON body into out.
func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// registerNode enrolls a node through the public route using the real join
// token and returns its id.
func registerNode(t *testing.T, s *Server, mgr *manager.Manager, name string, maxTasks int, caps ...string) string {
	t.Helper()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/nodes/register", RegisterNodeRequest{
		Token:        mgr.JoinToken(),
		Name:         name,
		Address:      "127.0.0.1:9000",
		Capabilities: caps,
		MaxTasks:     maxTasks,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var node types.Node
	decode(t, rec, &node)
	require.NotEmpty(t, node.ID)
	return node.ID
}

// TestSubmitJobRoundTrip tests submitting a job over HTTP and reading it
// back once it completes.
func TestSubmitJobRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{
		Name:     "greeter",
		Path:     "/bin/echo",
		Args:     []string{"hello"},
		Priority: 5,
		Timeout:  "30s",
		Labels:   map[string]string{"team": "infra"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job types.Job
	decode(t, rec, &job)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "greeter", job.Name)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, 30*time.Second, job.Spec.Timeout)

	assert.Eventually(t, func() bool {
		got := doJSON(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
		if got.Code != http.StatusOK {
			return false
		}
		var j types.Job
		if err := json.Unmarshal(got.Body.Bytes(), &j); err != nil {
			return false
		}
		return j.Status == types.JobStatusCompleted &&
			strings.Contains(string(j.Stdout), "hello")
	}, waitFor, tick)
}

// TestSubmitJobValidation tests the 400 paths on job submission.
func TestSubmitJobValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing path", `{"name":"nopath"}`},
		{"bad timeout", `{"path":"/bin/echo","timeout":"soon"}`},
		{"malformed json", `{"name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorBody
			decode(t, rec, &body)
			assert.NotEmpty(t, body.Error)
		})
	}
}

// TestListJobsStatusFilter tests the ?status= query on the job listing.
func TestListJobsStatusFilter(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{Path: "/bin/echo", Args: []string{"x"}})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	assert.Eventually(t, func() bool {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs?status=completed", nil)
		var jobs []types.Job
		if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
			return false
		}
		return len(jobs) == 2
	}, waitFor, tick)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/jobs?status=running", nil)
	var running []types.Job
	decode(t, rec, &running)
	assert.Empty(t, running)
}

// TestCancelJob tests cancelling a running job over HTTP and that a second
// cancel on the now-terminal job stays a no-op.
func TestCancelJob(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/jobs", SubmitJobRequest{Path: "/bin/sleep", Args: []string{"30"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job types.Job
	decode(t, rec, &job)

	del := doJSON(t, s, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, del.Code)

	assert.Eventually(t, func() bool {
		got := doJSON(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
		var j types.Job
		if err := json.Unmarshal(got.Body.Bytes(), &j); err != nil {
			return false
		}
		return j.Status == types.JobStatusCancelled
	}, waitFor, tick)

	// Terminal job: cancel again is accepted and changes nothing.
	again := doJSON(t, s, http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, again.Code)
	var final types.Job
	decode(t, again, &final)
	assert.Equal(t, types.JobStatusCancelled, final.Status)
}

// TestGroupLifecycle tests group CRUD and membership over HTTP.
func TestGroupLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/groups", CreateGroupRequest{
		Name:     "nightly",
		Priority: 30,
		Tags:     map[string]string{"env": "ci"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g types.JobGroup
	decode(t, rec, &g)
	require.NotEmpty(t, g.ID)

	// Lookup works by id and by name.
	byID := doJSON(t, s, http.MethodGet, "/api/v1/groups/"+g.ID, nil)
	assert.Equal(t, http.StatusOK, byID.Code)
	byName := doJSON(t, s, http.MethodGet, "/api/v1/groups/nightly", nil)
	assert.Equal(t, http.StatusOK, byName.Code)

	// Membership: add twice is one member, then remove.
	add := doJSON(t, s, http.MethodPost, "/api/v1/groups/"+g.ID+"/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, add.Code)
	add = doJSON(t, s, http.MethodPost, "/api/v1/groups/"+g.ID+"/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, add.Code)
	var after types.JobGroup
	decode(t, add, &after)
	assert.Equal(t, []string{"job-1"}, after.JobIDs)

	rm := doJSON(t, s, http.MethodDelete, "/api/v1/groups/"+g.ID+"/jobs/job-1", nil)
	assert.Equal(t, http.StatusNoContent, rm.Code)

	del := doJSON(t, s, http.MethodDelete, "/api/v1/groups/"+g.ID, nil)
	assert.Equal(t, http.StatusNoContent, del.Code)
	gone := doJSON(t, s, http.MethodGet, "/api/v1/groups/"+g.ID, nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)

	// Empty name never creates anything.
	bad := doJSON(t, s, http.MethodPost, "/api/v1/groups", CreateGroupRequest{})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

// TestTaskFlow tests the agent-facing task lifecycle end to end: submit,
// inline placement, progress reports and the stored result.
func TestTaskFlow(t *testing.T) {
	s, mgr := newTestServer(t)
	nodeID := registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{
		Name:     "crunch",
		Priority: "high",
		Path:     "/usr/local/bin/crunch",
		Args:     []string{"--all"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task types.Task
	decode(t, rec, &task)
	assert.Equal(t, types.TaskStatusAssigned, task.Status)
	assert.Equal(t, nodeID, task.NodeID)

	// The agent sees it on its poll route.
	poll := doJSON(t, s, http.MethodGet, "/api/v1/nodes/"+nodeID+"/tasks", nil)
	require.Equal(t, http.StatusOK, poll.Code)
	var assigned []types.Task
	decode(t, poll, &assigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, task.ID, assigned[0].ID)

	// Progress reports walk the task to completed.
	up := doJSON(t, s, http.MethodPut, "/api/v1/tasks/"+task.ID+"/status",
		ReportTaskStatusRequest{Status: "running"})
	require.Equal(t, http.StatusOK, up.Code)

	up = doJSON(t, s, http.MethodPut, "/api/v1/tasks/"+task.ID+"/status",
		ReportTaskStatusRequest{Status: "completed", ExitCode: 0})
	require.Equal(t, http.StatusOK, up.Code)
	var done types.Task
	decode(t, up, &done)
	assert.Equal(t, types.TaskStatusCompleted, done.Status)

	res := doJSON(t, s, http.MethodGet, "/api/v1/tasks/"+task.ID+"/result", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var result types.TaskResult
	decode(t, res, &result)
	assert.Equal(t, nodeID, result.NodeID)
	assert.Equal(t, 0, result.ExitCode)

	list := doJSON(t, s, http.MethodGet, "/api/v1/tasks?status=completed", nil)
	var completed []types.Task
	decode(t, list, &completed)
	assert.Len(t, completed, 1)
}

// TestReportTaskStatusRejectsPending tests that agents cannot report a
// backwards transition.
func TestReportTaskStatusRejectsPending(t *testing.T) {
	s, mgr := newTestServer(t)
	registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Path: "/bin/true"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var task types.Task
	decode(t, rec, &task)

	up := doJSON(t, s, http.MethodPut, "/api/v1/tasks/"+task.ID+"/status",
		ReportTaskStatusRequest{Status: "pending"})
	assert.Equal(t, http.StatusBadRequest, up.Code)
}

// TestRetryTask tests operator requeue of a terminal task and rejection
// while the task is still in flight.
func TestRetryTask(t *testing.T) {
	s, mgr := newTestServer(t)
	registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Path: "/bin/true"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var task types.Task
	decode(t, rec, &task)

	// Still assigned: retry must refuse.
	retry := doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+task.ID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, retry.Code)

	up := doJSON(t, s, http.MethodPut, "/api/v1/tasks/"+task.ID+"/status",
		ReportTaskStatusRequest{Status: "canceled"})
	require.Equal(t, http.StatusOK, up.Code)

	retry = doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+task.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, retry.Code)
	var requeued types.Task
	decode(t, retry, &requeued)
	assert.Equal(t, types.TaskStatusAssigned, requeued.Status) // node is free again
	assert.Zero(t, requeued.RetryCount)
}

// TestRegisterNodeAuth tests the join-token gate on registration.
func TestRegisterNodeAuth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/nodes/register", RegisterNodeRequest{
		Token: "forged",
		Name:  "intruder",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	assert.Contains(t, body.Error, "join token")

	list := doJSON(t, s, http.MethodGet, "/api/v1/nodes", nil)
	var nodes []types.Node
	decode(t, list, &nodes)
	assert.Empty(t, nodes)
}

// TestRegisterNodeDefaults tests capability defaulting on enrollment.
func TestRegisterNodeDefaults(t *testing.T) {
	s, mgr := newTestServer(t)
	nodeID := registerNode(t, s, mgr, "plain", 0)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/nodes/"+nodeID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var node types.Node
	decode(t, rec, &node)
	assert.Equal(t, []types.Capability{types.CapabilityCompute}, node.Capabilities)
	assert.Equal(t, types.NodeStatusAvailable, node.Status)
	assert.Positive(t, node.MaxConcurrentTasks)
}

// TestHeartbeatRoute tests the known/unknown verdict and metrics ingestion.
func TestHeartbeatRoute(t *testing.T) {
	s, mgr := newTestServer(t)
	nodeID := registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/nodes/"+nodeID+"/heartbeat", HeartbeatRequest{
		Load:    0,
		Metrics: &types.NodeMetrics{CPUUsage: 0.4, MemoryUsage: 0.3},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var hb HeartbeatResponse
	decode(t, rec, &hb)
	assert.True(t, hb.Known)

	got := doJSON(t, s, http.MethodGet, "/api/v1/nodes/"+nodeID, nil)
	var node types.Node
	decode(t, got, &node)
	assert.InDelta(t, 0.4, node.Metrics.CPUUsage, 1e-9)

	// A node the manager never saw gets told to re-register.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/nodes/stranger/heartbeat", HeartbeatRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &hb)
	assert.False(t, hb.Known)
}

// TestSetNodeStatusRoute tests manual lifecycle transitions and enum
// validation.
func TestSetNodeStatusRoute(t *testing.T) {
	s, mgr := newTestServer(t)
	nodeID := registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodPut, "/api/v1/nodes/"+nodeID+"/status",
		SetNodeStatusRequest{Status: "maintenance"})
	require.Equal(t, http.StatusOK, rec.Code)
	var node types.Node
	decode(t, rec, &node)
	assert.Equal(t, types.NodeStatusMaintenance, node.Status)

	bad := doJSON(t, s, http.MethodPut, "/api/v1/nodes/"+nodeID+"/status",
		SetNodeStatusRequest{Status: "hibernating"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

// TestDrainNodeRoute tests operator drain: tasks return to pending with
// their retry budget intact and the count comes back in the response.
func TestDrainNodeRoute(t *testing.T) {
	s, mgr := newTestServer(t)
	nodeID := registerNode(t, s, mgr, "worker-1", 4)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Path: "/bin/true"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/nodes/"+nodeID+"/drain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var drain DrainResponse
	decode(t, rec, &drain)
	assert.Equal(t, 2, drain.Rescheduled)

	got := doJSON(t, s, http.MethodGet, "/api/v1/nodes/"+nodeID, nil)
	var node types.Node
	decode(t, got, &node)
	assert.Equal(t, types.NodeStatusMaintenance, node.Status)

	list := doJSON(t, s, http.MethodGet, "/api/v1/tasks?status=pending", nil)
	var pending []types.Task
	decode(t, list, &pending)
	assert.Len(t, pending, 2)
	for _, task := range pending {
		assert.Zero(t, task.RetryCount)
	}
}

// TestRemoveNodeRoute tests decommissioning and the 404 that follows.
func TestRemoveNodeRoute(t *testing.T) {
	s, mgr := newTestServer(t)
	nodeID := registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodDelete, "/api/v1/nodes/"+nodeID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	gone := doJSON(t, s, http.MethodGet, "/api/v1/nodes/"+nodeID, nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)

	poll := doJSON(t, s, http.MethodGet, "/api/v1/nodes/"+nodeID+"/tasks", nil)
	assert.Equal(t, http.StatusNotFound, poll.Code)
}

// TestClusterRoutes tests the summary and join-token endpoints.
func TestClusterRoutes(t *testing.T) {
	s, mgr := newTestServer(t)
	registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Path: "/bin/true"})
	require.Equal(t, http.StatusCreated, rec.Code)

	sum := doJSON(t, s, http.MethodGet, "/api/v1/cluster", nil)
	require.Equal(t, http.StatusOK, sum.Code)
	var summary ClusterSummaryResponse
	decode(t, sum, &summary)
	assert.Equal(t, 1, summary.Nodes["available"])
	assert.Equal(t, 1, summary.ActiveTasks)

	tok := doJSON(t, s, http.MethodGet, "/api/v1/cluster/token", nil)
	require.Equal(t, http.StatusOK, tok.Code)
	var token JoinTokenResponse
	decode(t, tok, &token)
	assert.Equal(t, mgr.JoinToken(), token.Token)

	rot := doJSON(t, s, http.MethodPost, "/api/v1/cluster/token/rotate", nil)
	require.Equal(t, http.StatusOK, rot.Code)
	var rotated JoinTokenResponse
	decode(t, rot, &rotated)
	assert.NotEqual(t, token.Token, rotated.Token)
	assert.Equal(t, mgr.JoinToken(), rotated.Token)
}

// TestHealthzRoute tests the combined health + cluster summary probe.
func TestHealthzRoute(t *testing.T) {
	s, mgr := newTestServer(t)
	registerNode(t, s, mgr, "worker-1", 4)

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthzResponse
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Cluster.Nodes["available"])
}

// TestMetricsRoute tests that the Prometheus exposition includes the API
// counters after traffic has passed through the middleware.
func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s, http.MethodGet, "/api/v1/jobs", nil)

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "drover_api_requests_total")
}

// TestNotFoundMapping tests the 404 mapping for every resource kind.
func TestNotFoundMapping(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"job", http.MethodGet, "/api/v1/jobs/ghost"},
		{"task", http.MethodGet, "/api/v1/tasks/ghost"},
		{"task result", http.MethodGet, "/api/v1/tasks/ghost/result"},
		{"node", http.MethodGet, "/api/v1/nodes/ghost"},
		{"group", http.MethodGet, "/api/v1/groups/ghost"},
		{"cancel", http.MethodDelete, "/api/v1/jobs/ghost"},
		{"drain", http.MethodPost, "/api/v1/nodes/ghost/drain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, tt.method, tt.path, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			var body errorBody
			decode(t, rec, &body)
			assert.NotEmpty(t, body.Error)
		})
	}
}
