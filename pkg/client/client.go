package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/droverd/drover/pkg/api"
	"github.com/droverd/drover/pkg/types"
)

// DefaultTimeout bounds a single API call when the caller's context carries
// no deadline of its own.
const DefaultTimeout = 30 * time.Second

// Client talks to a drover manager over its REST API. All methods take a
// context; cancellation aborts the underlying request.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404. Agents use
// it to tell "re-register" apart from transport trouble.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

// New creates a client for the manager at baseURL, e.g.
// "http://127.0.0.1:7420".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// do issues one JSON request. in is marshaled as the body when non-nil; out
// is filled from the response when non-nil. Non-2xx responses come back as
// *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var envelope struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(raw, &envelope); jsonErr != nil || envelope.Error == "" {
			envelope.Error = string(raw)
		}
		return &APIError{Status: resp.StatusCode, Message: envelope.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// withStatus appends a ?status= query when filter is non-empty.
func withStatus(path, filter string) string {
	if filter == "" {
		return path
	}
	return path + "?status=" + url.QueryEscape(filter)
}

// SubmitJob queues a job on the manager's local scheduler.
func (c *Client) SubmitJob(ctx context.Context, req api.SubmitJobRequest) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one job with its captured output.
func (c *Client) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, optionally narrowed to one status.
func (c *Client) ListJobs(ctx context.Context, status string) ([]types.Job, error) {
	var jobs []types.Job
	if err := c.do(ctx, http.MethodGet, withStatus("/api/v1/jobs", status), nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob cancels a job and returns its final state. Cancelling an
// already-terminal job succeeds without changing it.
func (c *Client) CancelJob(ctx context.Context, id string) (*types.Job, error) {
	var job types.Job
	if err := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateGroup creates a job group.
func (c *Client) CreateGroup(ctx context.Context, req api.CreateGroupRequest) (*types.JobGroup, error) {
	var g types.JobGroup
	if err := c.do(ctx, http.MethodPost, "/api/v1/groups", req, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGroup fetches a group by id or name.
func (c *Client) GetGroup(ctx context.Context, idOrName string) (*types.JobGroup, error) {
	var g types.JobGroup
	if err := c.do(ctx, http.MethodGet, "/api/v1/groups/"+url.PathEscape(idOrName), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups lists all job groups.
func (c *Client) ListGroups(ctx context.Context) ([]types.JobGroup, error) {
	var groups []types.JobGroup
	if err := c.do(ctx, http.MethodGet, "/api/v1/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// DeleteGroup removes a group; member jobs are untouched.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/groups/"+url.PathEscape(id), nil, nil)
}

// AddJobToGroup adds a job id to a group and returns the updated group.
func (c *Client) AddJobToGroup(ctx context.Context, groupID, jobID string) (*types.JobGroup, error) {
	var g types.JobGroup
	path := "/api/v1/groups/" + url.PathEscape(groupID) + "/jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodPost, path, nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// RemoveJobFromGroup drops a job id from a group.
func (c *Client) RemoveJobFromGroup(ctx context.Context, groupID, jobID string) error {
	path := "/api/v1/groups/" + url.PathEscape(groupID) + "/jobs/" + url.PathEscape(jobID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SubmitTask submits a distributable task for placement.
func (c *Client) SubmitTask(ctx context.Context, req api.SubmitTaskRequest) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists tasks, optionally narrowed to one status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]types.Task, error) {
	var tasks []types.Task
	if err := c.do(ctx, http.MethodGet, withStatus("/api/v1/tasks", status), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTaskResult fetches the terminal outcome of a task.
func (c *Client) GetTaskResult(ctx context.Context, id string) (*types.TaskResult, error) {
	var result types.TaskResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id)+"/result", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryTask requeues a terminal task with a fresh retry budget.
func (c *Client) RetryTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/retry", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ReportTaskStatus sends an agent progress report for a task.
func (c *Client) ReportTaskStatus(ctx context.Context, id string, req api.ReportTaskStatusRequest) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodPut, "/api/v1/tasks/"+url.PathEscape(id)+"/status", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RegisterNode enrolls a node; the request must carry the cluster join
// token.
func (c *Client) RegisterNode(ctx context.Context, req api.RegisterNodeRequest) (*types.Node, error) {
	var node types.Node
	if err := c.do(ctx, http.MethodPost, "/api/v1/nodes/register", req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Heartbeat reports liveness for a node. known=false means the manager no
// longer recognizes the node and the agent must re-register.
func (c *Client) Heartbeat(ctx context.Context, nodeID string, req api.HeartbeatRequest) (bool, error) {
	var resp api.HeartbeatResponse
	path := "/api/v1/nodes/" + url.PathEscape(nodeID) + "/heartbeat"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return false, err
	}
	return resp.Known, nil
}

// ListNodes lists nodes, optionally narrowed to one status.
func (c *Client) ListNodes(ctx context.Context, status string) ([]types.Node, error) {
	var nodes []types.Node
	if err := c.do(ctx, http.MethodGet, withStatus("/api/v1/nodes", status), nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNode fetches one node.
func (c *Client) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var node types.Node
	if err := c.do(ctx, http.MethodGet, "/api/v1/nodes/"+url.PathEscape(id), nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// SetNodeStatus forces a node into the given lifecycle state.
func (c *Client) SetNodeStatus(ctx context.Context, id, status string) (*types.Node, error) {
	var node types.Node
	path := "/api/v1/nodes/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, http.MethodPut, path, api.SetNodeStatusRequest{Status: status}, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// DrainNode forces failover off a node and reports how many tasks went
// back to the queue.
func (c *Client) DrainNode(ctx context.Context, id string) (*api.DrainResponse, error) {
	var resp api.DrainResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/nodes/"+url.PathEscape(id)+"/drain", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveNode decommissions a node; its tasks are reclaimed first.
func (c *Client) RemoveNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/nodes/"+url.PathEscape(id), nil, nil)
}

// NodeTasks fetches the active assignments for a node. Agents poll this;
// IsNotFound on the returned error signals a required re-registration.
func (c *Client) NodeTasks(ctx context.Context, nodeID string) ([]types.Task, error) {
	var tasks []types.Task
	path := "/api/v1/nodes/" + url.PathEscape(nodeID) + "/tasks"
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ClusterSummary fetches the live cluster overview.
func (c *Client) ClusterSummary(ctx context.Context) (*api.ClusterSummaryResponse, error) {
	var summary api.ClusterSummaryResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// JoinToken fetches the current cluster join token.
func (c *Client) JoinToken(ctx context.Context) (string, error) {
	var resp api.JoinTokenResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster/token", nil, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// RotateJoinToken replaces the join token and returns the new one.
func (c *Client) RotateJoinToken(ctx context.Context) (string, error) {
	var resp api.JoinTokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/cluster/token/rotate", nil, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Healthz fetches the combined health and cluster probe.
func (c *Client) Healthz(ctx context.Context) (*api.HealthzResponse, error) {
	var resp api.HealthzResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
