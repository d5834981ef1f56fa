package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/droverd/drover/pkg/types"
)

// RegisterNodeRequest enrolls an agent into the cluster. Token must match
// the cluster join token; capabilities default to compute when empty.
type RegisterNodeRequest struct {
	Token        string            `json:"token"`
	Name         string            `json:"name,omitempty"`
	Address      string            `json:"address,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	MaxTasks     int               `json:"max_tasks,omitempty"`
}

// HeartbeatRequest carries an agent's periodic liveness report.
type HeartbeatRequest struct {
	Load    int                `json:"load"`
	Metrics *types.NodeMetrics `json:"metrics,omitempty"`
}

// HeartbeatResponse tells the agent whether the manager still knows it.
// Known=false means the registration was lost and the agent must re-enroll.
type HeartbeatResponse struct {
	Known bool `json:"known"`
}

// SetNodeStatusRequest changes a node's lifecycle state by hand.
type SetNodeStatusRequest struct {
	Status string `json:"status"`
}

// DrainResponse reports how many tasks a drain pushed back to pending.
type DrainResponse struct {
	NodeID      string `json:"node_id"`
	Rescheduled int    `json:"rescheduled"`
}

// RegisterNode handles POST /api/v1/nodes/register.
func (s *Server) RegisterNode(c echo.Context) error {
	var req RegisterNodeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	capabilities := make([]types.Capability, len(req.Capabilities))
	for i, name := range req.Capabilities {
		capabilities[i] = types.Capability(name)
	}
	if len(capabilities) == 0 {
		capabilities = []types.Capability{types.CapabilityCompute}
	}

	node := &types.Node{
		Name:               req.Name,
		Address:            req.Address,
		Capabilities:       capabilities,
		Labels:             req.Labels,
		MaxConcurrentTasks: req.MaxTasks,
	}

	if err := s.manager.RegisterNode(node, req.Token); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, node)
}

// Heartbeat handles POST /api/v1/nodes/:id/heartbeat.
// Always answers 200; the known flag carries the verdict so agents can
// distinguish "re-register" from transport errors.
func (s *Server) Heartbeat(c echo.Context) error {
	var req HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	known := s.manager.Heartbeat(c.Param("id"), req.Load, req.Metrics)
	return c.JSON(http.StatusOK, HeartbeatResponse{Known: known})
}

// ListNodes handles GET /api/v1/nodes.
// An optional ?status= query narrows the listing.
func (s *Server) ListNodes(c echo.Context) error {
	nodes := s.manager.ListNodes()

	if filter := c.QueryParam("status"); filter != "" {
		filtered := make([]*types.Node, 0, len(nodes))
		for _, n := range nodes {
			if string(n.Status) == filter {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}

	return c.JSON(http.StatusOK, nodes)
}

// GetNode handles GET /api/v1/nodes/:id.
func (s *Server) GetNode(c echo.Context) error {
	node, err := s.manager.GetNode(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}

// SetNodeStatus handles PUT /api/v1/nodes/:id/status.
// Only the declared lifecycle states are accepted.
func (s *Server) SetNodeStatus(c echo.Context) error {
	var req SetNodeStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	status := types.NodeStatus(req.Status)
	switch status {
	case types.NodeStatusAvailable, types.NodeStatusBusy, types.NodeStatusOffline,
		types.NodeStatusFailed, types.NodeStatusMaintenance:
	default:
		return badRequest(c, "unknown node status "+req.Status)
	}

	id := c.Param("id")
	if err := s.manager.SetNodeStatus(id, status); err != nil {
		return httpError(c, err)
	}

	node, err := s.manager.GetNode(id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}

// DrainNode handles POST /api/v1/nodes/:id/drain.
// The node goes into maintenance and its tasks return to the queue without
// burning retry budget.
func (s *Server) DrainNode(c echo.Context) error {
	id := c.Param("id")
	rescheduled, err := s.manager.DrainNode(id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, DrainResponse{NodeID: id, Rescheduled: rescheduled})
}

// RemoveNode handles DELETE /api/v1/nodes/:id.
// In-flight tasks are reclaimed into the pending queue first.
func (s *Server) RemoveNode(c echo.Context) error {
	if err := s.manager.RemoveNode(c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// NodeTasks handles GET /api/v1/nodes/:id/tasks.
// Agents poll this for their active assignments; a 404 tells a removed
// agent to re-register.
func (s *Server) NodeTasks(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.manager.GetNode(id); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, s.manager.TasksOnNode(id))
}
