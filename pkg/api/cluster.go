package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/droverd/drover/pkg/metrics"
)

// ClusterSummaryResponse aggregates the cluster's live state for operators.
type ClusterSummaryResponse struct {
	Nodes        map[string]int `json:"nodes"` // count per node status
	RunningJobs  int            `json:"running_jobs"`
	QueuedJobs   int            `json:"queued_jobs"`
	PendingTasks int            `json:"pending_tasks"`
	ActiveTasks  int            `json:"active_tasks"`
	Timestamp    time.Time      `json:"timestamp"`
}

// JoinTokenResponse carries the cluster join token. The API listener is
// assumed to sit on a trusted operator network; treat it like a container
// runtime socket.
type JoinTokenResponse struct {
	Token string `json:"token"`
}

// ClusterSummary handles GET /api/v1/cluster.
func (s *Server) ClusterSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, s.buildSummary())
}

// GetJoinToken handles GET /api/v1/cluster/token.
func (s *Server) GetJoinToken(c echo.Context) error {
	return c.JSON(http.StatusOK, JoinTokenResponse{Token: s.manager.JoinToken()})
}

// RotateJoinToken handles POST /api/v1/cluster/token/rotate.
// Registered agents keep their membership; only future registrations need
// the new token.
func (s *Server) RotateJoinToken(c echo.Context) error {
	token, err := s.manager.RotateJoinToken()
	if err != nil {
		return httpError(c, err)
	}
	s.logger.Info().Msg("join token rotated")
	return c.JSON(http.StatusOK, JoinTokenResponse{Token: token})
}

// HealthzResponse combines component health with the cluster summary so a
// single probe answers both "is the daemon up" and "is the cluster sane".
type HealthzResponse struct {
	Status     string                 `json:"status"`
	Components map[string]string      `json:"components,omitempty"`
	Cluster    ClusterSummaryResponse `json:"cluster"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
}

// Healthz handles GET /healthz.
func (s *Server) Healthz(c echo.Context) error {
	health := metrics.GetHealth()

	resp := HealthzResponse{
		Status:     health.Status,
		Components: health.Components,
		Cluster:    s.buildSummary(),
		Version:    health.Version,
		Uptime:     health.Uptime,
	}

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

func (s *Server) buildSummary() ClusterSummaryResponse {
	nodes := map[string]int{}
	for _, n := range s.manager.ListNodes() {
		nodes[string(n.Status)]++
	}

	active := 0
	for _, t := range s.manager.ListTasks() {
		if t.Status.IsActive() {
			active++
		}
	}

	return ClusterSummaryResponse{
		Nodes:        nodes,
		RunningJobs:  s.manager.RunningJobs(),
		QueuedJobs:   s.manager.QueuedJobs(),
		PendingTasks: s.manager.PendingTasks(),
		ActiveTasks:  active,
		Timestamp:    time.Now(),
	}
}
