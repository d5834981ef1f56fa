package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/manager"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/types"
)

// Server exposes the manager's operations as a JSON REST API.
type Server struct {
	manager *manager.Manager
	echo    *echo.Echo
	logger  zerolog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(mgr *manager.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		manager: mgr,
		echo:    e,
		logger:  log.WithComponent("api"),
	}

	e.Use(s.requestObserver())
	s.registerRoutes(e)

	return s
}

// registerRoutes wires every endpoint. Versioned routes live under /api/v1;
// health and metrics stay at the root for probes and scrapers.
func (s *Server) registerRoutes(e *echo.Echo) {
	v1 := e.Group("/api/v1")

	// Job routes
	v1.POST("/jobs", s.SubmitJob)
	v1.GET("/jobs", s.ListJobs)
	v1.GET("/jobs/:id", s.GetJob)
	v1.DELETE("/jobs/:id", s.CancelJob)

	// Job group routes
	v1.POST("/groups", s.CreateGroup)
	v1.GET("/groups", s.ListGroups)
	v1.GET("/groups/:id", s.GetGroup)
	v1.DELETE("/groups/:id", s.DeleteGroup)
	v1.POST("/groups/:id/jobs/:jobID", s.AddJobToGroup)
	v1.DELETE("/groups/:id/jobs/:jobID", s.RemoveJobFromGroup)

	// Task routes
	v1.POST("/tasks", s.SubmitTask)
	v1.GET("/tasks", s.ListTasks)
	v1.GET("/tasks/:id", s.GetTask)
	v1.GET("/tasks/:id/result", s.GetTaskResult)
	v1.POST("/tasks/:id/retry", s.RetryTask)
	v1.PUT("/tasks/:id/status", s.ReportTaskStatus)

	// Node routes
	v1.POST("/nodes/register", s.RegisterNode)
	v1.POST("/nodes/:id/heartbeat", s.Heartbeat)
	v1.GET("/nodes", s.ListNodes)
	v1.GET("/nodes/:id", s.GetNode)
	v1.PUT("/nodes/:id/status", s.SetNodeStatus)
	v1.POST("/nodes/:id/drain", s.DrainNode)
	v1.DELETE("/nodes/:id", s.RemoveNode)
	v1.GET("/nodes/:id/tasks", s.NodeTasks)

	// Cluster routes
	v1.GET("/cluster", s.ClusterSummary)
	v1.GET("/cluster/token", s.GetJoinToken)
	v1.POST("/cluster/token/rotate", s.RotateJoinToken)

	e.GET("/healthz", s.Healthz)
	e.GET("/readyz", echo.WrapHandler(metrics.ReadyHandler()))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// Start blocks serving HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("listen", addr).Msg("api server starting")
	metrics.UpdateComponent("api", true, "")

	err := s.echo.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent("api", false, err.Error())
		return err
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("api server stopping")
	metrics.UpdateComponent("api", false, "shutting down")
	return s.echo.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// errorBody is the JSON envelope for every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// httpError maps the error taxonomy onto HTTP status codes: not-found
// sentinels become 404, validation failures 400, permission failures 403,
// saturation 429, conflicts 409, and anything unclassified 500.
func httpError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrJobNotFound),
		errors.Is(err, types.ErrTaskNotFound),
		errors.Is(err, types.ErrNodeNotFound),
		errors.Is(err, types.ErrGroupNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrSchedulingFailed):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrTooManyRunningJobs):
		status = http.StatusTooManyRequests
	case errors.Is(err, types.ErrResourceLimitReached),
		errors.Is(err, types.ErrCancellationFailed):
		status = http.StatusConflict
	}
	return c.JSON(status, errorBody{Error: err.Error()})
}

// badRequest reports a malformed payload without leaking bind internals.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}
