package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/droverd/drover/pkg/types"
)

// SubmitTaskRequest describes a distributable task. Priority is one of
// low/normal/high/critical (empty defaults to normal); Required lists the
// capabilities the target node must offer.
type SubmitTaskRequest struct {
	Name     string            `json:"name"`
	Priority string            `json:"priority,omitempty"`
	Required []string          `json:"required,omitempty"`
	Path     string            `json:"path"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Dir      string            `json:"dir,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
}

// ReportTaskStatusRequest carries an agent's progress report for a task.
type ReportTaskStatusRequest struct {
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// SubmitTask handles POST /api/v1/tasks.
// The task enters the pending queue and is placed on a node right away when
// one is eligible.
func (s *Server) SubmitTask(c echo.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	spec, err := parseSpec(req.Path, req.Args, req.Env, req.Dir, req.Timeout)
	if err != nil {
		return badRequest(c, err.Error())
	}

	required := make([]types.Capability, len(req.Required))
	for i, r := range req.Required {
		required[i] = types.Capability(r)
	}

	task := &types.Task{
		Name:     req.Name,
		Priority: types.TaskPriority(req.Priority),
		Required: required,
		Spec:     spec,
	}

	if err := s.manager.SubmitTask(task); err != nil {
		return httpError(c, err)
	}

	created, err := s.manager.GetTask(task.ID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListTasks handles GET /api/v1/tasks.
// An optional ?status= query narrows the listing.
func (s *Server) ListTasks(c echo.Context) error {
	tasks := s.manager.ListTasks()

	if filter := c.QueryParam("status"); filter != "" {
		filtered := make([]*types.Task, 0, len(tasks))
		for _, t := range tasks {
			if string(t.Status) == filter {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	return c.JSON(http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/:id.
func (s *Server) GetTask(c echo.Context) error {
	task, err := s.manager.GetTask(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// GetTaskResult handles GET /api/v1/tasks/:id/result.
// Results exist only for tasks that reached a terminal state.
func (s *Server) GetTaskResult(c echo.Context) error {
	result, err := s.manager.GetTaskResult(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// RetryTask handles POST /api/v1/tasks/:id/retry.
// Requeues a terminal task with a cleared retry budget; rejects tasks that
// are still in flight.
func (s *Server) RetryTask(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.RetryTask(id); err != nil {
		return httpError(c, err)
	}

	task, err := s.manager.GetTask(id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// ReportTaskStatus handles PUT /api/v1/tasks/:id/status.
// Agents report running, completed, failed or canceled; anything else is
// rejected.
func (s *Server) ReportTaskStatus(c echo.Context) error {
	var req ReportTaskStatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	id := c.Param("id")
	err := s.manager.ReportTaskStatus(id, types.TaskStatus(req.Status), req.ExitCode, req.Error)
	if err != nil {
		return httpError(c, err)
	}

	task, err := s.manager.GetTask(id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}
