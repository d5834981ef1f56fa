package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/droverd/drover/pkg/types"
)

// SubmitJobRequest describes a job submission. Timeout is a Go duration
// string ("30s", "5m"); zero or empty means no limit.
type SubmitJobRequest struct {
	Name     string            `json:"name"`
	Path     string            `json:"path"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Dir      string            `json:"dir,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
	Priority int               `json:"priority"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// parseSpec converts the wire fields shared by jobs and tasks into a JobSpec.
func parseSpec(path string, args []string, env map[string]string, dir, timeout string) (types.JobSpec, error) {
	spec := types.JobSpec{
		Path: path,
		Args: args,
		Env:  env,
		Dir:  dir,
	}
	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return spec, fmt.Errorf("invalid timeout %q: %v", timeout, err)
		}
		spec.Timeout = d
	}
	return spec, nil
}

// SubmitJob handles POST /api/v1/jobs.
// Queues a job on the local scheduler; it starts as soon as a slot frees up.
func (s *Server) SubmitJob(c echo.Context) error {
	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	spec, err := parseSpec(req.Path, req.Args, req.Env, req.Dir, req.Timeout)
	if err != nil {
		return badRequest(c, err.Error())
	}

	job := &types.Job{
		Name:     req.Name,
		Spec:     spec,
		Priority: req.Priority,
		Labels:   req.Labels,
	}

	if err := s.manager.SubmitJob(job); err != nil {
		return httpError(c, err)
	}

	created, err := s.manager.GetJob(job.ID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListJobs handles GET /api/v1/jobs.
// An optional ?status= query narrows the listing.
func (s *Server) ListJobs(c echo.Context) error {
	jobs := s.manager.ListJobs()

	if filter := c.QueryParam("status"); filter != "" {
		filtered := make([]*types.Job, 0, len(jobs))
		for _, j := range jobs {
			if string(j.Status) == filter {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	return c.JSON(http.StatusOK, jobs)
}

// GetJob handles GET /api/v1/jobs/:id.
func (s *Server) GetJob(c echo.Context) error {
	job, err := s.manager.GetJob(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// CancelJob handles DELETE /api/v1/jobs/:id.
// Cancelling a terminal job is a no-op; the job is returned either way.
func (s *Server) CancelJob(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.CancelJob(id); err != nil {
		return httpError(c, err)
	}

	job, err := s.manager.GetJob(id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}
