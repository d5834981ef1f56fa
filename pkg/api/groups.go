package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/droverd/drover/pkg/types"
)

// CreateGroupRequest describes a new job group. Priority is clamped to
// [0,100] server-side; ExpiresAt is advisory until the janitor sweeps.
type CreateGroupRequest struct {
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Priority       int                   `json:"priority"`
	Tags           map[string]string     `json:"tags,omitempty"`
	ResourceLimits *types.ResourceLimits `json:"resource_limits,omitempty"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
}

// CreateGroup handles POST /api/v1/groups.
func (s *Server) CreateGroup(c echo.Context) error {
	var req CreateGroupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	g := &types.JobGroup{
		Name:           req.Name,
		Description:    req.Description,
		Priority:       req.Priority,
		Tags:           req.Tags,
		ResourceLimits: req.ResourceLimits,
		ExpiresAt:      req.ExpiresAt,
	}

	if err := s.manager.CreateGroup(g); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, g)
}

// ListGroups handles GET /api/v1/groups.
func (s *Server) ListGroups(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.ListGroups())
}

// GetGroup handles GET /api/v1/groups/:id.
// The id path segment also accepts a group name as a fallback, so operators
// can use either handle.
func (s *Server) GetGroup(c echo.Context) error {
	id := c.Param("id")

	g, err := s.manager.GetGroup(id)
	if err != nil {
		g, err = s.manager.GetGroupByName(id)
	}
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

// DeleteGroup handles DELETE /api/v1/groups/:id.
// Member jobs are left untouched; only the grouping disappears.
func (s *Server) DeleteGroup(c echo.Context) error {
	if err := s.manager.DeleteGroup(c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AddJobToGroup handles POST /api/v1/groups/:id/jobs/:jobID.
// Membership is id-based; adding an id twice is a no-op.
func (s *Server) AddJobToGroup(c echo.Context) error {
	id := c.Param("id")
	if err := s.manager.AddJobToGroup(id, c.Param("jobID")); err != nil {
		return httpError(c, err)
	}

	g, err := s.manager.GetGroup(id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

// RemoveJobFromGroup handles DELETE /api/v1/groups/:id/jobs/:jobID.
func (s *Server) RemoveJobFromGroup(c echo.Context) error {
	if err := s.manager.RemoveJobFromGroup(c.Param("id"), c.Param("jobID")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
