package group

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Config holds configuration for creating a Manager
type Config struct {
	Store storage.Store // optional: groups are persisted when set
}

// Manager owns the job-group table. Membership mutations are synchronous:
// when AddJob returns, JobIDs reflects the change.
type Manager struct {
	mu     sync.RWMutex
	groups map[string]*types.JobGroup

	store  storage.Store
	logger zerolog.Logger
}

// New creates a new group Manager
func New(cfg Config) *Manager {
	return &Manager{
		groups: make(map[string]*types.JobGroup),
		store:  cfg.Store,
		logger: log.WithComponent("group"),
	}
}

// Create registers a new group. A missing id is generated; the name must be
// non-empty and unique among live groups.
func (m *Manager) Create(group *types.JobGroup) error {
	if group == nil || group.Name == "" {
		return fmt.Errorf("%w: group name required", types.ErrSchedulingFailed)
	}
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	group.Priority = clampPriority(group.Priority)
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}

	m.mu.Lock()
	if _, exists := m.groups[group.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: group %s already exists", types.ErrSchedulingFailed, group.ID)
	}
	for _, g := range m.groups {
		if g.Name == group.Name {
			m.mu.Unlock()
			return fmt.Errorf("%w: group name %q already in use", types.ErrSchedulingFailed, group.Name)
		}
	}
	m.groups[group.ID] = group
	m.mu.Unlock()

	m.logger.Info().
		Str("group_id", group.ID).
		Str("name", group.Name).
		Msg("job group created")
	m.persistCreate(group.ID)
	return nil
}

// Restore loads a persisted group back into the manager at startup.
func (m *Manager) Restore(group *types.JobGroup) {
	if group == nil || group.ID == "" {
		return
	}
	m.mu.Lock()
	m.groups[group.ID] = group
	m.mu.Unlock()
}

// Delete removes a group. Member jobs are untouched; a group is metadata,
// not a lifecycle owner.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	group, ok := m.groups[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrGroupNotFound, id)
	}
	delete(m.groups, id)
	m.mu.Unlock()

	m.logger.Info().
		Str("group_id", id).
		Str("name", group.Name).
		Msg("job group deleted")
	if m.store != nil {
		if err := m.store.DeleteJobGroup(id); err != nil {
			m.logger.Warn().Err(err).Str("group_id", id).Msg("failed to delete persisted group")
		}
	}
	return nil
}

// Get returns a snapshot of a group by id.
func (m *Manager) Get(id string) (*types.JobGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrGroupNotFound, id)
	}
	return cloneGroup(group), nil
}

// GetByName returns a snapshot of a group by its unique name.
func (m *Manager) GetByName(name string) (*types.JobGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, group := range m.groups {
		if group.Name == name {
			return cloneGroup(group), nil
		}
	}
	return nil, fmt.Errorf("%w: name %q", types.ErrGroupNotFound, name)
}

// List returns snapshots of all groups sorted by name.
func (m *Manager) List() []*types.JobGroup {
	m.mu.RLock()
	groups := make([]*types.JobGroup, 0, len(m.groups))
	for _, group := range m.groups {
		groups = append(groups, cloneGroup(group))
	}
	m.mu.RUnlock()

	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// AddJob adds a job id to the group's membership. Adding an existing member
// is a no-op.
func (m *Manager) AddJob(groupID, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("%w: job id required", types.ErrSchedulingFailed)
	}
	err := m.mutate(groupID, func(group *types.JobGroup) {
		if group.HasJob(jobID) {
			return
		}
		group.JobIDs = append(group.JobIDs, jobID)
	})
	if err != nil {
		return err
	}
	m.logger.Debug().Str("group_id", groupID).Str("job_id", jobID).Msg("job added to group")
	return nil
}

// RemoveJob removes a job id from the group's membership. Removing a
// non-member is a no-op.
func (m *Manager) RemoveJob(groupID, jobID string) error {
	err := m.mutate(groupID, func(group *types.JobGroup) {
		for i, id := range group.JobIDs {
			if id == jobID {
				group.JobIDs = append(group.JobIDs[:i], group.JobIDs[i+1:]...)
				return
			}
		}
	})
	if err != nil {
		return err
	}
	m.logger.Debug().Str("group_id", groupID).Str("job_id", jobID).Msg("job removed from group")
	return nil
}

// JobIDs returns the group's member job ids.
func (m *Manager) JobIDs(groupID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrGroupNotFound, groupID)
	}
	ids := make([]string, len(group.JobIDs))
	copy(ids, group.JobIDs)
	return ids, nil
}

// JobCount returns the number of member jobs.
func (m *Manager) JobCount(groupID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[groupID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrGroupNotFound, groupID)
	}
	return len(group.JobIDs), nil
}

// SetTag sets or replaces a tag on the group.
func (m *Manager) SetTag(groupID, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: tag key required", types.ErrSchedulingFailed)
	}
	return m.mutate(groupID, func(group *types.JobGroup) {
		if group.Tags == nil {
			group.Tags = make(map[string]string)
		}
		group.Tags[key] = value
	})
}

// RemoveTag removes a tag from the group.
func (m *Manager) RemoveTag(groupID, key string) error {
	return m.mutate(groupID, func(group *types.JobGroup) {
		delete(group.Tags, key)
	})
}

// SetResourceLimits replaces the group's resource-limit descriptor. A nil
// limits clears it.
func (m *Manager) SetResourceLimits(groupID string, limits *types.ResourceLimits) error {
	return m.mutate(groupID, func(group *types.JobGroup) {
		if limits == nil {
			group.ResourceLimits = nil
			return
		}
		l := *limits
		group.ResourceLimits = &l
	})
}

// SetPriority sets the group priority, clamped to [0,100].
func (m *Manager) SetPriority(groupID string, priority int) error {
	return m.mutate(groupID, func(group *types.JobGroup) {
		group.Priority = clampPriority(priority)
	})
}

// SetExpiration sets or clears the group's advisory expiration instant.
func (m *Manager) SetExpiration(groupID string, expiresAt *time.Time) error {
	return m.mutate(groupID, func(group *types.JobGroup) {
		if expiresAt == nil {
			group.ExpiresAt = nil
			return
		}
		at := *expiresAt
		group.ExpiresAt = &at
	})
}

// IsExpired reports whether the group has an elapsed expiration.
func (m *Manager) IsExpired(groupID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[groupID]
	if !ok {
		return false, fmt.Errorf("%w: %s", types.ErrGroupNotFound, groupID)
	}
	return group.IsExpired(), nil
}

// mutate applies fn to a group under the write lock, then persists the
// result outside it.
func (m *Manager) mutate(groupID string, fn func(*types.JobGroup)) error {
	m.mu.Lock()
	group, ok := m.groups[groupID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrGroupNotFound, groupID)
	}
	fn(group)
	m.mu.Unlock()

	m.persistUpdate(groupID)
	return nil
}

func (m *Manager) persistCreate(groupID string) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	group, ok := m.groups[groupID]
	var snapshot *types.JobGroup
	if ok {
		snapshot = cloneGroup(group)
	}
	m.mu.RUnlock()
	if snapshot == nil {
		return
	}
	if err := m.store.CreateJobGroup(snapshot); err != nil {
		m.logger.Warn().Err(err).Str("group_id", groupID).Msg("failed to persist group")
	}
}

func (m *Manager) persistUpdate(groupID string) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	group, ok := m.groups[groupID]
	var snapshot *types.JobGroup
	if ok {
		snapshot = cloneGroup(group)
	}
	m.mu.RUnlock()
	if snapshot == nil {
		return
	}
	if err := m.store.UpdateJobGroup(snapshot); err != nil {
		m.logger.Warn().Err(err).Str("group_id", groupID).Msg("failed to persist group update")
	}
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func cloneGroup(group *types.JobGroup) *types.JobGroup {
	clone := *group
	if group.JobIDs != nil {
		clone.JobIDs = make([]string, len(group.JobIDs))
		copy(clone.JobIDs, group.JobIDs)
	}
	if group.Tags != nil {
		clone.Tags = make(map[string]string, len(group.Tags))
		for k, v := range group.Tags {
			clone.Tags[k] = v
		}
	}
	if group.ResourceLimits != nil {
		limits := *group.ResourceLimits
		clone.ResourceLimits = &limits
	}
	if group.ExpiresAt != nil {
		at := *group.ExpiresAt
		clone.ExpiresAt = &at
	}
	return &clone
}
