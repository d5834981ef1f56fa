package janitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/failover"
	"github.com/droverd/drover/pkg/group"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/scheduler"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/tasks"
	"github.com/droverd/drover/pkg/types"
)

const (
	// DefaultSchedule runs a sweep every five minutes.
	DefaultSchedule = "*/5 * * * *"
	// DefaultJobRetention keeps terminal jobs for a day.
	DefaultJobRetention = 24 * time.Hour
	// DefaultResultRetention keeps task results for three days.
	DefaultResultRetention = 72 * time.Hour
)

// Config holds configuration for creating a Janitor
type Config struct {
	Store     storage.Store
	Scheduler *scheduler.Scheduler // optional: in-memory jobs forgotten alongside persisted ones
	Groups    *group.Manager       // optional: expired groups deleted
	Tracker   *tasks.Tracker       // optional: protects retry history of live tasks
	Failover  *failover.Manager    // optional: retry history cleared in memory too

	Schedule        string        // cron expression, "" means DefaultSchedule
	JobRetention    time.Duration // 0 means DefaultJobRetention
	ResultRetention time.Duration // 0 means DefaultResultRetention
}

// Stats summarizes one sweep.
type Stats struct {
	JobsDeleted         int
	ResultsDeleted      int
	GroupsDeleted       int
	RetryEntriesCleared int
}

// Janitor deletes state nobody needs anymore: terminal jobs and task results
// past retention, expired job groups, and retry-ledger entries whose task
// already finished.
type Janitor struct {
	store    storage.Store
	sched    *scheduler.Scheduler
	groups   *group.Manager
	tracker  *tasks.Tracker
	failover *failover.Manager

	schedule        string
	jobRetention    time.Duration
	resultRetention time.Duration

	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates a new Janitor
func New(cfg Config) *Janitor {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	jobRetention := cfg.JobRetention
	if jobRetention <= 0 {
		jobRetention = DefaultJobRetention
	}
	resultRetention := cfg.ResultRetention
	if resultRetention <= 0 {
		resultRetention = DefaultResultRetention
	}

	return &Janitor{
		store:           cfg.Store,
		sched:           cfg.Scheduler,
		groups:          cfg.Groups,
		tracker:         cfg.Tracker,
		failover:        cfg.Failover,
		schedule:        schedule,
		jobRetention:    jobRetention,
		resultRetention: resultRetention,
		logger:          log.WithComponent("janitor"),
	}
}

// Start schedules sweeps on the configured cron expression.
func (j *Janitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() { j.Sweep() }); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}
	j.cron = c
	c.Start()
	j.logger.Info().Str("schedule", j.schedule).Msg("janitor started")
	return nil
}

// Stop halts the sweep schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep runs every retention pass once and returns what it removed.
func (j *Janitor) Sweep() Stats {
	now := time.Now()
	stats := Stats{
		JobsDeleted:         j.sweepJobs(now),
		ResultsDeleted:      j.sweepResults(now),
		GroupsDeleted:       j.sweepGroups(),
		RetryEntriesCleared: j.sweepRetries(),
	}

	if stats.JobsDeleted > 0 || stats.ResultsDeleted > 0 ||
		stats.GroupsDeleted > 0 || stats.RetryEntriesCleared > 0 {
		j.logger.Info().
			Int("jobs", stats.JobsDeleted).
			Int("results", stats.ResultsDeleted).
			Int("groups", stats.GroupsDeleted).
			Int("retry_entries", stats.RetryEntriesCleared).
			Msg("sweep removed expired state")
	}
	return stats
}

// sweepJobs deletes terminal jobs that finished before the retention cutoff.
// In-flight jobs are never touched regardless of age.
func (j *Janitor) sweepJobs(now time.Time) int {
	jobs, err := j.store.ListJobs()
	if err != nil {
		j.logger.Warn().Err(err).Msg("job sweep: list failed")
		return 0
	}

	cutoff := now.Add(-j.jobRetention)
	deleted := 0
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.FinishedAt.IsZero() || job.FinishedAt.After(cutoff) {
			continue
		}
		if j.sched != nil {
			if err := j.sched.Forget(job.ID); err != nil && !errors.Is(err, types.ErrJobNotFound) {
				// The live view disagrees with the store; leave it alone.
				continue
			}
		}
		if err := j.store.DeleteJob(job.ID); err != nil {
			j.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job sweep: delete failed")
			continue
		}
		deleted++
	}
	return deleted
}

// sweepResults deletes task results older than the result retention.
func (j *Janitor) sweepResults(now time.Time) int {
	results, err := j.store.ListTaskResults()
	if err != nil {
		j.logger.Warn().Err(err).Msg("result sweep: list failed")
		return 0
	}

	cutoff := now.Add(-j.resultRetention)
	deleted := 0
	for _, result := range results {
		if result.FinishedAt.After(cutoff) {
			continue
		}
		if err := j.store.DeleteTaskResult(result.TaskID); err != nil {
			j.logger.Warn().Err(err).Str("task_id", result.TaskID).Msg("result sweep: delete failed")
			continue
		}
		deleted++
	}
	return deleted
}

// sweepGroups deletes groups whose advisory expiration has elapsed. This is
// the only place expiry turns into deletion.
func (j *Janitor) sweepGroups() int {
	if j.groups == nil {
		return 0
	}

	deleted := 0
	for _, g := range j.groups.List() {
		if !g.IsExpired() {
			continue
		}
		if err := j.groups.Delete(g.ID); err != nil {
			j.logger.Warn().Err(err).Str("group_id", g.ID).Msg("group sweep: delete failed")
			continue
		}
		j.logger.Info().
			Str("group_id", g.ID).
			Str("name", g.Name).
			Time("expired_at", *g.ExpiresAt).
			Msg("expired group removed")
		deleted++
	}
	return deleted
}

// sweepRetries clears retry-ledger entries for tasks that are terminal or
// gone. Entries of live tasks stay so exhaustion still triggers.
func (j *Janitor) sweepRetries() int {
	counts, err := j.store.ListRetryCounts()
	if err != nil {
		j.logger.Warn().Err(err).Msg("retry sweep: list failed")
		return 0
	}

	cleared := 0
	for taskID := range counts {
		if j.tracker != nil {
			if task, err := j.tracker.Get(taskID); err == nil && !task.Status.IsTerminal() {
				continue
			}
		}
		if j.failover != nil {
			j.failover.ClearRetryHistory(taskID)
		} else if err := j.store.DeleteRetryCount(taskID); err != nil {
			j.logger.Warn().Err(err).Str("task_id", taskID).Msg("retry sweep: delete failed")
			continue
		}
		cleared++
	}
	return cleared
}
