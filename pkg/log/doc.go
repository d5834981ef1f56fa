/*
Package log provides structured logging for Drover using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Configuration:
  - Level: debug/info/warn/error (ParseLevel validates config strings)
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID / WithJobID / WithTaskID / WithGroupID: entity context

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("manager started")
	log.Warn("heartbeat scan skipped: rate limited")

Structured logging:

	log.Logger.Error().
		Err(err).
		Str("node_id", nodeID).
		Msg("failover handling failed")

Component loggers:

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("job_id", job.ID).Int("priority", job.Priority).
		Msg("job dispatched")

# Integration Points

This package is used by every Drover component:

  - pkg/scheduler: dispatch decisions, process supervision
  - pkg/heartbeat: scan results and offline transitions
  - pkg/failover: reschedule outcomes and retry exhaustion
  - pkg/api: request logging middleware
  - pkg/agent: registration, heartbeat, task execution
*/
package log
