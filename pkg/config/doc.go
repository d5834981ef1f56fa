/*
Package config loads and watches Drover's YAML configuration.

Load applies the file at the given path over built-in defaults, so a missing
or partial file always yields a runnable configuration. Validate rejects
values the components cannot operate with (unknown failover strategies,
non-positive intervals, capabilities outside the fixed vocabulary).

Durations are written in Go syntax ("30s", "1h"); the Duration wrapper
implements yaml.Unmarshaler around time.ParseDuration.

# Hot Reload

Watch observes the file's directory via fsnotify, debounces editor write
bursts, re-parses and re-validates on change, and publishes only snapshots
that pass validation. Components that support live tuning (scheduler
concurrency cap, heartbeat timing, failover policy, janitor retention)
subscribe through the manager.

	w, err := config.Watch("/etc/drover/drover.yaml", func(cfg *config.Config) {
		mgr.ApplyConfig(cfg)
	})
	defer w.Stop()

A rejected reload keeps the previous configuration in effect and logs the
reason at warn level.
*/
package config
