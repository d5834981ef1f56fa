/*
Package metrics provides Prometheus metrics and health endpoints for Drover.

All collectors are package-level vars registered in init() and exposed via
Handler() (promhttp) on the API server's /metrics route.

# Metric Groups

Local scheduler:
  - drover_jobs_running / drover_jobs_queued (gauges)
  - drover_jobs_total{outcome} (counter: completed, failed, cancelled)
  - drover_job_duration_seconds, drover_dispatch_duration_seconds

Cluster:
  - drover_nodes_total{status} (gauge, refreshed by the Collector)
  - drover_node_failures_total
  - drover_heartbeat_scan_duration_seconds

Tasks:
  - drover_tasks_total{status} (gauge, refreshed by the Collector)
  - drover_tasks_assigned_total
  - drover_tasks_rescheduled_total{strategy}
  - drover_tasks_exhausted_total

API:
  - drover_api_requests_total{method,route,status}
  - drover_api_request_duration_seconds{method,route}

# Collector

Gauges that mirror current cluster state are polled every 15 seconds by the
Collector, which reads snapshots through the Source interface (implemented
by the manager). Counters and histograms are updated inline at the call
sites that own the events.

# Timers

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HeartbeatScanDuration)

# Health

health.go tracks per-component health (store, api, heartbeat, dispatcher,
janitor) and serves /healthz and /readyz; readiness requires the critical
components (store, api) to be registered healthy.
*/
package metrics
