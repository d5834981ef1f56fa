/*
Package api implements the drover REST API on echo.

The API is the single entry point for everything outside the manager
process: the CLI, agents, and operator tooling all speak the same JSON
routes. Handlers are thin; they bind a request, call one manager operation,
and map the result (or the error taxonomy) onto an HTTP response.

# Architecture

	┌─────────────── CLIENT (CLI / agent / curl) ───────────────┐
	│                                                            │
	│   JSON over HTTP, routes under /api/v1                     │
	└──────────────────────────┬─────────────────────────────────┘
	                           │
	┌──────────────────────────▼──── MANAGER PROCESS ───────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐          │
	│  │          echo server (pkg/api)               │          │
	│  │  - request logging + metrics middleware      │          │
	│  │  - error taxonomy → HTTP status mapping      │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │              Manager (pkg/manager)           │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Routes

Jobs (local scheduler):
  - POST   /api/v1/jobs                submit a job
  - GET    /api/v1/jobs                list jobs (?status= filter)
  - GET    /api/v1/jobs/:id            job details including captured output
  - DELETE /api/v1/jobs/:id            cancel (no-op when already terminal)

Job groups:
  - POST   /api/v1/groups                      create
  - GET    /api/v1/groups                      list
  - GET    /api/v1/groups/:id                  get by id or name
  - DELETE /api/v1/groups/:id                  delete, jobs untouched
  - POST   /api/v1/groups/:id/jobs/:jobID      add member
  - DELETE /api/v1/groups/:id/jobs/:jobID      remove member

Tasks (distributed):
  - POST   /api/v1/tasks                submit
  - GET    /api/v1/tasks                list (?status= filter)
  - GET    /api/v1/tasks/:id            task details
  - GET    /api/v1/tasks/:id/result     terminal outcome
  - POST   /api/v1/tasks/:id/retry      operator requeue
  - PUT    /api/v1/tasks/:id/status     agent progress report

Nodes:
  - POST   /api/v1/nodes/register       join-token gated enrollment
  - POST   /api/v1/nodes/:id/heartbeat  liveness + load + metrics
  - GET    /api/v1/nodes                list (?status= filter)
  - GET    /api/v1/nodes/:id            node details
  - PUT    /api/v1/nodes/:id/status     manual lifecycle transition
  - POST   /api/v1/nodes/:id/drain      force failover, report count
  - DELETE /api/v1/nodes/:id            decommission, reclaim tasks
  - GET    /api/v1/nodes/:id/tasks      agent assignment poll

Cluster and probes:
  - GET    /api/v1/cluster              live summary (nodes/jobs/tasks)
  - GET    /api/v1/cluster/token        show join token
  - POST   /api/v1/cluster/token/rotate rotate join token
  - GET    /healthz                     component health + cluster summary
  - GET    /readyz                      critical components ready
  - GET    /metrics                     Prometheus exposition

# Error Mapping

Handlers never invent status codes; httpError maps the shared sentinels:

	ErrJobNotFound / ErrTaskNotFound /
	ErrNodeNotFound / ErrGroupNotFound   → 404
	ErrSchedulingFailed (validation)     → 400
	ErrPermissionDenied (join token)     → 403
	ErrTooManyRunningJobs (queue bound)  → 429
	ErrResourceLimitReached,
	ErrCancellationFailed                → 409
	anything else                        → 500

# Trust Model

The listener carries no authentication beyond the join-token check on node
registration. Bind it to an interface operators already trust, the same way
a container runtime socket is handled.
*/
package api
