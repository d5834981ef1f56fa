/*
Package storage provides BoltDB-backed persistence for Drover's state.

The Store interface covers every entity the daemon must survive a restart
with: jobs, job groups, tasks, task results, nodes, the failover retry
ledger, and cluster metadata (join token, schema version). BoltStore
implements it on a single bbolt file, <data_dir>/drover.db, with one bucket
per entity kind and JSON-encoded values.

# Buckets

  - jobs          Job records keyed by job id
  - job_groups    JobGroup records keyed by group id
  - tasks         Task records keyed by task id
  - task_results  latest terminal TaskResult keyed by task id
  - nodes         Node records keyed by node id
  - retries       failover retry counts, decimal string keyed by task id
  - cluster       string metadata (join_token, schema_version)

# Transaction Model

Reads run in db.View (concurrent, snapshot-isolated); writes run in
db.Update (serialized, fsync on commit). Create and Update share an upsert
implementation; Delete is idempotent. List* filters (by node, by status)
scan the bucket and filter in memory, which is fine at the entity counts a
single manager tracks.

Not-found lookups wrap the matching sentinel from pkg/types
(ErrJobNotFound, ErrTaskNotFound, ErrNodeNotFound, ErrGroupNotFound) so
callers can branch with errors.Is and the API can map them to 404s.

# Usage

	store, err := storage.NewBoltStore("/var/lib/drover")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.CreateTask(task); err != nil {
		return err
	}
	pending, err := store.ListTasksByStatus(types.TaskStatusPending)

The manager owns the store and threads it into the components that persist
state (registry, group manager, failover retry ledger, janitor).
*/
package storage
