/*
Package janitor enforces retention on finished state.

A cron-scheduled sweep (default every five minutes) removes four kinds of
leftovers: terminal jobs that finished before the job retention window
(default 24h), task results older than the result retention window (default
72h), job groups whose advisory expiration elapsed, and retry-ledger
entries for tasks that are terminal or no longer tracked.

Sweeps only ever delete what is provably done. A job still pending or
running survives regardless of age, and retry history of a live task is
kept so exhaustion accounting stays correct across manager restarts.
*/
package janitor
