/*
Package heartbeat detects dead worker nodes by their silence.

Agents ping the manager on an interval; the Monitor records each ping
through the node registry and scans for nodes whose last ping is older than
the timeout (default 30s). Expired nodes transition to offline and their
ids are handed to the OnFailure callback, which the manager wires to the
failover path.

Scans are rate limited to the scan interval (default 5s) with a
golang.org/x/time/rate limiter, so external triggers stacked on top of the
internal ticker cannot scan the registry more often than configured.

Only silence moves a node to offline, and only a resumed heartbeat moves it
back to available. Failed and maintenance nodes are outside this loop:
failed is owned by the failover manager, maintenance by the operator.
*/
package heartbeat
