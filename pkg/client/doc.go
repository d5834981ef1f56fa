/*
Package client is the Go client for the drover REST API.

The CLI and the agent both go through this package; nothing else in the
tree issues raw HTTP against the manager. Methods map one-to-one onto API
routes, take a context for cancellation, and return the shared types from
pkg/types.

Errors from the server keep their HTTP identity as *APIError:

	job, err := cli.GetJob(ctx, id)
	if client.IsNotFound(err) {
		// the job was never submitted or the janitor already swept it
	}

Agents lean on two specific signals: Heartbeat returns known=false when the
manager lost the registration, and NodeTasks returns a not-found error once
the node has been removed. Both mean "register again".

Request payloads reuse the structs from pkg/api so the wire contract is
defined exactly once.
*/
package client
