// Package orchestrator manages the lifecycle of the platform's
// services: the API server, the task worker, and the Universal Runtime.
//
// Services run either as native child processes (pidfile + log file
// under the state directory, detached into their own process group) or
// as docker containers. Start spawns the service, refuses to race a
// port that is already bound, and polls the health endpoint with
// exponential backoff until the service answers or the deadline
// elapses. Stop is SIGTERM, a grace period, then SIGKILL.
//
// The Downloader relays the runtime's model-download line protocol to
// a caller-supplied emit function, one typed event per line, with
// exactly one terminal done or error event per stream.
package orchestrator
