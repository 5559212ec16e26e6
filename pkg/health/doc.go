/*
Package health provides the health checkers the orchestrator uses to
supervise the API server, the worker, and the Universal Runtime.

HTTPChecker polls a service's /health endpoint and decodes the health
report body, so the orchestrator can distinguish a degraded service
(answering, but with an unreachable dependency) from a dead one.
TCPChecker is a bare connection probe, also used inverted via
PortInUse to detect a foreign process squatting on a service's port
before spawn.

Status accumulates consecutive successes and failures against a
Config's retry threshold, with an optional start period during which
failures do not count; the runtime loading a large model needs that
grace.
*/
package health
