/*
Package resultstore persists task records as one JSON file per task id.

The store is shared between the API server (producer) and the worker
(consumer) through the filesystem: the producer writes the PENDING
record at dispatch, the worker drives it through STARTED to a terminal
state, and the producer polls with Get. Writes go through a temp file
and an atomic rename, so a reader never observes a partial record;
anything truncated or unparseable is reported as ErrNotFound rather
than crashing the caller.

State transitions are monotonic: PENDING -> STARTED -> SUCCESS|FAILURE,
with REVOKED reachable from any non-terminal state. Terminal writes are
idempotent, and a record that has been revoked stays revoked even if a
late SUCCESS or FAILURE write arrives from the worker.
*/
package resultstore
