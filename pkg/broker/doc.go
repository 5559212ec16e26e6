/*
Package broker dispatches named tasks from producers to consumers over
a filesystem-backed queue, with task state persisted in the result
store.

A producer builds a Signature (name plus serialized args) and calls
Dispatch; the broker routes the name through its prefix table to a
queue, writes the PENDING record, and drops a message file into the
queue directory. The consumer process runs Serve with an explicit
handler Registry; it claims messages by renaming them into claimed/,
marks the record STARTED, runs the handler, and records the terminal
state. Delivery is at least once: rename-to-claim gives one winner per
message, but a crash between claim and terminal write means redelivery,
so handlers are written to be idempotent for identical arguments.

Groups dispatch N children behind one parent id; the parent's state is
derived from the children on every Poll rather than stored. Revocation
is cooperative: Revoke marks the record and, with terminate, raises a
flag file the handler checks between batches.

Await (blocking, worker side) and AwaitCtx (context-driven, server
side) are the two poll wrappers. They are deliberately separate: the
blocking variant sleeps, the cooperative variant parks on a timer and
the request context. Both take explicit deadlines and report revocation
as ErrRevoked, distinct from failure.
*/
package broker
