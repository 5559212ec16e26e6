// Package worker is the task execution half of the platform. It
// consumes the rag and server queues, runs ingestion and retrieval jobs
// through the pipeline and the vector store, and records every outcome
// in the result store. Handlers are idempotent under at-least-once
// delivery and check for revocation at batch boundaries.
package worker
