/*
Package metrics provides Prometheus instrumentation and component
health reporting for LlamaFarm services.

Counters and histograms cover task dispatch and completion, queue
depth, ingestion throughput, embedding batches, model-download bytes,
and API requests. The health side keeps a per-process registry of
component statuses (result store, broker queue, embedder, vector
store, runtime) and serves the /health, /ready, and /live endpoints
every managed service exposes; the orchestrator polls /health to drive
its status banner.
*/
package metrics
