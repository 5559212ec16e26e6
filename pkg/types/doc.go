/*
Package types contains the shared domain types for LlamaFarm's core:
task records, service descriptors, document chunks, health reports, and
the model-download event protocol.

Types here are plain data with no behavior beyond small helpers. The
result store owns TaskRecord persistence, the orchestrator owns
ServiceDescriptor mutation, and the ingestion pipeline owns Chunk
construction; other packages hold only ids.
*/
package types
