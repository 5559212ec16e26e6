// Package pipeline implements document ingestion: discovery, parsing,
// extraction, embedding, and storage into a project database.
//
// A Job runs one source path through the stage sequence. Parsers split
// raw bytes into chunks, extractors enrich chunk metadata, and the
// storage stage flattens metadata to scalars before writing. Chunk ids
// derive from the document's content hash and the chunk index, so
// re-ingesting unchanged content is a no-op: the dedup check runs
// before embedding to avoid re-paying the embedding cost.
//
// Per-file failures are tolerated. A run succeeds when at least one
// chunk is stored (or nothing was discovered at all); it aborts only on
// revocation, an unreachable embedder, or a dimension mismatch.
package pipeline
