/*
Package vectorstore persists embedded chunks in bbolt, one database
file per configured vector database.

Three buckets carry the data: chunks (chunk id to full chunk record
with its embedding), dedup (the authoritative set of known chunk ids),
and documents (document hash to source path, for stats). An LRU cache
fronts the dedup bucket so repeat ingests of a hot document skip the
read transaction.

Queries are a brute-force cosine scan with a top-k cut. That is
deliberate at this scale: local projects hold thousands of chunks, not
millions, and the scan keeps the store a single dependency-free file.
*/
package vectorstore
