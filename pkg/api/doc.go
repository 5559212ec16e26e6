// Package api implements the HTTP surface of the platform: dataset
// ingestion, task polling and revocation, retrieval queries, aggregated
// health, model-download SSE, and the chat proxy to the runtime.
//
// Request handlers never do long work. Ingestion dispatches a task and
// answers 202; queries dispatch and wait cooperatively on the request
// context. A failed job is reported as HTTP 200 with an error payload,
// because the API call itself succeeded; 5xx is reserved for the API's
// own faults.
package api
