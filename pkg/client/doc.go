// Package client is the Go client for the LlamaFarm API server, used by
// the CLI. Every call takes a context; long polls and streams stop when
// it is cancelled.
package client
