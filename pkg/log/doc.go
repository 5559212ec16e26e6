/*
Package log provides structured logging for LlamaFarm using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common patterns. Every long-running process (API server,
worker, orchestrator) initializes the global logger once at startup; the
orchestrator additionally redirects each managed service's stdio into its
own log file under logs/<service>.log.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	brokerLog := log.WithComponent("broker")
	brokerLog.Info().Str("queue", "rag").Msg("task dispatched")

	taskLog := log.WithTaskID(taskID)
	taskLog.Error().Err(err).Msg("ingestion failed")

Context helpers (WithComponent, WithServiceID, WithTaskID, WithDatabase)
return child loggers carrying the field on every line, which keeps task
and service traces greppable across processes.
*/
package log
