package types

import (
	"time"
)

// TaskState represents the lifecycle state of a task record
type TaskState string

const (
	TaskStatePending TaskState = "PENDING"
	TaskStateStarted TaskState = "STARTED"
	TaskStateSuccess TaskState = "SUCCESS"
	TaskStateFailure TaskState = "FAILURE"
	TaskStateRevoked TaskState = "REVOKED"
)

// Terminal reports whether the state permits no further transitions
func (s TaskState) Terminal() bool {
	return s == TaskStateSuccess || s == TaskStateFailure || s == TaskStateRevoked
}

// TaskKind distinguishes single tasks from group parents
type TaskKind string

const (
	TaskKindSingle TaskKind = "single"
	TaskKindGroup  TaskKind = "group"
)

// TaskRecord is the durable result-store entity describing one task.
// Result and Traceback are mutually exclusive; Children is set only for
// group parents. Metadata carries application data such as ingest
// progress, namespace, and file hashes.
type TaskRecord struct {
	TaskID    string            `json:"task_id"`
	Kind      TaskKind          `json:"kind"`
	Name      string            `json:"name,omitempty"`
	State     TaskState         `json:"state"`
	Result    []byte            `json:"result,omitempty"`
	Traceback string            `json:"traceback,omitempty"`
	Children  []string          `json:"children,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ServiceID identifies one of the managed long-running processes
type ServiceID string

const (
	ServiceAPI     ServiceID = "server"
	ServiceWorker  ServiceID = "worker"
	ServiceRuntime ServiceID = "runtime"
)

// ServiceState represents the lifecycle state of a managed service
type ServiceState string

const (
	ServiceStateStopped  ServiceState = "stopped"
	ServiceStateStarting ServiceState = "starting"
	ServiceStateRunning  ServiceState = "running"
	ServiceStateStopping ServiceState = "stopping"
	ServiceStateFailed   ServiceState = "failed"
)

// OrchestrationMode selects how services are spawned
type OrchestrationMode string

const (
	ModeNative    OrchestrationMode = "native"
	ModeContainer OrchestrationMode = "container"
	ModeAuto      OrchestrationMode = "auto"
)

// ServiceDescriptor tracks one managed process or container.
// Owned exclusively by the orchestrator; mutated on state transitions.
type ServiceDescriptor struct {
	ServiceID      ServiceID         `json:"service_id"`
	Mode           OrchestrationMode `json:"mode"`
	Command        []string          `json:"command,omitempty"`
	Image          string            `json:"image,omitempty"`
	Env            []string          `json:"env,omitempty"`
	Port           int               `json:"port"`
	LogPath        string            `json:"log_path"`
	PID            int               `json:"pid,omitempty"`
	ContainerID    string            `json:"container_id,omitempty"`
	HealthEndpoint string            `json:"health_endpoint"`
	State          ServiceState      `json:"state"`
	Degraded       bool              `json:"degraded,omitempty"`
	StartedAt      time.Time         `json:"started_at,omitempty"`
}

// Uptime returns how long the service has been running, zero when stopped
func (d *ServiceDescriptor) Uptime() time.Duration {
	if d.State != ServiceStateRunning || d.StartedAt.IsZero() {
		return 0
	}
	return time.Since(d.StartedAt)
}

// HealthState is the coarse health of a service or component
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// ComponentHealth describes one dependency inside a service's health report
type ComponentHealth struct {
	Status    HealthState `json:"status"`
	LatencyMs int64       `json:"latency_ms"`
	Message   string      `json:"message,omitempty"`
}

// HealthReport is the payload every service returns from /health
type HealthReport struct {
	Status     HealthState                `json:"status"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Chunk is one embeddable unit of a parsed document.
// ChunkID is H(document_hash || chunk_index), unique per collection.
type Chunk struct {
	ChunkID      string            `json:"chunk_id"`
	DocumentID   string            `json:"document_id"`
	DocumentHash string            `json:"document_hash"`
	SourcePath   string            `json:"source_path"`
	Text         string            `json:"text"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Embedding    []float32         `json:"embedding,omitempty"`
}

// SkippedFile records a file or chunk the pipeline could not process
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestResult is the result payload of a rag.ingest_file task
type IngestResult struct {
	ProcessedFiles  int           `json:"processed_files"`
	StoredChunks    int           `json:"stored_chunks"`
	Skipped         []SkippedFile `json:"skipped"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// QueryHit is one retrieval result from a vector store query
type QueryHit struct {
	ChunkID    string            `json:"chunk_id"`
	Score      float32           `json:"score"`
	Text       string            `json:"text"`
	SourcePath string            `json:"source_path"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DownloadEventType enumerates SSE model-download events
type DownloadEventType string

const (
	DownloadStart    DownloadEventType = "start"
	DownloadProgress DownloadEventType = "progress"
	DownloadEnd      DownloadEventType = "end"
	DownloadDone     DownloadEventType = "done"
	DownloadError    DownloadEventType = "error"
)

// DownloadEvent is one message on the model-download SSE stream.
// Exactly one terminal event (done or error) closes a stream.
type DownloadEvent struct {
	Type     DownloadEventType `json:"type"`
	Desc     string            `json:"desc,omitempty"`
	N        int64             `json:"n,omitempty"`
	Total    int64             `json:"total,omitempty"`
	LocalDir string            `json:"local_dir,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// FailureCode classifies user-visible failures
type FailureCode string

const (
	CodeConfig     FailureCode = "config_error"
	CodeTransport  FailureCode = "transport_error"
	CodeHandler    FailureCode = "handler_error"
	CodeDependency FailureCode = "dependency_error"
	CodeTimeout    FailureCode = "timeout"
	CodeRevoked    FailureCode = "revoked"
)

// Failure is the user-visible error payload. Recovery holds shell
// commands the CLI and UI render verbatim.
type Failure struct {
	Code     FailureCode `json:"code"`
	Message  string      `json:"message"`
	Recovery []string    `json:"recovery,omitempty"`
}

func (f *Failure) Error() string {
	return f.Message
}
