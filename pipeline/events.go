package pipeline

import "github.com/tweenson/artificer/observability"

// Observability event types emitted by the executor.
const (
	EventPipelineStart  observability.EventType = "pipeline.start"
	EventPipelineDone   observability.EventType = "pipeline.done"
	EventPipelineFailed observability.EventType = "pipeline.failed"
)
