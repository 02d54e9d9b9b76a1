package engine

import "github.com/tweenson/artificer/observability"

// Observability event types emitted by the engine.
const (
	EventJobEnqueueFailed  observability.EventType = "engine.job_enqueue_failed"
	EventMemoryUnavailable observability.EventType = "engine.memory_unavailable"
)
