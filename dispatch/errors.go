package dispatch

import (
	"errors"

	"github.com/tweenson/artificer/observability"
)

// Tool error kinds. All are surfaced as in-band events; the pipeline
// continues or aborts per the issuing task's criticality.
var (
	ErrToolNotFound      = errors.New("tool not registered")
	ErrInvalidParams     = errors.New("invalid tool parameters")
	ErrExecutionFailed   = errors.New("tool execution failed")
	ErrClientUnavailable = errors.New("no connected client session")
	ErrTimeout           = errors.New("tool call timed out")
)

// Observability event types emitted by the dispatcher.
const (
	EventInvoke     observability.EventType = "dispatch.invoke"
	EventForward    observability.EventType = "dispatch.forward"
	EventResolved   observability.EventType = "dispatch.resolved"
	EventLateResult observability.EventType = "dispatch.late_result"
)
