package events

import (
	"errors"

	"github.com/tweenson/artificer/observability"
)

// ErrTerminated is returned by Publish when the session's current run has
// already emitted its terminal event.
var ErrTerminated = errors.New("pipeline run already terminated")

// Observability event types emitted by the bus.
const (
	EventDroppedAfterTerminal observability.EventType = "events.dropped_after_terminal"
)
