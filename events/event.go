// Package events implements the ordered per-session event stream that
// exposes pipeline progress to clients. Every state change in a pipeline run
// is published as an Event; the transport layer relays the stream to the
// originating client session.
package events

import "encoding/json"

// Kind identifies the type of a session event.
type Kind string

const (
	KindTaskSwitch   Kind = "task_switch"
	KindToolCall     Kind = "tool_call"
	KindToolResult   Kind = "tool_result"
	KindContentChunk Kind = "content_chunk"
	KindError        Kind = "error"
	KindDone         Kind = "done"
	KindCancelled    Kind = "cancelled"
)

// Terminal reports whether the kind ends a pipeline run. Error is terminal
// only when its payload says so; use Event.Terminal for the full check.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindCancelled
}

// Event is one frame of a session's event stream. Seq is strictly increasing
// per session with no gaps across a pipeline run; events are never mutated
// after emission.
type Event struct {
	Session string          `json:"session"`
	Seq     uint64          `json:"seq"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Terminal reports whether this event ends the pipeline run. Done and
// Cancelled always do; Error does when emitted for a blocking task.
func (e Event) Terminal() bool {
	if e.Kind.Terminal() {
		return true
	}
	if e.Kind != KindError {
		return false
	}
	var p ErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return false
	}
	return p.Terminal
}

// resultPreviewLimit caps tool result text carried on the stream; full
// results still reach the model, only the client-facing frame is truncated.
const resultPreviewLimit = 500

// TaskSwitchPayload announces a transition between pipeline tasks.
// From is empty for the first task of a run.
type TaskSwitchPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// ToolCallPayload describes a tool invocation issued by a task. For tools
// with client execution location this frame IS the forwarded invocation:
// the client executes the tool and posts a result carrying CorrelationID.
type ToolCallPayload struct {
	Task          string          `json:"task"`
	Toolbelt      string          `json:"toolbelt"`
	Tool          string          `json:"tool"`
	CorrelationID string          `json:"correlation_id"`
	Location      string          `json:"location"`
	Args          json.RawMessage `json:"args,omitempty"`
}

// ToolResultPayload carries the outcome of a tool invocation.
type ToolResultPayload struct {
	Task          string `json:"task"`
	Toolbelt      string `json:"toolbelt"`
	Tool          string `json:"tool"`
	CorrelationID string `json:"correlation_id"`
	Result        string `json:"result"`
	Truncated     bool   `json:"truncated,omitempty"`
	IsError       bool   `json:"is_error,omitempty"`
}

// Preview truncates a tool result for stream display, mirroring what the
// original full result looked like via the Truncated flag.
func Preview(result string) (string, bool) {
	if len(result) <= resultPreviewLimit {
		return result, false
	}
	return result[:resultPreviewLimit], true
}

// ContentChunkPayload carries one streamed chunk of model output.
type ContentChunkPayload struct {
	Content string `json:"content"`
}

// ErrorPayload reports a task or pipeline failure. Terminal marks the error
// as the run's terminal event (blocking task failed); non-terminal errors
// come from best-effort tasks and execution proceeds.
type ErrorPayload struct {
	Task     string `json:"task,omitempty"`
	Message  string `json:"message"`
	Terminal bool   `json:"terminal,omitempty"`
}

// DonePayload ends a successful pipeline run with the synthesized response.
type DonePayload struct {
	ConversationID int64  `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

// CancelledPayload ends a cancelled pipeline run.
type CancelledPayload struct {
	Task string `json:"task,omitempty"`
}
