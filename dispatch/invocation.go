// Package dispatch validates and executes tool invocations. Server-located
// tools run in-process under an execution timeout; client-located tools are
// forwarded over the session's event channel and awaited by correlation id.
package dispatch

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Invocation is one tool call. It is created per call and exclusively owned
// by the pipeline step that issued it until a matching result arrives or the
// call times out. ID is the correlation id, unique per outstanding
// invocation.
type Invocation struct {
	ID       string
	Toolbelt string
	Tool     string
	Params   json.RawMessage
}

// NewInvocation creates an Invocation with a fresh correlation id.
func NewInvocation(toolbelt, tool string, params json.RawMessage) Invocation {
	return Invocation{
		ID:       uuid.NewString(),
		Toolbelt: toolbelt,
		Tool:     tool,
		Params:   params,
	}
}

// Result is the successful outcome of an invocation. Failures travel as
// errors wrapping the package's sentinel tool errors.
type Result struct {
	ID    string
	Value string
}

// ClientResult is the client→server resolution message for a forwarded
// invocation: success carries Value, failure carries Error.
type ClientResult struct {
	CorrelationID string `json:"correlation_id"`
	Value         string `json:"value,omitempty"`
	Error         string `json:"error,omitempty"`
}
