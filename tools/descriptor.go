// Package tools provides the catalog of invocable tools. Descriptors are
// registered declaratively at process start, the registry is frozen, and
// from then on it is shared read-only by all concurrent pipelines.
package tools

import (
	"context"
	"encoding/json"

	"github.com/tweenson/artificer/core/protocol"
)

// Location declares where a tool executes: inside the server process, or on
// the client machine that originated the session.
type Location string

const (
	LocationServer Location = "server"
	LocationClient Location = "client"
)

// Valid reports whether the location is a known value.
func (l Location) Valid() bool {
	return l == LocationServer || l == LocationClient
}

// Descriptor describes one registered tool. Toolbelt groups related tools
// sharing an execution location; Parameters is a JSON-Schema-shaped object
// describing the tool's input. Descriptors are immutable after registration.
type Descriptor struct {
	Toolbelt    string
	Name        string
	Description string
	Location    Location
	Parameters  map[string]any
}

// Tool returns the advertisable form of the descriptor for model endpoints.
func (d Descriptor) Tool() protocol.Tool {
	return protocol.Tool{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// Handler is the function signature for server-located tool implementations.
// Handlers receive the request context and JSON-encoded arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)
