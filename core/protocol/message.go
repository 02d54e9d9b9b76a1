// Package protocol defines the conversation wire types shared by the
// runtime: messages, roles, tool definitions, and tool calls. These are the
// canonical shapes used both for persistence and for talking to model
// endpoints.
package protocol

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation. Messages are
// immutable once appended to a conversation context.
//
// For tool-calling exchanges, assistant messages carry ToolCalls and tool
// result messages carry the ToolCallID that correlates back to the request.
type Message struct {
	Role        Role       `json:"role"`
	Content     string     `json:"content"`
	Attachments []string   `json:"attachments,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
}

// NewMessage creates a Message with the given role and content.
// Use struct literals directly when setting tool call fields.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// InitMessages creates a single-element message slice from a role and content.
// Convenience for initializing a conversation context from a prompt.
func InitMessages(role Role, content string) []Message {
	return []Message{NewMessage(role, content)}
}
