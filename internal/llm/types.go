// Package llm provides the model-provider boundary: provider-neutral
// chat types, the Client interface, and the retrying Gateway used by
// the agent loop.
package llm

import "time"

// Message roles used throughout the conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents one conversation turn. Content may be empty when
// the message only carries tool calls. ToolCallID is set on RoleTool
// messages and names the assistant tool call the result answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request from the model to invoke a named
// tool. It exists only inside one assistant message and its matching
// tool result.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from the provider. Wire format
// conversion happens at the provider boundary (openai.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}
