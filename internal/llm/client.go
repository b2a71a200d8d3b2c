package llm

import (
	"context"
	"errors"
)

// Sentinel errors for the two provider failure classes. The gateway
// guarantees every error it returns wraps one of these, so callers can
// map them to coarse user-visible failures without inspecting provider
// detail.
var (
	// ErrModelUnavailable covers network, timeout, and provider-side
	// errors after the retry budget is exhausted.
	ErrModelUnavailable = errors.New("model provider unavailable")

	// ErrModelProtocol covers responses that do not match the expected
	// schema (no choices, undecodable tool arguments, wrong role).
	ErrModelProtocol = errors.New("model protocol error")
)

// Client is the interface a chat-completions provider must implement.
type Client interface {
	// Chat sends the full ordered history plus tool schemas and returns
	// exactly one assistant message.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
