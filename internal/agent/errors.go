package agent

import "errors"

var (
	// ErrAgentUnavailable indicates the model backend could not produce
	// a response for this turn, even after the gateway's retries.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrEmptyResponse indicates the model finished a turn with neither
	// text nor tool calls.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrTurnLimitExceeded indicates the model was still requesting
	// tools when the per-turn iteration cap ran out.
	ErrTurnLimitExceeded = errors.New("turn iteration limit exceeded")
)
