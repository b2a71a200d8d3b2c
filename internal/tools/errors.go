package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a name absent
// from the registry. This is a capability mismatch, not a transient
// failure: callers should feed it back into the conversation rather
// than retrying.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
