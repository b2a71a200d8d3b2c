// Package memory provides the conversation state store: the ordered,
// append-only message history for each thread key.
package memory

import (
	"time"

	"github.com/careloop/sam-agent/internal/llm"
)

// Store is the contract the turn loop depends on. Append must be
// visible to any subsequent History call for the same thread key
// (read-your-writes); no cross-thread ordering is guaranteed. Messages
// are immutable once appended.
type Store interface {
	// Append adds one message to the end of the thread's history,
	// creating the conversation on first use.
	Append(threadKey string, msg llm.Message) error

	// History returns the thread's messages in append order. A thread
	// key with no history yields an empty slice, not an error.
	History(threadKey string) ([]llm.Message, error)
}

// Conversation is the stored metadata for one thread.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
