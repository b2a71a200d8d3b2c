// Package agent runs conversation turns: it feeds history and the
// system prompt to the model, dispatches the tool calls the model
// requests, and persists every message along the way.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careloop/sam-agent/internal/llm"
	"github.com/careloop/sam-agent/internal/memory"
	"github.com/careloop/sam-agent/internal/prompts"
	"github.com/careloop/sam-agent/internal/tools"
)

// DefaultMaxIterations caps model round trips within a single turn.
const DefaultMaxIterations = 25

// Loop drives conversation turns for all threads. Turns on the same
// thread key run one at a time; distinct threads run concurrently.
type Loop struct {
	gateway    *llm.Gateway
	store      memory.Store
	registry   *tools.Registry
	dispatcher *Dispatcher
	location   *time.Location
	maxIter    int
	logger     *slog.Logger

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// LoopOptions configures the turn loop.
type LoopOptions struct {
	// Location is the clinic timezone stamped into the system prompt.
	Location *time.Location
	// MaxIterations caps model round trips per turn. Zero means
	// DefaultMaxIterations.
	MaxIterations int
}

// NewLoop creates a turn loop.
func NewLoop(gateway *llm.Gateway, store memory.Store, registry *tools.Registry, dispatcher *Dispatcher, opts LoopOptions, logger *slog.Logger) *Loop {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		gateway:    gateway,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		location:   opts.Location,
		maxIter:    opts.MaxIterations,
		logger:     logger,
	}
}

// threadLock returns the mutex for a thread key, creating it on first
// use. Locks are never removed; the key space is one entry per user.
func (l *Loop) threadLock(threadKey string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.threads == nil {
		l.threads = make(map[string]*sync.Mutex)
	}
	m := l.threads[threadKey]
	if m == nil {
		m = &sync.Mutex{}
		l.threads[threadKey] = m
	}
	return m
}

// RunTurn processes one user message on a thread and returns the
// model's final text reply. The turn runs to completion even if the
// caller goes away: external writes and history appends are never
// abandoned mid-flight.
func (l *Loop) RunTurn(ctx context.Context, threadKey, userText string) (string, error) {
	if threadKey == "" {
		return "", fmt.Errorf("thread key is required")
	}
	if userText == "" {
		return "", fmt.Errorf("user text is required")
	}

	lock := l.threadLock(threadKey)
	lock.Lock()
	defer lock.Unlock()

	// Detach from caller cancellation. A dropped HTTP connection must
	// not abort an in-flight calendar write or leave the history with
	// a dangling tool call.
	ctx = context.WithoutCancel(ctx)
	ctx = tools.WithThreadKey(ctx, threadKey)

	start := time.Now()

	history, err := l.store.History(threadKey)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	// The system prompt is rebuilt each turn so the timestamp is
	// current; it is never written to the store.
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: prompts.System(time.Now(), l.location),
	})
	messages = append(messages, history...)

	userMsg := llm.Message{Role: llm.RoleUser, Content: userText}
	if err := l.store.Append(threadKey, userMsg); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}
	messages = append(messages, userMsg)

	toolDefs := l.registry.Schemas()

	l.logger.Info("turn started",
		"thread", threadKey,
		"history_len", len(history),
	)

	for i := 0; i < l.maxIter; i++ {
		resp, err := l.gateway.Complete(ctx, messages, toolDefs)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
		}

		l.logger.Debug("model response",
			"thread", threadKey,
			"iter", i,
			"tool_calls", len(resp.Message.ToolCalls),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		if err := l.store.Append(threadKey, resp.Message); err != nil {
			return "", fmt.Errorf("append assistant message: %w", err)
		}
		messages = append(messages, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			if resp.Message.Content == "" {
				return "", ErrEmptyResponse
			}
			l.logger.Info("turn completed",
				"thread", threadKey,
				"iterations", i+1,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return resp.Message.Content, nil
		}

		results := l.dispatcher.Dispatch(ctx, resp.Message.ToolCalls)
		for _, result := range results {
			if err := l.store.Append(threadKey, result); err != nil {
				return "", fmt.Errorf("append tool message: %w", err)
			}
		}
		messages = append(messages, results...)
	}

	l.logger.Warn("turn iteration limit reached",
		"thread", threadKey,
		"max_iterations", l.maxIter,
	)
	return "", ErrTurnLimitExceeded
}
