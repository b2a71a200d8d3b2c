package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/careloop/sam-agent/internal/llm"
	"github.com/careloop/sam-agent/internal/tools"
)

// Dispatcher executes a batch of model tool calls against the registry.
// Every call produces exactly one tool message, in call order, tagged
// with the originating call id, so a batch with failures still returns
// a complete result set. Dispatch never returns an error: a tool that
// cannot run becomes an error payload for the model to read.
type Dispatcher struct {
	registry *tools.Registry
	retries  int
	backoff  time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// DispatcherOptions configures tool execution.
type DispatcherOptions struct {
	// Retries is how many times a failed tool is retried before its
	// failure is reported to the model.
	Retries int
	// Backoff is the delay before the first retry; it doubles per
	// attempt.
	Backoff time.Duration
	// Timeout bounds a single tool invocation.
	Timeout time.Duration
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *tools.Registry, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		timeout:  opts.Timeout,
		logger:   logger,
	}
}

// Dispatch runs the calls in order and returns one tool message per
// call, in the same order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, 0, len(calls))
	for _, tc := range calls {
		results = append(results, llm.Message{
			Role:       llm.RoleTool,
			Content:    d.dispatchOne(ctx, tc),
			ToolCallID: tc.ID,
		})
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, tc llm.ToolCall) string {
	tool := d.registry.Get(tc.Function.Name)
	if tool == nil {
		d.logger.Warn("unknown tool requested",
			"tool", tc.Function.Name,
			"call_id", tc.ID,
		)
		return failurePayload(tc.Function.Name, &tools.ErrToolUnavailable{ToolName: tc.Function.Name})
	}

	attempts := 1 + d.retries

	var lastErr error
	backoff := d.backoff
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			d.logger.Warn("retrying tool",
				"tool", tc.Function.Name,
				"call_id", tc.ID,
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return failurePayload(tc.Function.Name, ctx.Err())
			}
			backoff *= 2
		}

		start := time.Now()
		result, err := d.execute(ctx, tc)
		if err == nil {
			d.logger.Debug("tool executed",
				"tool", tc.Function.Name,
				"call_id", tc.ID,
				"kind", tool.Kind,
				"result_len", len(result),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return result
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			break
		}
	}

	d.logger.Error("tool failed",
		"tool", tc.Function.Name,
		"call_id", tc.ID,
		"attempts", attempts,
		"error", lastErr,
	)
	return failurePayload(tc.Function.Name, lastErr)
}

func (d *Dispatcher) execute(ctx context.Context, tc llm.ToolCall) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.registry.Execute(execCtx, tc.Function.Name, tc.Function.Arguments)
}

// failurePayload renders a tool failure as JSON so the model can
// explain the problem to the user instead of the turn crashing.
func failurePayload(name string, err error) string {
	payload, marshalErr := json.Marshal(map[string]string{
		"tool":  name,
		"error": err.Error(),
	})
	if marshalErr != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(payload)
}
