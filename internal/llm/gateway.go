package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Gateway wraps a Client with the retry policy the agent loop relies
// on. It never mutates the conversation it is given; persistence is
// owned by the caller.
type Gateway struct {
	client  Client
	model   string
	retries int
	backoff time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// Model is the model identifier sent on every request.
	Model string
	// Retries is the number of attempts after the first failure.
	Retries int
	// Backoff is the delay before the first retry; doubles per attempt.
	Backoff time.Duration
	// Timeout bounds a single completion attempt.
	Timeout time.Duration
}

// NewGateway wraps client with retry and timeout policy.
func NewGateway(client Client, opts GatewayOptions, logger *slog.Logger) *Gateway {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Gateway{
		client:  client,
		model:   opts.Model,
		retries: opts.Retries,
		backoff: opts.Backoff,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Complete sends the full ordered history plus tool schemas and returns
// one assistant message.
//
// Transient provider failures are retried with doubling backoff; once
// the budget is exhausted the error wraps [ErrModelUnavailable]. Schema
// violations are not retried — a provider that answers with a malformed
// body will do so again — and wrap [ErrModelProtocol].
func (g *Gateway) Complete(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	var lastErr error
	delay := g.backoff

	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("retrying model call",
				"attempt", attempt,
				"max_retries", g.retries,
				"delay", delay,
				"error", lastErr,
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, ctx.Err())
			case <-timer.C:
			}
			delay *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.client.Chat(attemptCtx, g.model, messages, tools)
		cancel()

		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrModelProtocol) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, lastErr)
}

// Model returns the configured model identifier.
func (g *Gateway) Model() string {
	return g.model
}
