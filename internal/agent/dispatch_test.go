package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/careloop/sam-agent/internal/llm"
	"github.com/careloop/sam-agent/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher(registry *tools.Registry, retries int) *Dispatcher {
	return NewDispatcher(registry, DispatcherOptions{
		Retries: retries,
		Backoff: time.Millisecond,
		Timeout: time.Second,
	}, testLogger())
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{
		ID:       id,
		Function: llm.FunctionCall{Name: name, Arguments: args},
	}
}

func TestDispatchOrderAndCallIDs(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "echo",
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return args["v"].(string), nil
		},
	})

	d := newDispatcher(registry, 0)
	results := d.Dispatch(context.Background(), []llm.ToolCall{
		call("call-a", "echo", map[string]any{"v": "first"}),
		call("call-b", "echo", map[string]any{"v": "second"}),
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, want := range []struct{ id, content string }{
		{"call-a", "first"},
		{"call-b", "second"},
	} {
		if results[i].Role != llm.RoleTool {
			t.Errorf("result %d role = %q", i, results[i].Role)
		}
		if results[i].ToolCallID != want.id {
			t.Errorf("result %d call id = %q, want %q", i, results[i].ToolCallID, want.id)
		}
		if results[i].Content != want.content {
			t.Errorf("result %d content = %q, want %q", i, results[i].Content, want.content)
		}
	}
}

func TestDispatchUnknownToolReportsError(t *testing.T) {
	d := newDispatcher(tools.NewRegistry(), 2)

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		call("call-x", "teleport", nil),
	})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ToolCallID != "call-x" {
		t.Errorf("call id = %q", results[0].ToolCallID)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(results[0].Content), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["tool"] != "teleport" || payload["error"] == "" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDispatchRetriesWrites(t *testing.T) {
	attempts := 0
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "book",
		Kind: tools.KindWrite,
		Handler: func(context.Context, map[string]any) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("caldav: 503")
			}
			return "booked", nil
		},
	})

	d := newDispatcher(registry, 2)
	results := d.Dispatch(context.Background(), []llm.ToolCall{call("c1", "book", nil)})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if results[0].Content != "booked" {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestDispatchWriteExhaustedBecomesPayload(t *testing.T) {
	attempts := 0
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "book",
		Kind: tools.KindWrite,
		Handler: func(context.Context, map[string]any) (string, error) {
			attempts++
			return "", errors.New("caldav: 503")
		},
	})

	d := newDispatcher(registry, 2)
	results := d.Dispatch(context.Background(), []llm.ToolCall{call("c1", "book", nil)})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(results[0].Content), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["tool"] != "book" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDispatchRetriesReads(t *testing.T) {
	attempts := 0
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "lookup",
		Kind: tools.KindRead,
		Handler: func(context.Context, map[string]any) (string, error) {
			attempts++
			if attempts < 2 {
				return "", errors.New("caldav: 503")
			}
			return "[]", nil
		},
	})

	d := newDispatcher(registry, 2)
	results := d.Dispatch(context.Background(), []llm.ToolCall{call("c1", "lookup", nil)})

	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if results[0].Content != "[]" {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestDispatchReadExhaustedBecomesPayload(t *testing.T) {
	attempts := 0
	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name: "lookup",
		Kind: tools.KindRead,
		Handler: func(context.Context, map[string]any) (string, error) {
			attempts++
			return "", errors.New("caldav: 503")
		},
	})

	d := newDispatcher(registry, 2)
	results := d.Dispatch(context.Background(), []llm.ToolCall{call("c1", "lookup", nil)})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(results[0].Content), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["tool"] != "lookup" {
		t.Errorf("payload = %v", payload)
	}
}
