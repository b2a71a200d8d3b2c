package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/careloop/sam-agent/internal/agent"
	"github.com/careloop/sam-agent/internal/llm"
	"github.com/careloop/sam-agent/internal/tools"
)

type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
}

func (m *scriptedModel) Chat(context.Context, string, []llm.Message, []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *scriptedModel) Ping(context.Context) error { return nil }

type memStore struct {
	mu   sync.Mutex
	msgs map[string][]llm.Message
}

func (s *memStore) Append(threadKey string, msg llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgs == nil {
		s.msgs = make(map[string][]llm.Message)
	}
	s.msgs[threadKey] = append(s.msgs[threadKey], msg)
	return nil
}

func (s *memStore) History(threadKey string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.msgs[threadKey]...), nil
}

func newTestServer(model llm.Client) (*Server, *memStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway := llm.NewGateway(model, llm.GatewayOptions{
		Model:   "test-model",
		Backoff: time.Millisecond,
		Timeout: time.Second,
	}, logger)
	registry := tools.NewRegistry()
	dispatcher := agent.NewDispatcher(registry, agent.DispatcherOptions{
		Backoff: time.Millisecond,
	}, logger)
	store := &memStore{}
	loop := agent.NewLoop(gateway, store, registry, dispatcher, agent.LoopOptions{}, logger)
	return NewServer("127.0.0.1:0", loop, logger), store
}

func postChat(t *testing.T, handler http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatWithUserID(t *testing.T) {
	model := &scriptedModel{responses: []*llm.ChatResponse{
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "Hi! When would you like to come in?"}},
	}}
	server, store := newTestServer(model)

	rec := postChat(t, server.Handler(), map[string]any{
		"message": "I need an appointment",
		"user_id": "42",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ThreadID != "appointment-thread-42" {
		t.Errorf("thread id = %q", resp.ThreadID)
	}
	if resp.Response == "" {
		t.Error("empty response")
	}
	if len(store.msgs["appointment-thread-42"]) != 2 {
		t.Errorf("stored %d messages", len(store.msgs["appointment-thread-42"]))
	}
}

func TestChatWithExplicitThreadID(t *testing.T) {
	model := &scriptedModel{responses: []*llm.ChatResponse{
		{Message: llm.Message{Role: llm.RoleAssistant, Content: "ok"}},
	}}
	server, _ := newTestServer(model)

	rec := postChat(t, server.Handler(), map[string]any{
		"message":   "hi",
		"thread_id": "custom-thread",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ThreadID != "custom-thread" {
		t.Errorf("thread id = %q", resp.ThreadID)
	}
}

func TestChatValidation(t *testing.T) {
	server, _ := newTestServer(&scriptedModel{})
	handler := server.Handler()

	for _, body := range []map[string]any{
		{"user_id": "42"},                // no message
		{"message": "hi"},                // no thread or user
		{"message": "", "user_id": "42"}, // empty message
	} {
		rec := postChat(t, handler, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestChatModelUnavailable(t *testing.T) {
	server, _ := newTestServer(&scriptedModel{err: errors.New("connection refused")})

	rec := postChat(t, server.Handler(), map[string]any{
		"message": "hi",
		"user_id": "42",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	server, _ := newTestServer(&scriptedModel{})
	handler := server.Handler()

	for _, path := range []string{"/health", "/v1/version", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type = %q", path, ct)
		}
	}
}
