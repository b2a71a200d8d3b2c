package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/careloop/sam-agent/internal/httpkit"
)

// OpenAIClient speaks the OpenAI chat-completions wire format. Any
// compatible gateway works (OpenAI itself, or the OpenAI-compatibility
// endpoints of Gemini, Ollama, and most inference proxies).
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// baseURL is the API root including the version prefix, e.g.
// "https://api.openai.com/v1". The overall request timeout lives on the
// http.Client; per-call deadlines come from the caller's context.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(timeout),
	}
}

// Wire types. Tool call arguments are a JSON-encoded string on the
// wire; the neutral types carry a decoded map. Conversion happens here
// and nowhere else.

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []wireMessage    `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletion struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := chatRequest{
		Model: model,
		Tools: tools,
	}
	for _, m := range messages {
		wm, err := toWire(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, wm)
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var completion chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrModelProtocol, err)
	}

	return fromWire(&completion)
}

// Ping checks provider reachability by listing models.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping: API error %d", resp.StatusCode)
	}
	return nil
}

func toWire(m Message) (wireMessage, error) {
	wm := wireMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		var wtc wireToolCall
		wtc.ID = tc.ID
		wtc.Type = "function"
		wtc.Function.Name = tc.Function.Name

		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			return wireMessage{}, fmt.Errorf("marshal tool arguments for %s: %w", tc.Function.Name, err)
		}
		wtc.Function.Arguments = string(encoded)

		wm.ToolCalls = append(wm.ToolCalls, wtc)
	}
	return wm, nil
}

func fromWire(completion *chatCompletion) (*ChatResponse, error) {
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrModelProtocol)
	}

	choice := completion.Choices[0]
	if choice.Message.Role != RoleAssistant {
		return nil, fmt.Errorf("%w: unexpected message role %q", ErrModelProtocol, choice.Message.Role)
	}

	msg := Message{
		Role:    RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, wtc := range choice.Message.ToolCalls {
		tc := ToolCall{ID: wtc.ID}
		tc.Function.Name = wtc.Function.Name

		if wtc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(wtc.Function.Arguments), &tc.Function.Arguments); err != nil {
				return nil, fmt.Errorf("%w: undecodable arguments for tool %s: %v", ErrModelProtocol, wtc.Function.Name, err)
			}
		}

		msg.ToolCalls = append(msg.ToolCalls, tc)
	}

	return &ChatResponse{
		Model:        completion.Model,
		CreatedAt:    time.Unix(completion.Created, 0),
		Message:      msg,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}
