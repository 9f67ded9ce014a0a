package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/soyeahso/coursemate/internal/version"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// ChatClient is the subset of the go-openai client the adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, ModelScope, vLLM, Ollama's /v1 shim, ...).
type OpenAIClient struct {
	name    string
	baseURL string
	chat    ChatClient
}

// ProviderOptions configures an HTTP provider client.
type ProviderOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Headers map[string]string
	Timeout time.Duration
}

func (o ProviderOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 120 * time.Second
	}
	return o.Timeout
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(opts ProviderOptions) *OpenAIClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	name := opts.Name
	if name == "" {
		name = "openai"
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = base
	cfg.HTTPClient = &http.Client{
		Timeout:   opts.timeout(),
		Transport: &headerTransport{headers: opts.Headers},
	}
	return &OpenAIClient{name: name, baseURL: base, chat: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return c.name }

// Complete sends a chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.chat.CreateChatCompletion(ctx, c.buildRequest(req))
	if err != nil {
		return nil, c.providerError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.name, Message: "response has no choices"}
	}
	return responseToCompletion(resp, time.Since(start)), nil
}

func (c *OpenAIClient) buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messagesToOpenAI(req.System, req.Messages),
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		// go-openai drops a zero temperature from the payload.
		out.Temperature = float32(*req.Temperature)
		if out.Temperature == 0 {
			out.Temperature = math.SmallestNonzeroFloat32
		}
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]openai.Tool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
		choice := req.ToolChoice
		if choice == "" {
			choice = ToolChoiceAuto
		}
		out.ToolChoice = choice
	}
	return out
}

func messagesToOpenAI(system string, msgs []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		switch {
		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			calls := make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   m.Content,
				ToolCalls: calls,
			})
		case m.Role == RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
				Content:    m.Content,
			})
		default:
			result = append(result, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	}
	return result
}

func responseToCompletion(resp openai.ChatCompletionResponse, duration time.Duration) *CompletionResponse {
	choice := resp.Choices[0]

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			args = json.RawMessage("{}")
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		ToolCalls:  toolCalls,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model:    resp.Model,
		Duration: duration,
	}
}

// providerError maps go-openai's API and transport errors onto ProviderError
// so failover can read the status code.
func (c *OpenAIClient) providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.name, Code: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Error()
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return errorFromBody(c.name, reqErr.HTTPStatusCode, nil, msg)
	}
	return fmt.Errorf("%s: request failed: %w", c.name, err)
}

// headerTransport stamps the user agent and any configured extra headers on
// every outgoing request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
