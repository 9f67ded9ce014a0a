package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/soyeahso/coursemate/internal/version"
)

const defaultAnthropicMaxTokens = 1024

// MessagesClient is the subset of the Anthropic SDK client the adapter uses.
// *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient speaks to the Anthropic Messages API.
type AnthropicClient struct {
	name string
	msg  MessagesClient
}

// NewAnthropicClient creates a new Anthropic Messages API client. Retries
// are disabled; failover across providers handles them.
func NewAnthropicClient(opts ProviderOptions) *AnthropicClient {
	name := opts.Name
	if name == "" {
		name = "anthropic"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: opts.timeout()}),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base+"/"))
	}
	for k, v := range opts.Headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}

	client := sdk.NewClient(reqOpts...)
	return &AnthropicClient{name: name, msg: &client.Messages}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string { return c.name }

// Complete sends a non-streaming request to the Messages API.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, c.providerError(err)
	}
	return messageToCompletion(msg, time.Since(start)), nil
}

func buildAnthropicParams(req CompletionRequest) (sdk.MessageNewParams, error) {
	system, msgs, err := messagesToAnthropic(req.System, req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	tools := req.Tools
	choice := req.ToolChoice
	if len(tools) == 0 {
		// The Messages API rejects tool_use blocks unless their tools are
		// declared, so a tools-disabled follow-up re-declares them with
		// tool_choice none.
		tools = declaredToolsFromHistory(req.Messages)
		if len(tools) > 0 {
			choice = ToolChoiceNone
		}
	}
	if len(tools) == 0 {
		return params, nil
	}

	params.Tools = make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.InputSchema}, t.Name)
		if u.OfTool != nil && t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	if choice == ToolChoiceNone {
		none := sdk.NewToolChoiceNoneParam()
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfNone: &none}
	} else {
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfAuto: &sdk.ToolChoiceAutoParam{}}
	}
	return params, nil
}

// declaredToolsFromHistory returns placeholder definitions for every tool
// name referenced by assistant tool calls in msgs.
func declaredToolsFromHistory(msgs []Message) []ToolDefinition {
	var defs []ToolDefinition
	seen := make(map[string]bool)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if seen[tc.Name] {
				continue
			}
			seen[tc.Name] = true
			defs = append(defs, ToolDefinition{Name: tc.Name})
		}
	}
	return defs
}

// messagesToAnthropic hoists system content and converts tool traffic into
// tool_use / tool_result content blocks. Consecutive tool results are merged
// into one user turn.
func messagesToAnthropic(system string, msgs []Message) (string, []sdk.MessageParam, error) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}

	var result []sdk.MessageParam
	var pending []sdk.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			result = append(result, sdk.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
		case RoleTool:
			pending = append(pending, sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case RoleAssistant:
			flush()
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" || len(m.ToolCalls) == 0 {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				if !json.Valid(tc.Arguments) {
					return "", nil, fmt.Errorf("tool call %s has invalid arguments", tc.ID)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			result = append(result, sdk.NewAssistantMessage(blocks...))
		default:
			flush()
			result = append(result, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	flush()

	return strings.Join(systemParts, "\n\n"), result, nil
}

func messageToCompletion(msg *sdk.Message, duration time.Duration) *CompletionResponse {
	var content strings.Builder
	var toolCalls []ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: string(msg.StopReason),
		ToolCalls:  toolCalls,
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model:    string(msg.Model),
		Duration: duration,
	}
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// providerError maps SDK API errors onto ProviderError so failover can read
// the status code.
func (c *AnthropicClient) providerError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	raw := apiErr.RawJSON()
	var body anthropicErrorBody
	_ = json.Unmarshal([]byte(raw), &body)
	return errorFromBody(c.name, apiErr.StatusCode, []byte(raw), body.Error.Message)
}
