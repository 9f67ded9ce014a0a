package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())

	mock := &MockClient{ProviderName: "test-provider"}
	reg.Register("test-provider", mock)

	client, err := reg.Resolve("test-provider")
	require.NoError(t, err)
	assert.Equal(t, "test-provider", client.Name())
}

func TestRegistryAlias(t *testing.T) {
	reg := NewRegistry(silentLog())

	reg.Register("anthropic", &MockClient{ProviderName: "anthropic"})
	reg.Register("modelscope", &MockClient{ProviderName: "modelscope"})
	reg.Alias("claude-sonnet", "anthropic")
	reg.Alias("qwen-plus", "modelscope")

	client, err := reg.Resolve("claude-sonnet")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", client.Name())

	client, err = reg.Resolve("qwen-plus")
	require.NoError(t, err)
	assert.Equal(t, "modelscope", client.Name())
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(silentLog())

	reg.Register("default-llm", &MockClient{ProviderName: "default-llm"})
	reg.SetFallback("default-llm")

	// Unknown model should resolve to fallback
	client, err := reg.Resolve("unknown-model-xyz")
	require.NoError(t, err)
	assert.Equal(t, "default-llm", client.Name())
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())

	_, err := reg.Resolve("nonexistent")
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Contains(t, err.Error(), `"nonexistent"`)

	reg.SetFallback("missing")
	_, err = reg.Resolve("nonexistent")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("b", &MockClient{ProviderName: "b"})
	reg.Register("a", &MockClient{ProviderName: "a"})

	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.LLMConfig{
		TimeoutSeconds: 30,
		Providers: []config.ProviderEntry{
			{Name: "modelscope", API: "openai", BaseURL: "https://api-inference.modelscope.cn/v1", Models: []string{"qwen-plus"}},
			{Name: "claude", API: "anthropic", APIKey: "sk-ant", Models: []string{"claude-sonnet"}},
		},
	}
	reg := NewRegistryFromConfig(cfg, silentLog())
	assert.Equal(t, []string{"claude", "modelscope"}, reg.List())

	client, err := reg.Resolve("claude-sonnet")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)

	client, err = reg.Resolve("qwen-plus")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)

	// First provider is the fallback
	client, err = reg.Resolve("something-else")
	require.NoError(t, err)
	assert.Equal(t, "modelscope", client.Name())
}

// --- MockClient tests ---

func TestMockClientComplete(t *testing.T) {
	mock := &MockClient{
		ProviderName: "test",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{
				Content: "The answer is 42",
				Usage:   Usage{InputTokens: 10, OutputTokens: 5},
			}, nil
		},
	}

	resp, err := mock.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "What is the answer?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42", resp.Content)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, "What is the answer?", mock.Requests()[0].Messages[0].Content)
}

func TestMockClientDefaultComplete(t *testing.T) {
	mock := &MockClient{ProviderName: "default"}
	resp, err := mock.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
}

func TestMockClientCompleteError(t *testing.T) {
	mock := &MockClient{
		ProviderName: "test",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return nil, &ProviderError{Provider: "test", Message: "rate limited", Code: 429}
		},
	}

	_, err := mock.Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)

	var provErr *ProviderError
	assert.ErrorAs(t, err, &provErr)
	assert.Equal(t, 429, provErr.Code)
}

func TestProviderErrorFormat(t *testing.T) {
	tests := []struct {
		err  ProviderError
		want string
	}{
		{ProviderError{Provider: "a", Message: "fail", Code: 500}, "a: 500 fail"},
		{ProviderError{Provider: "b", Message: "oops"}, "b: oops"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error(), fmt.Sprintf("%+v", tt.err))
	}
}

func TestToolCallJSON(t *testing.T) {
	tc := ToolCall{ID: "call_1", Name: "search_course_content", Arguments: json.RawMessage(`{"query":"mcp"}`)}
	data, err := json.Marshal(tc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"call_1","name":"search_course_content","arguments":{"query":"mcp"}}`, string(data))
}

// --- Failover tests ---

func TestFailoverPrimarySucceeds(t *testing.T) {
	reg := NewRegistry(silentLog())
	primary := &MockClient{ProviderName: "primary"}
	reg.Register("primary", primary)

	fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	resp, err := fc.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, "primary", primary.Requests()[0].Model)
}

func TestFailoverOnRetryableError(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{
		ProviderName: "primary",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return nil, &ProviderError{Provider: "primary", Code: 503, Message: "unavailable"}
		},
	})
	backup := &MockClient{
		ProviderName: "backup",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "from backup"}, nil
		},
	}
	reg.Register("backup", backup)

	fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	resp, err := fc.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
	assert.Equal(t, "backup", backup.Requests()[0].Model)
}

func TestFailoverStopsOnNonRetryable(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{
		ProviderName: "primary",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return nil, &ProviderError{Provider: "primary", Code: 400, Message: "bad request"}
		},
	})
	backup := &MockClient{ProviderName: "backup"}
	reg.Register("backup", backup)

	fc := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	_, err := fc.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
	assert.Equal(t, 0, backup.Calls())
}

func TestFailoverNoProviders(t *testing.T) {
	fc := NewFailoverClient(NewRegistry(silentLog()), "m", nil, silentLog())
	_, err := fc.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM provider")
}

func TestFailoverJoinsEveryAttempt(t *testing.T) {
	reg := NewRegistry(silentLog())
	down := &MockClient{
		ProviderName: "down",
		CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
			return nil, &ProviderError{Provider: "down", Code: 529, Message: "overloaded"}
		},
	}
	reg.Register("a", down)
	reg.Register("b", down)

	fc := NewFailoverClient(reg, "a", []string{"a", "b", ""}, silentLog())
	assert.Equal(t, "failover:a", fc.Name())

	_, err := fc.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 2, down.Calls())
	assert.Contains(t, err.Error(), "a: down: 529 overloaded")
	assert.Contains(t, err.Error(), "b: down: 529 overloaded")

	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestFailoverStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry(silentLog())
	reg.Register("a", &MockClient{CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		cancel()
		return nil, &ProviderError{Provider: "a", Code: 503}
	}})
	backup := &MockClient{}
	reg.Register("b", backup)

	_, err := NewFailoverClient(reg, "a", []string{"b"}, silentLog()).Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, backup.Calls())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(&ProviderError{Code: 429}))
	assert.True(t, IsRetryable(&ProviderError{Code: 401}))
	assert.False(t, IsRetryable(&ProviderError{Code: 400}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &ProviderError{Code: 502})))
	assert.True(t, IsRetryable(errors.New("Client.Timeout exceeded")))
	assert.False(t, IsRetryable(errors.New("invalid model")))
}

// --- Rate limiter tests ---

func TestRateLimitedClientDisabled(t *testing.T) {
	mock := &MockClient{ProviderName: "m"}
	assert.Same(t, Client(mock), NewRateLimitedClient(mock, 0))
}

func TestRateLimitedClientDelegates(t *testing.T) {
	mock := &MockClient{ProviderName: "m"}
	c := NewRateLimitedClient(mock, 600)
	assert.Equal(t, "m", c.Name())

	resp, err := c.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, 1, mock.Calls())
}

func TestRateLimitedClientHonoursContext(t *testing.T) {
	mock := &MockClient{ProviderName: "m"}
	c := NewRateLimitedClient(mock, 1)

	_, err := c.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	// The bucket is now empty; the next token arrives in a minute.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Equal(t, 1, mock.Calls())
}
