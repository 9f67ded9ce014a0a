package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/coursemate/internal/llm"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/soyeahso/coursemate/internal/tool"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// lookupTool returns a tool that echoes its query argument. If fail is set,
// the tool returns an error instead.
func lookupTool(name string, fail bool, delay time.Duration) *tool.Func {
	return &tool.Func{
		Def: tool.Definition{
			Name:        name,
			Description: "looks something up",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required":             []string{"query"},
				"additionalProperties": false,
			},
		},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			var p struct {
				Query string `json:"query"`
			}
			if err := tool.DecodeArgs(args, &p); err != nil {
				return "", err
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			if fail {
				return "", errors.New("index offline")
			}
			return name + ": " + p.Query, nil
		},
	}
}

func registryWith(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	return reg
}

func callTool(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// alwaysTool requests one tool call on every call that advertises tools.
func alwaysTool(name string) *llm.MockClient {
	var n int
	var mu sync.Mutex
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if len(req.Tools) == 0 {
				return &llm.CompletionResponse{Content: "final answer"}, nil
			}
			mu.Lock()
			n++
			id := fmt.Sprintf("call_%d", n)
			mu.Unlock()
			return &llm.CompletionResponse{
				ToolCalls: []llm.ToolCall{callTool(id, name, `{"query":"q"}`)},
			}, nil
		},
	}
}

// scripted returns the given responses in order.
func scripted(responses ...*llm.CompletionResponse) *llm.MockClient {
	var i int
	var mu sync.Mutex
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			if i >= len(responses) {
				return nil, errors.New("unexpected call")
			}
			r := responses[i]
			i++
			return r, nil
		},
	}
}

func TestNew_Defaults(t *testing.T) {
	g := New(&llm.MockClient{}, Options{}, silentLog())
	assert.Equal(t, DefaultMaxRounds, g.Options().MaxRounds)
	assert.Equal(t, 800, g.Options().MaxTokens)
}

func TestGenerate_NoTools(t *testing.T) {
	client := scripted(&llm.CompletionResponse{Content: "Paris is the capital of France."})
	g := New(client, Options{Model: "m"}, silentLog())

	got := g.Generate(context.Background(), Request{Query: "Capital of France?"})
	assert.Equal(t, "Paris is the capital of France.", got)
	require.Equal(t, 1, client.Calls())

	req := client.Requests()[0]
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, SystemPrompt, req.System)
	assert.Empty(t, req.Tools)
	assert.Empty(t, req.ToolChoice)
	assert.Equal(t, 800, req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.0, *req.Temperature)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Capital of France?", req.Messages[0].Content)
}

func TestGenerate_EmptyRegistryCountsAsNoTools(t *testing.T) {
	client := scripted(&llm.CompletionResponse{Content: "ok"})
	g := New(client, Options{}, silentLog())

	got := g.Generate(context.Background(), Request{Query: "q", Tools: tool.NewRegistry()})
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, client.Calls())
	assert.Empty(t, client.Requests()[0].Tools)
}

func TestGenerate_NilRegistryCountsAsNoTools(t *testing.T) {
	client := scripted(&llm.CompletionResponse{Content: "ok"})
	g := New(client, Options{}, silentLog())

	var reg *tool.Registry
	got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, client.Calls())
	assert.Empty(t, client.Requests()[0].Tools)
}

func TestGenerate_NoToolsProviderError(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "openai", Code: 500, Message: "boom"}
		},
	}
	g := New(client, Options{}, silentLog())

	got := g.Generate(context.Background(), Request{Query: "q"})
	assert.Equal(t, "Query failed: openai: 500 boom", got)
	assert.Equal(t, 1, client.Calls())
}

func TestGenerate_HistoryInSystemPrompt(t *testing.T) {
	client := scripted(&llm.CompletionResponse{Content: "ok"})
	g := New(client, Options{}, silentLog())

	g.Generate(context.Background(), Request{Query: "q", History: "User: hi\nAssistant: hello"})
	assert.Equal(t,
		SystemPrompt+"\n\nPrevious conversation:\nUser: hi\nAssistant: hello",
		client.Requests()[0].System)
}

func TestGenerate_ModelAnswersDirectly(t *testing.T) {
	client := scripted(&llm.CompletionResponse{Content: "direct"})
	g := New(client, Options{}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0))

	got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
	assert.Equal(t, "direct", got)
	require.Equal(t, 1, client.Calls())

	req := client.Requests()[0]
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "search", req.Tools[0].Name)
	assert.Equal(t, "looks something up", req.Tools[0].Description)
	assert.Equal(t, llm.ToolChoiceAuto, req.ToolChoice)
}

func TestGenerate_OneRoundThenAnswer(t *testing.T) {
	client := scripted(
		&llm.CompletionResponse{
			Content:   "let me check",
			ToolCalls: []llm.ToolCall{callTool("call_1", "search", `{"query":"mcp"}`)},
		},
		&llm.CompletionResponse{Content: "MCP is a protocol."},
	)
	g := New(client, Options{}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0))

	got := g.Generate(context.Background(), Request{Query: "What is MCP?", Tools: reg})
	assert.Equal(t, "MCP is a protocol.", got)
	require.Equal(t, 2, client.Calls())

	second := client.Requests()[1]
	assert.Equal(t, llm.ToolChoiceAuto, second.ToolChoice)
	assert.Len(t, second.Tools, 1)
	require.Len(t, second.Messages, 3)
	assert.Equal(t, llm.RoleUser, second.Messages[0].Role)

	assistant := second.Messages[1]
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	assert.Equal(t, "let me check", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)

	result := second.Messages[2]
	assert.Equal(t, llm.RoleTool, result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "search", result.ToolName)
	assert.Equal(t, "search: mcp", result.Content)
}

func TestGenerate_TwoSequentialRounds(t *testing.T) {
	client := scripted(
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{callTool("a", "outline", `{"query":"course x"}`)}},
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{callTool("b", "search", `{"query":"lesson 4 topic"}`)}},
		&llm.CompletionResponse{Content: "Course Y covers it too."},
	)
	g := New(client, Options{MaxRounds: 2}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0), lookupTool("outline", false, 0))

	got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
	assert.Equal(t, "Course Y covers it too.", got)
	require.Equal(t, 3, client.Calls())

	final := client.Requests()[2]
	assert.Empty(t, final.Tools)
	assert.Equal(t, llm.ToolChoiceNone, final.ToolChoice)
	require.Len(t, final.Messages, 5)
	assert.Equal(t, "outline: course x", final.Messages[2].Content)
	assert.Equal(t, "search: lesson 4 topic", final.Messages[4].Content)
}

func TestGenerate_MultipleCallsInOneRound(t *testing.T) {
	client := scripted(
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{
			callTool("1", "search", `{"query":"one"}`),
			callTool("2", "outline", `{"query":"two"}`),
		}},
		&llm.CompletionResponse{Content: "done"},
	)
	g := New(client, Options{}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0), lookupTool("outline", false, 0))

	assert.Equal(t, "done", g.Generate(context.Background(), Request{Query: "q", Tools: reg}))

	msgs := client.Requests()[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "1", msgs[2].ToolCallID)
	assert.Equal(t, "2", msgs[3].ToolCallID)
}

func TestGenerate_ParallelToolsKeepOrder(t *testing.T) {
	client := scripted(
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{
			callTool("slow", "slow", `{"query":"a"}`),
			callTool("fast", "fast", `{"query":"b"}`),
		}},
		&llm.CompletionResponse{Content: "done"},
	)
	g := New(client, Options{ParallelTools: true}, silentLog())
	reg := registryWith(t, lookupTool("slow", false, 30*time.Millisecond), lookupTool("fast", false, 0))

	assert.Equal(t, "done", g.Generate(context.Background(), Request{Query: "q", Tools: reg}))

	msgs := client.Requests()[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "slow: a", msgs[2].Content)
	assert.Equal(t, "fast: b", msgs[3].Content)
}

func TestGenerate_ToolFaultStopsLoop(t *testing.T) {
	client := alwaysTool("search")
	g := New(client, Options{}, silentLog())
	reg := registryWith(t, lookupTool("search", true, 0))

	got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
	assert.Equal(t, "Tool execution failed: search: index offline", got)
	assert.Equal(t, 1, client.Calls())
}

func TestGenerate_ParallelToolFault(t *testing.T) {
	client := scripted(&llm.CompletionResponse{ToolCalls: []llm.ToolCall{
		callTool("1", "ok", `{"query":"a"}`),
		callTool("2", "broken", `{"query":"b"}`),
	}})
	g := New(client, Options{ParallelTools: true}, silentLog())
	reg := registryWith(t, lookupTool("ok", false, 0), lookupTool("broken", true, 0))

	got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
	assert.Equal(t, "Tool execution failed: broken: index offline", got)
	assert.Equal(t, 1, client.Calls())
}

func TestGenerate_MalformedArgumentsAreFaults(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"invalid json", `{"query":`},
		{"missing required", `{}`},
		{"wrong type", `{"query": 42}`},
		{"unknown field", `{"query":"x","extra":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := scripted(&llm.CompletionResponse{
				ToolCalls: []llm.ToolCall{callTool("1", "search", tt.args)},
			})
			g := New(client, Options{}, silentLog())
			reg := registryWith(t, lookupTool("search", false, 0))

			got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
			assert.True(t, strings.HasPrefix(got, "Tool execution failed: invalid arguments for search"), got)
			assert.Equal(t, 1, client.Calls())
		})
	}
}

func TestGenerate_UnknownToolIsNotAFault(t *testing.T) {
	client := scripted(
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{callTool("1", "nonexistent", `{}`)}},
		&llm.CompletionResponse{Content: "sorry"},
	)
	g := New(client, Options{}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0))

	assert.Equal(t, "sorry", g.Generate(context.Background(), Request{Query: "q", Tools: reg}))
	msgs := client.Requests()[1].Messages
	assert.Equal(t, "Tool 'nonexistent' not found", msgs[2].Content)
}

func TestGenerate_ProviderErrorInsideLoop(t *testing.T) {
	var n int
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			n++
			if n == 1 {
				return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{callTool("1", "search", `{"query":"x"}`)}}, nil
			}
			return nil, errors.New("connection reset")
		},
	}
	g := New(client, Options{}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0))

	got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
	assert.Equal(t, "Sequential tool execution failed: connection reset", got)
	assert.Equal(t, 2, client.Calls())
}

func TestGenerate_FinalCallError(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if len(req.Tools) == 0 {
				return nil, errors.New("overloaded")
			}
			return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{callTool("1", "search", `{"query":"x"}`)}}, nil
		},
	}
	g := New(client, Options{MaxRounds: 1}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0))

	got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
	assert.Equal(t, "Sequential tool execution failed: overloaded", got)
	assert.Equal(t, 2, client.Calls())
}

func TestGenerate_Events(t *testing.T) {
	client := scripted(
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{callTool("c1", "search", `{"query":"x"}`)}},
		&llm.CompletionResponse{Content: "answer"},
	)
	g := New(client, Options{}, silentLog())
	reg := registryWith(t, lookupTool("search", false, 0))

	var events []Event
	g.Generate(context.Background(), Request{
		Query:   "q",
		Tools:   reg,
		Observe: func(e Event) { events = append(events, e) },
	})

	require.Len(t, events, 5)
	assert.Equal(t, Event{Type: EventModelCall, Round: 0, Tools: true}, events[0])
	assert.Equal(t, Event{Type: EventToolCall, Round: 1, Tool: "search", CallID: "c1", Input: `{"query":"x"}`}, events[1])
	assert.Equal(t, Event{Type: EventToolResult, Round: 1, Tool: "search", CallID: "c1", Output: "search: x"}, events[2])
	assert.Equal(t, Event{Type: EventModelCall, Round: 1, Tools: true}, events[3])
	assert.Equal(t, Event{Type: EventAnswer, Round: 1, Text: "answer"}, events[4])
}

func TestGenerate_NilResponse(t *testing.T) {
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, nil
		},
	}
	g := New(client, Options{}, silentLog())
	assert.Equal(t, "Query failed: mock returned no response", g.Generate(context.Background(), Request{Query: "q"}))
}

// --- Properties ---

func TestProperty_RoundCap(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("always-tool model makes MaxRounds+1 calls", prop.ForAll(
		func(maxRounds int) bool {
			client := alwaysTool("search")
			g := New(client, Options{MaxRounds: maxRounds}, silentLog())
			reg := tool.NewRegistry()
			reg.MustRegister(lookupTool("search", false, 0))

			got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
			if got != "final answer" || client.Calls() != maxRounds+1 {
				return false
			}

			reqs := client.Requests()
			last := reqs[len(reqs)-1]
			if len(last.Tools) != 0 || last.ToolChoice != llm.ToolChoiceNone {
				return false
			}
			for _, r := range reqs[:len(reqs)-1] {
				if len(r.Tools) != 1 || r.ToolChoice != llm.ToolChoiceAuto {
					return false
				}
			}
			// user + (assistant + tool) per round
			return len(last.Messages) == 1+2*maxRounds
		},
		gen.IntRange(1, 6),
	))

	properties.Property("direct answer makes one call", prop.ForAll(
		func(maxRounds int, answer string) bool {
			client := scripted(&llm.CompletionResponse{Content: answer})
			g := New(client, Options{MaxRounds: maxRounds}, silentLog())
			reg := tool.NewRegistry()
			reg.MustRegister(lookupTool("search", false, 0))

			got := g.Generate(context.Background(), Request{Query: "q", Tools: reg})
			return got == answer && client.Calls() == 1
		},
		gen.IntRange(1, 6),
		gen.AlphaString(),
	))

	properties.Property("no tools returns text unchanged", prop.ForAll(
		func(answer string) bool {
			client := scripted(&llm.CompletionResponse{Content: answer})
			g := New(client, Options{}, silentLog())
			return g.Generate(context.Background(), Request{Query: "q"}) == answer && client.Calls() == 1
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
