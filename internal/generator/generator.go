// Package generator drives LLM calls for a single query and runs the
// bounded sequential tool-calling loop.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/coursemate/internal/llm"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/soyeahso/coursemate/internal/tool"
)

// DefaultMaxRounds is the number of tool rounds allowed per query.
const DefaultMaxRounds = 2

// Error prefixes of the user-visible failure answers.
const (
	queryFailedPrefix      = "Query failed: "
	sequentialFailedPrefix = "Sequential tool execution failed: "
	toolFailedPrefix       = "Tool execution failed: "
)

// Tools is the tool registry surface the loop needs. *tool.Registry
// implements it.
type Tools interface {
	Definitions() []tool.Definition
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Options configures the generator.
type Options struct {
	Model         string
	MaxRounds     int
	MaxTokens     int
	Temperature   float64
	ParallelTools bool
}

// Request is a single query to answer.
type Request struct {
	Query   string
	History string // serialized prior exchanges, may be empty
	Tools   Tools  // nil, a nil *tool.Registry or an empty one disables tool use
	Observe Observer
}

type state int

const (
	awaitingModel state = iota
	executingTools
	done
)

// Generator answers queries with an LLM client.
type Generator struct {
	client llm.Client
	opts   Options
	log    *logging.Logger
}

// New creates a generator.
func New(client llm.Client, opts Options, log *logging.Logger) *Generator {
	if opts.MaxRounds < 1 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	return &Generator{client: client, opts: opts, log: log.Sub("generator")}
}

// Options returns the effective options.
func (g *Generator) Options() Options { return g.opts }

// Generate answers the query. It never returns an error: provider and tool
// faults become the answer text.
func (g *Generator) Generate(ctx context.Context, req Request) string {
	start := time.Now()
	system := buildSystem(req.History)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: req.Query}}

	var defs []llm.ToolDefinition
	if req.Tools != nil {
		for _, d := range req.Tools.Definitions() {
			defs = append(defs, llm.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				InputSchema: d.InputSchema,
			})
		}
	}

	if len(defs) == 0 {
		resp, err := g.call(ctx, req.Observe, 0, system, msgs, nil, "")
		if err != nil {
			g.log.Error().Err(err).Msg("generation failed")
			return queryFailedPrefix + err.Error()
		}
		req.Observe.emit(Event{Type: EventAnswer, Text: resp.Content})
		return resp.Content
	}

	var (
		st      = awaitingModel
		round   int
		pending []llm.ToolCall
		answer  string
	)

	for st != done {
		switch st {
		case awaitingModel:
			resp, err := g.call(ctx, req.Observe, round, system, msgs, defs, llm.ToolChoiceAuto)
			if err != nil {
				g.log.Error().Err(err).Int("round", round).Msg("generation failed")
				return sequentialFailedPrefix + err.Error()
			}
			if len(resp.ToolCalls) == 0 {
				answer = resp.Content
				st = done
				continue
			}
			msgs = append(msgs, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			pending = resp.ToolCalls
			st = executingTools

		case executingTools:
			results, err := g.runTools(ctx, req.Tools, req.Observe, round+1, pending)
			if err != nil {
				g.log.Warn().Err(err).Int("round", round+1).Msg("tool execution failed")
				return toolFailedPrefix + err.Error()
			}
			msgs = append(msgs, results...)
			pending = nil
			round++

			if round < g.opts.MaxRounds {
				st = awaitingModel
				continue
			}

			// Round cap reached: one last call with tools disabled.
			resp, err := g.call(ctx, req.Observe, round, system, msgs, nil, llm.ToolChoiceNone)
			if err != nil {
				g.log.Error().Err(err).Int("round", round).Msg("final generation failed")
				return sequentialFailedPrefix + err.Error()
			}
			answer = resp.Content
			st = done
		}
	}

	g.log.Info().
		Int("rounds", round).
		Dur("duration", time.Since(start)).
		Msg("query answered")
	req.Observe.emit(Event{Type: EventAnswer, Round: round, Text: answer})
	return answer
}

func (g *Generator) call(
	ctx context.Context,
	observe Observer,
	round int,
	system string,
	msgs []llm.Message,
	defs []llm.ToolDefinition,
	choice string,
) (*llm.CompletionResponse, error) {
	temp := g.opts.Temperature
	req := llm.CompletionRequest{
		Model:       g.opts.Model,
		System:      system,
		Messages:    append([]llm.Message(nil), msgs...),
		Tools:       defs,
		ToolChoice:  choice,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: &temp,
	}

	observe.emit(Event{Type: EventModelCall, Round: round, Tools: len(defs) > 0})
	g.log.Debug().
		Int("round", round).
		Int("messages", len(msgs)).
		Int("tools", len(defs)).
		Str("toolChoice", choice).
		Msg("calling model")

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s returned no response", g.client.Name())
	}
	return resp, nil
}

// runTools executes one round of tool calls and returns the tool messages
// in request order. The first fault aborts the round.
func (g *Generator) runTools(
	ctx context.Context,
	tools Tools,
	observe Observer,
	round int,
	calls []llm.ToolCall,
) ([]llm.Message, error) {
	outputs := make([]string, len(calls))

	for _, c := range calls {
		observe.emit(Event{Type: EventToolCall, Round: round, Tool: c.Name, CallID: c.ID, Input: string(c.Arguments)})
	}

	if g.opts.ParallelTools && len(calls) > 1 {
		eg, egCtx := errgroup.WithContext(ctx)
		for i, c := range calls {
			eg.Go(func() error {
				out, err := g.execute(egCtx, tools, round, c)
				if err != nil {
					return err
				}
				outputs[i] = out
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, c := range calls {
			out, err := g.execute(ctx, tools, round, c)
			if err != nil {
				return nil, err
			}
			outputs[i] = out
		}
	}

	msgs := make([]llm.Message, len(calls))
	for i, c := range calls {
		observe.emit(Event{Type: EventToolResult, Round: round, Tool: c.Name, CallID: c.ID, Output: outputs[i]})
		msgs[i] = llm.Message{
			Role:       llm.RoleTool,
			Content:    outputs[i],
			ToolCallID: c.ID,
			ToolName:   c.Name,
		}
	}
	return msgs, nil
}

func (g *Generator) execute(ctx context.Context, tools Tools, round int, c llm.ToolCall) (string, error) {
	start := time.Now()
	out, err := tools.Execute(ctx, c.Name, c.Arguments)
	ev := g.log.Debug()
	if err != nil {
		ev = g.log.Warn().Err(err)
	}
	ev.Int("round", round).
		Str("tool", c.Name).
		Str("callId", c.ID).
		Dur("duration", time.Since(start)).
		Msg("tool executed")
	return out, err
}
