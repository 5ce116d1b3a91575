// Package agent is the chat orchestration service. It builds the model
// request (system prompt, tool definitions, history), runs the tool-calling
// loop against a streaming provider and exposes the result as an event
// stream.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/observability"
	"github.com/tbourn/go-deepsearch/internal/scraper"
)

var tracer = otel.Tracer("agent/Service")

// ErrOrchestration tags failures of the model call or its setup.
var ErrOrchestration = errors.New("agent: orchestration failed")

// EventType names a stream event.
type EventType string

// Stream event types.
const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventStepFinish EventType = "step-finish"
	EventFinish     EventType = "finish"
)

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Event is one item of the output stream. Type selects which fields are set.
type Event struct {
	Type         EventType       `json:"-"`
	Text         string          `json:"text,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	State        string          `json:"state,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// FinishEvent is passed to Options.OnFinish once the model is done.
type FinishEvent struct {
	FinishReason     string
	Usage            Usage
	ResponseMessages []openai.ChatCompletionMessage
}

// Options are per-call settings.
type Options struct {
	TraceID  string
	UserID   string
	OnFinish func(ctx context.Context, f FinishEvent) error
}

// Service runs conversations against a Provider.
type Service struct {
	Provider Provider
	Model    string
	MaxSteps int
	Tools    []Tool
	Now      func() time.Time
}

// NewService wires the default tool set.
func NewService(p Provider, model string, maxSteps int, searcher Searcher, fetcher scraper.Fetcher) *Service {
	return &Service{
		Provider: p,
		Model:    model,
		MaxSteps: maxSteps,
		Tools:    []Tool{SearchWebTool(searcher), ScrapePagesTool(fetcher)},
		Now:      time.Now,
	}
}

// Stream is a running conversation turn. Consume Events until it is
// closed, then call Err.
type Stream struct {
	events chan Event
	done   chan struct{}
	err    error
}

// Events returns the event channel; it is closed when the turn ends.
func (s *Stream) Events() <-chan Event { return s.events }

// Err blocks until the turn ends and returns its error, if any.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// StreamText starts a turn. The first provider call is made synchronously
// so setup failures are returned here, wrapped in ErrOrchestration, before
// any output exists. Later failures are reported by Stream.Err.
func (s *Service) StreamText(ctx context.Context, msgs []domain.UIMessage, opts Options) (*Stream, error) {
	if s.Provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrOrchestration)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrOrchestration)
	}
	maxSteps := s.MaxSteps
	if maxSteps < 1 {
		maxSteps = 1
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	ctx, span := tracer.Start(ctx, "StreamText", trace.WithAttributes(
		attribute.String("chat.trace_id", opts.TraceID),
		attribute.String("llm.model", s.Model),
		attribute.Int("llm.max_steps", maxSteps),
	))

	history := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	history = append(history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemPrompt(now(), maxSteps),
	})
	history = append(history, ToChatMessages(msgs)...)

	first, err := s.Provider.Stream(ctx, s.request(history, opts, maxSteps == 1))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider")
		span.End()
		return nil, fmt.Errorf("%w: %v", ErrOrchestration, err)
	}

	st := &Stream{events: make(chan Event, 32), done: make(chan struct{})}
	go func() {
		defer close(st.events)
		defer close(st.done)
		defer span.End()
		st.err = s.run(ctx, st, first, history, opts, maxSteps)
		if st.err != nil {
			span.RecordError(st.err)
			span.SetStatus(codes.Error, "stream")
		}
	}()
	return st, nil
}

func (s *Service) request(history []openai.ChatCompletionMessage, opts Options, last bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:         s.Model,
		Messages:      history,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		User:          opts.UserID,
	}
	if len(s.Tools) > 0 {
		req.Tools = make([]openai.Tool, 0, len(s.Tools))
		for _, t := range s.Tools {
			req.Tools = append(req.Tools, t.definition())
		}
		if last {
			req.ToolChoice = "none"
		}
	}
	return req
}

func (s *Service) run(ctx context.Context, st *Stream, reader ChunkReader, history []openai.ChatCompletionMessage,
	opts Options, maxSteps int) error {
	emit := func(ev Event) bool {
		select {
		case st.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		response []openai.ChatCompletionMessage
		usage    Usage
		finish   string
	)
	for step := 0; ; step++ {
		res, err := s.consume(ctx, reader, emit)
		_ = reader.Close()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrOrchestration, err)
		}
		usage.PromptTokens += res.usage.PromptTokens
		usage.CompletionTokens += res.usage.CompletionTokens
		finish = res.finishReason

		assistant := openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   res.text,
			ToolCalls: res.calls,
		}
		response = append(response, assistant)
		history = append(history, assistant)

		if len(res.calls) == 0 || step+1 >= maxSteps {
			break
		}

		for _, call := range res.calls {
			result := s.execute(ctx, call)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !emit(Event{Type: EventToolResult, ToolCallID: call.ID, ToolName: call.Function.Name,
				State: domain.ToolStateResult, Result: result}) {
				return ctx.Err()
			}
			toolMsg := openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    string(result),
			}
			response = append(response, toolMsg)
			history = append(history, toolMsg)
		}
		if !emit(Event{Type: EventStepFinish, FinishReason: finish}) {
			return ctx.Err()
		}

		last := step+2 >= maxSteps
		reader, err = s.Provider.Stream(ctx, s.request(history, opts, last))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrOrchestration, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	observability.LLMTokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	observability.LLMTokens.WithLabelValues("completion").Add(float64(usage.CompletionTokens))

	if opts.OnFinish != nil {
		if err := opts.OnFinish(ctx, FinishEvent{FinishReason: finish, Usage: usage, ResponseMessages: response}); err != nil {
			return err
		}
	}
	emit(Event{Type: EventFinish, FinishReason: finish, Usage: &usage})
	return nil
}

type stepResult struct {
	text         string
	calls        []openai.ToolCall
	finishReason string
	usage        Usage
}

type pendingCall struct {
	id, name string
	args     strings.Builder
}

// consume drains one provider stream, relaying text deltas and collecting
// tool-call fragments by index.
func (s *Service) consume(ctx context.Context, reader ChunkReader, emit func(Event) bool) (stepResult, error) {
	var (
		res   stepResult
		text  strings.Builder
		calls = map[int]*pendingCall{}
	)
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		if chunk.Usage != nil {
			res.usage.PromptTokens += chunk.Usage.PromptTokens
			res.usage.CompletionTokens += chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			res.finishReason = string(choice.FinishReason)
		}
		if d := choice.Delta.Content; d != "" {
			text.WriteString(d)
			if !emit(Event{Type: EventText, Text: d}) {
				return res, ctx.Err()
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := len(calls)
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := calls[idx]
			if !ok {
				pc = &pendingCall{}
				calls[idx] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
			if !ok && !emit(Event{Type: EventToolCall, ToolCallID: pc.id, ToolName: pc.name, State: domain.ToolStatePartialCall}) {
				return res, ctx.Err()
			}
		}
	}

	res.text = text.String()
	idxs := make([]int, 0, len(calls))
	for i := range calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		pc := calls[i]
		args := pc.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		res.calls = append(res.calls, openai.ToolCall{
			ID:       pc.id,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: pc.name, Arguments: args},
		})
		if !emit(Event{Type: EventToolCall, ToolCallID: pc.id, ToolName: pc.name, State: domain.ToolStateCall, Args: rawJSON(args)}) {
			return res, ctx.Err()
		}
	}
	return res, nil
}

// execute runs one tool call. Tool failures become {"error": ...} results
// so the model can recover.
func (s *Service) execute(ctx context.Context, call openai.ToolCall) json.RawMessage {
	name := call.Function.Name
	ctx, span := tracer.Start(ctx, "tool."+name)
	defer span.End()

	var tool *Tool
	for i := range s.Tools {
		if s.Tools[i].Name == name {
			tool = &s.Tools[i]
			break
		}
	}
	fail := func(err error) json.RawMessage {
		observability.ToolCalls.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		zerolog.Ctx(ctx).Warn().Err(err).Str("tool", name).Str("tool_call_id", call.ID).Msg("tool call failed")
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return b
	}
	if tool == nil {
		return fail(fmt.Errorf("unknown tool %q", name))
	}
	out, err := tool.Execute(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		return fail(err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fail(err)
	}
	observability.ToolCalls.WithLabelValues(name, "ok").Inc()
	return b
}
