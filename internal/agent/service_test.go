package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/scraper"
	"github.com/tbourn/go-deepsearch/internal/search"
)

// --- fakes ---

type scriptedReader struct {
	chunks []openai.ChatCompletionStreamResponse
	err    error
	i      int
}

func (r *scriptedReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	if r.i < len(r.chunks) {
		c := r.chunks[r.i]
		r.i++
		return c, nil
	}
	if r.err != nil {
		return openai.ChatCompletionStreamResponse{}, r.err
	}
	return openai.ChatCompletionStreamResponse{}, io.EOF
}

func (r *scriptedReader) Close() error { return nil }

type fakeProvider struct {
	mu      sync.Mutex
	steps   []*scriptedReader
	reqs    []openai.ChatCompletionRequest
	openErr error
}

func (p *fakeProvider) Stream(_ context.Context, req openai.ChatCompletionRequest) (ChunkReader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.openErr != nil {
		return nil, p.openErr
	}
	n := len(p.reqs) - 1
	if n >= len(p.steps) {
		return nil, errors.New("unexpected provider call")
	}
	return p.steps[n], nil
}

type fakeSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, q string) ([]search.Result, error) {
	f.queries = append(f.queries, q)
	return f.results, f.err
}

type fakeFetcher struct{}

func (fakeFetcher) Scrape(_ context.Context, urls []string) (scraper.Batch, error) {
	b := scraper.Batch{Success: true}
	for _, u := range urls {
		b.Results = append(b.Results, scraper.Page{URL: u, Content: "page " + u})
	}
	return b, nil
}

func text(s string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{
		Delta: openai.ChatCompletionStreamChoiceDelta{Content: s},
	}}}
}

func toolDelta(idx int, id, name, args string) openai.ChatCompletionStreamResponse {
	i := idx
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{
		Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
			Index: &i, ID: id, Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: name, Arguments: args},
		}}},
	}}}
}

func finish(reason openai.FinishReason, prompt, completion int) []openai.ChatCompletionStreamResponse {
	return []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{FinishReason: reason}}},
		{Usage: &openai.Usage{PromptTokens: prompt, CompletionTokens: completion}},
	}
}

func step(chunks ...any) *scriptedReader {
	r := &scriptedReader{}
	for _, c := range chunks {
		switch v := c.(type) {
		case openai.ChatCompletionStreamResponse:
			r.chunks = append(r.chunks, v)
		case []openai.ChatCompletionStreamResponse:
			r.chunks = append(r.chunks, v...)
		}
	}
	return r
}

func newTestService(p Provider, s Searcher, maxSteps int) *Service {
	svc := NewService(p, "test-model", maxSteps, s, fakeFetcher{})
	svc.Now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func collect(t *testing.T, st *Stream) []Event {
	t.Helper()
	var out []Event
	for ev := range st.Events() {
		out = append(out, ev)
	}
	return out
}

var hello = []domain.UIMessage{{Role: domain.RoleUser, Content: "Hello"}}

// --- tests ---

func TestStreamText_TextOnly(t *testing.T) {
	p := &fakeProvider{steps: []*scriptedReader{
		step(text("Hel"), text("lo!"), finish(openai.FinishReasonStop, 10, 2)),
	}}
	var got FinishEvent
	st, err := newTestService(p, &fakeSearcher{}, 10).StreamText(context.Background(), hello, Options{
		TraceID: "t1",
		OnFinish: func(_ context.Context, f FinishEvent) error {
			got = f
			return nil
		},
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	evs := collect(t, st)
	if err := st.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	if len(evs) != 3 || evs[0].Text != "Hel" || evs[1].Text != "lo!" || evs[2].Type != EventFinish {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if evs[2].Usage == nil || evs[2].Usage.PromptTokens != 10 || evs[2].FinishReason != "stop" {
		t.Fatalf("finish event unexpected: %+v", evs[2])
	}
	if len(got.ResponseMessages) != 1 || got.ResponseMessages[0].Content != "Hello!" || got.Usage.CompletionTokens != 2 {
		t.Fatalf("OnFinish unexpected: %+v", got)
	}

	req := p.reqs[0]
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || !strings.Contains(req.Messages[0].Content, "Thursday, 1 May 2025") {
		t.Fatalf("system prompt missing or undated: %+v", req.Messages[0])
	}
	if req.Messages[1].Content != "Hello" || len(req.Tools) != 2 || req.ToolChoice != nil {
		t.Fatalf("request unexpected: %+v", req)
	}
	if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage || !req.Stream {
		t.Fatalf("usage streaming not requested")
	}
}

func TestStreamText_ToolRoundThenAnswer(t *testing.T) {
	s := &fakeSearcher{results: []search.Result{{Title: "Go", Link: "https://go.dev", Snippet: "s"}}}
	p := &fakeProvider{steps: []*scriptedReader{
		step(
			toolDelta(0, "call_1", ToolSearchWeb, `{"query":`),
			toolDelta(0, "", "", `"golang"}`),
			finish(openai.FinishReasonToolCalls, 20, 5),
		),
		step(text("See [Go](https://go.dev)."), finish(openai.FinishReasonStop, 40, 8)),
	}}
	var got FinishEvent
	st, err := newTestService(p, s, 10).StreamText(context.Background(), hello, Options{
		OnFinish: func(_ context.Context, f FinishEvent) error { got = f; return nil },
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	evs := collect(t, st)
	if err := st.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	var types []string
	for _, ev := range evs {
		types = append(types, string(ev.Type)+":"+ev.State)
	}
	want := "tool-call:partial-call,tool-call:call,tool-result:result,step-finish:,text:,finish:"
	if strings.Join(types, ",") != want {
		t.Fatalf("event sequence = %s; want %s", strings.Join(types, ","), want)
	}
	if string(evs[1].Args) != `{"query":"golang"}` {
		t.Fatalf("assembled args = %s", evs[1].Args)
	}
	if len(s.queries) != 1 || s.queries[0] != "golang" {
		t.Fatalf("searcher not called correctly: %v", s.queries)
	}

	second := p.reqs[1].Messages
	last := second[len(second)-1]
	if last.Role != openai.ChatMessageRoleTool || last.ToolCallID != "call_1" || !strings.Contains(last.Content, "go.dev") {
		t.Fatalf("tool result not fed back: %+v", last)
	}
	if got.Usage.PromptTokens != 60 || len(got.ResponseMessages) != 3 {
		t.Fatalf("finish unexpected: %+v", got)
	}

	merged := AppendResponseMessages(hello, got.ResponseMessages)
	if len(merged) != 2 || merged[1].Role != domain.RoleAssistant {
		t.Fatalf("merged messages unexpected: %+v", merged)
	}
	parts := merged[1].Parts
	if len(parts) != 2 || parts[0].ToolInvocation.State != domain.ToolStateResult || parts[1].Text != "See [Go](https://go.dev)." {
		t.Fatalf("merged parts unexpected: %+v", parts)
	}
}

func TestStreamText_StepBudgetForcesAnswer(t *testing.T) {
	p := &fakeProvider{steps: []*scriptedReader{
		step(toolDelta(0, "c1", ToolScrapePages, `{"urls":["https://a"]}`), finish(openai.FinishReasonToolCalls, 1, 1)),
		step(text("done"), finish(openai.FinishReasonStop, 1, 1)),
	}}
	st, err := newTestService(p, &fakeSearcher{}, 2).StreamText(context.Background(), hello, Options{})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	collect(t, st)
	if err := st.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if len(p.reqs) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(p.reqs))
	}
	if p.reqs[0].ToolChoice != nil || p.reqs[1].ToolChoice != "none" {
		t.Fatalf("tool choice = %v / %v", p.reqs[0].ToolChoice, p.reqs[1].ToolChoice)
	}
}

func TestStreamText_ToolErrorIsReturnedToModel(t *testing.T) {
	s := &fakeSearcher{err: errors.New("search down")}
	p := &fakeProvider{steps: []*scriptedReader{
		step(toolDelta(0, "c1", ToolSearchWeb, `{"query":"x"}`), toolDelta(1, "c2", "nope", `{}`), finish(openai.FinishReasonToolCalls, 1, 1)),
		step(text("sorry"), finish(openai.FinishReasonStop, 1, 1)),
	}}
	st, _ := newTestService(p, s, 5).StreamText(context.Background(), hello, Options{})
	var results []string
	for ev := range st.Events() {
		if ev.Type == EventToolResult {
			results = append(results, string(ev.Result))
		}
	}
	if err := st.Err(); err != nil {
		t.Fatalf("tool errors must not fail the turn: %v", err)
	}
	if len(results) != 2 || !strings.Contains(results[0], "search down") || !strings.Contains(results[1], "unknown tool") {
		t.Fatalf("tool results unexpected: %v", results)
	}
}

func TestStreamText_ProviderFailures(t *testing.T) {
	p := &fakeProvider{openErr: errors.New("401 bad key")}
	if _, err := newTestService(p, &fakeSearcher{}, 3).StreamText(context.Background(), hello, Options{}); !errors.Is(err, ErrOrchestration) {
		t.Fatalf("expected ErrOrchestration on open, got %v", err)
	}
	if _, err := newTestService(&fakeProvider{}, &fakeSearcher{}, 3).StreamText(context.Background(), nil, Options{}); !errors.Is(err, ErrOrchestration) {
		t.Fatalf("expected ErrOrchestration for empty history, got %v", err)
	}

	mid := &fakeProvider{steps: []*scriptedReader{{chunks: []openai.ChatCompletionStreamResponse{text("par")}, err: errors.New("connection reset")}}}
	called := false
	st, err := newTestService(mid, &fakeSearcher{}, 3).StreamText(context.Background(), hello, Options{
		OnFinish: func(context.Context, FinishEvent) error { called = true; return nil },
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	collect(t, st)
	if err := st.Err(); !errors.Is(err, ErrOrchestration) {
		t.Fatalf("expected in-stream ErrOrchestration, got %v", err)
	}
	if called {
		t.Fatalf("OnFinish must not run after a failed stream")
	}
}

func TestStreamText_OnFinishErrorSurfaces(t *testing.T) {
	p := &fakeProvider{steps: []*scriptedReader{step(text("hi"), finish(openai.FinishReasonStop, 1, 1))}}
	boom := errors.New("save failed")
	st, _ := newTestService(p, &fakeSearcher{}, 3).StreamText(context.Background(), hello, Options{
		OnFinish: func(context.Context, FinishEvent) error { return boom },
	})
	evs := collect(t, st)
	if err := st.Err(); !errors.Is(err, boom) {
		t.Fatalf("expected OnFinish error, got %v", err)
	}
	for _, ev := range evs {
		if ev.Type == EventFinish {
			t.Fatalf("finish event must not follow a failed OnFinish")
		}
	}
}

func TestStreamText_CancelledContextSkipsFinish(t *testing.T) {
	p := &fakeProvider{steps: []*scriptedReader{step(text("a"), text("b"), finish(openai.FinishReasonStop, 1, 1))}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	st, err := newTestService(p, &fakeSearcher{}, 3).StreamText(ctx, hello, Options{
		OnFinish: func(context.Context, FinishEvent) error { called = true; return nil },
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	collect(t, st)
	if err := st.Err(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("OnFinish must not run after cancellation")
	}
}

func TestScrapePagesTool_ValidatesArgs(t *testing.T) {
	tool := ScrapePagesTool(fakeFetcher{})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"urls":["  "]}`)); err == nil {
		t.Fatalf("expected error for empty urls")
	}
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"urls":["https://a"]}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if b := out.(scraper.Batch); !b.Success || b.Results[0].URL != "https://a" {
		t.Fatalf("unexpected batch: %+v", b)
	}
	if _, err := SearchWebTool(&fakeSearcher{}).Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Fatalf("expected argument error")
	}
}
