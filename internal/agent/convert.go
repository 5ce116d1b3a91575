package agent

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-deepsearch/internal/domain"
)

// ToChatMessages converts browser messages into provider messages. Assistant
// turns with completed tool invocations expand into an assistant message
// carrying the calls followed by one tool message per result. Unfinished
// invocations are dropped.
func ToChatMessages(msgs []domain.UIMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text()})
		case domain.RoleAssistant:
			out = append(out, assistantMessages(m.NormalizedParts())...)
		}
	}
	return out
}

func assistantMessages(parts []domain.Part) []openai.ChatCompletionMessage {
	var (
		out     []openai.ChatCompletionMessage
		text    string
		calls   []openai.ToolCall
		results []openai.ChatCompletionMessage
	)
	flush := func() {
		if len(calls) == 0 {
			return
		}
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text, ToolCalls: calls})
		out = append(out, results...)
		text, calls, results = "", nil, nil
	}
	for _, p := range parts {
		switch p.Type {
		case domain.PartText:
			flush()
			text += p.Text
		case domain.PartToolInvocation:
			inv := p.ToolInvocation
			if inv == nil || inv.State != domain.ToolStateResult {
				continue
			}
			args := string(inv.Args)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, openai.ToolCall{
				ID:       inv.ToolCallID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: inv.ToolName, Arguments: args},
			})
			results = append(results, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: inv.ToolCallID,
				Content:    string(inv.Result),
			})
		}
	}
	flush()
	if text != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text})
	}
	return out
}

// AppendResponseMessages merges the provider messages produced in one turn
// into a single assistant UI message appended after msgs. Tool results are
// folded into the matching tool-invocation parts.
func AppendResponseMessages(msgs []domain.UIMessage, resp []openai.ChatCompletionMessage) []domain.UIMessage {
	var parts []domain.Part
	byID := map[string]int{}
	for _, m := range resp {
		switch m.Role {
		case openai.ChatMessageRoleAssistant:
			if m.Content != "" {
				parts = append(parts, domain.Part{Type: domain.PartText, Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				byID[tc.ID] = len(parts)
				parts = append(parts, domain.Part{
					Type: domain.PartToolInvocation,
					ToolInvocation: &domain.ToolInvocation{
						State:      domain.ToolStateCall,
						ToolCallID: tc.ID,
						ToolName:   tc.Function.Name,
						Args:       rawJSON(tc.Function.Arguments),
					},
				})
			}
		case openai.ChatMessageRoleTool:
			if i, ok := byID[m.ToolCallID]; ok {
				inv := parts[i].ToolInvocation
				inv.State = domain.ToolStateResult
				inv.Result = rawJSON(m.Content)
			}
		}
	}

	out := make([]domain.UIMessage, 0, len(msgs)+1)
	out = append(out, msgs...)
	if len(parts) == 0 {
		return out
	}
	reply := domain.UIMessage{ID: uuid.NewString(), Role: domain.RoleAssistant, Parts: parts}
	reply.Content = reply.Text()
	return append(out, reply)
}

// rawJSON keeps valid JSON as-is and encodes anything else as a string.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
