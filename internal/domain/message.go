package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part types.
const (
	PartText           = "text"
	PartToolInvocation = "tool-invocation"
)

// Tool invocation states, in the order a call moves through them.
const (
	ToolStatePartialCall = "partial-call"
	ToolStateCall        = "call"
	ToolStateResult      = "result"
)

// EventNewChatCreated is the out-of-band stream event sent when the server
// mints a chat id.
const EventNewChatCreated = "NEW_CHAT_CREATED"

// ChatCreatedEvent is the payload of EventNewChatCreated.
type ChatCreatedEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId"`
}

// UIMessage is the message shape exchanged with the browser client.
type UIMessage struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Part is one structured content block of a message.
type Part struct {
	Type           string          `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
}

// ToolInvocation records a model-initiated tool call and, once available,
// its result.
type ToolInvocation struct {
	State      string          `json:"state"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// NormalizedParts returns the message parts, falling back to a single text
// part built from Content for clients that only send plain content.
func (m UIMessage) NormalizedParts() []Part {
	if len(m.Parts) > 0 {
		return m.Parts
	}
	if m.Content == "" {
		return []Part{}
	}
	return []Part{{Type: PartText, Text: m.Content}}
}

// Text returns the concatenated text of the message.
func (m UIMessage) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ValidRole reports whether role may be persisted.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToRecords converts UI messages into message rows for chatID, numbering
// them 0..n-1 in slice order. IDs are left for the repository to assign.
func ToRecords(chatID string, msgs []UIMessage) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		if !ValidRole(m.Role) {
			return nil, fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		raw, err := json.Marshal(m.NormalizedParts())
		if err != nil {
			return nil, fmt.Errorf("message %d: encode parts: %w", i, err)
		}
		out = append(out, Message{ChatID: chatID, Role: m.Role, Parts: raw, Order: i})
	}
	return out, nil
}

// UIMessage decodes a stored row back into its UI shape.
func (m Message) UIMessage() (UIMessage, error) {
	var parts []Part
	if len(m.Parts) > 0 {
		if err := json.Unmarshal(m.Parts, &parts); err != nil {
			return UIMessage{}, fmt.Errorf("decode parts of %s: %w", m.ID, err)
		}
	}
	ui := UIMessage{ID: m.ID, Role: m.Role, Parts: parts}
	ui.Content = ui.Text()
	return ui, nil
}
