// Package services – ChatPipeline
//
// ChatPipeline runs one POST /api/chat call as a sequence of fallible
// stages: load user, enforce quota, record the request, parse the body,
// persist the initial snapshot, then hand off to the orchestration service
// whose completion hook persists the final snapshot. Each stage fails with
// its own sentinel so the HTTP layer can map it to a status.
//
// Recording the request and saving the chat are separate writes. A failure
// between them leaves the quota consumed without a saved conversation.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-deepsearch/internal/agent"
	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/ratelimit"
	"github.com/tbourn/go-deepsearch/internal/repo"
)

const (
	titleMaxRunes = 50
	maxChatIDLen  = 64
)

// Orchestrator produces the model's streamed reply. *agent.Service
// satisfies it.
type Orchestrator interface {
	StreamText(ctx context.Context, msgs []domain.UIMessage, opts agent.Options) (*agent.Stream, error)
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Messages []domain.UIMessage `json:"messages"`
	ChatID   string             `json:"chatId,omitempty"`
}

// ChatTurn is the state carried from Begin to Stream.
type ChatTurn struct {
	User      *domain.User
	ChatID    string
	IsNewChat bool
	Title     string
	Messages  []domain.UIMessage
}

// ChatPipeline sequences a chat call.
type ChatPipeline struct {
	DB       *gorm.DB
	Quota    *QuotaService
	Agent    Orchestrator
	Throttle *ratelimit.Throttle // nil disables the model throttle
	Now      func() time.Time
}

// NewChatPipeline wires a pipeline with the wall clock.
func NewChatPipeline(db *gorm.DB, quota *QuotaService, orch Orchestrator, throttle *ratelimit.Throttle) *ChatPipeline {
	return &ChatPipeline{DB: db, Quota: quota, Agent: orch, Throttle: throttle, Now: time.Now}
}

func (p *ChatPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Begin runs the stages before the model call and returns the turn to
// stream. It stops at the first failing stage.
func (p *ChatPipeline) Begin(ctx context.Context, userID string, body []byte) (*ChatTurn, error) {
	tr := otel.Tracer("services/ChatPipeline")
	ctx, span := tr.Start(ctx, "Begin", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	user, err := loadUser(ctx, p.DB, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := p.Quota.Admit(ctx, user); err != nil {
		span.RecordError(err)
		return nil, err
	}

	turn, err := parseChatRequest(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	turn.User = user
	span.SetAttributes(
		attribute.String("chat.id", turn.ChatID),
		attribute.Bool("chat.new", turn.IsNewChat),
		attribute.Int("chat.messages", len(turn.Messages)),
	)

	if err := p.save(ctx, turn, turn.Messages); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return turn, nil
}

// Stream waits for the model throttle and starts the orchestration. The
// final snapshot is written from the completion hook; failures there are
// logged and reported through the stream's error.
func (p *ChatPipeline) Stream(ctx context.Context, turn *ChatTurn, traceID string) (*agent.Stream, error) {
	lg := zerolog.Ctx(ctx).With().Str("chat_id", turn.ChatID).Str("user_id", turn.User.ID).Logger()

	if p.Throttle.Enabled() {
		res, err := p.Throttle.Wait(ctx)
		switch {
		case errors.Is(err, ratelimit.ErrLimited):
			return nil, &RetryError{Err: ErrModelBusy, RetryAfter: res.RetryAfter}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			lg.Warn().Err(err).Msg("model throttle unavailable, continuing")
		}
	}

	return p.Agent.StreamText(ctx, turn.Messages, agent.Options{
		TraceID: traceID,
		UserID:  turn.User.ID,
		OnFinish: func(ctx context.Context, f agent.FinishEvent) error {
			all := agent.AppendResponseMessages(turn.Messages, f.ResponseMessages)
			if err := p.save(ctx, turn, all); err != nil {
				lg.Error().Err(err).Msg("Failed to save chat")
				return err
			}
			lg.Debug().
				Str("finish_reason", f.FinishReason).
				Int("prompt_tokens", f.Usage.PromptTokens).
				Int("completion_tokens", f.Usage.CompletionTokens).
				Int("messages", len(all)).
				Msg("chat saved")
			return nil
		},
	})
}

func (p *ChatPipeline) save(ctx context.Context, turn *ChatTurn, msgs []domain.UIMessage) error {
	err := repo.UpsertChat(ctx, p.DB, repo.UpsertChatParams{
		UserID:   turn.User.ID,
		ChatID:   turn.ChatID,
		Title:    turn.Title,
		Messages: msgs,
		Now:      p.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveChat, err)
	}
	return nil
}

// parseChatRequest decodes the body, mints a chat id when the client sent
// none and derives the title.
func parseChatRequest(body []byte) (*ChatTurn, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseRequest, err)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", ErrParseRequest)
	}
	for i, m := range req.Messages {
		if !domain.ValidRole(m.Role) {
			return nil, fmt.Errorf("%w: message %d has invalid role %q", ErrParseRequest, i, m.Role)
		}
	}

	turn := &ChatTurn{Messages: req.Messages, ChatID: strings.TrimSpace(req.ChatID)}
	switch {
	case turn.ChatID == "":
		turn.ChatID = uuid.NewString()
		turn.IsNewChat = true
	case len(turn.ChatID) > maxChatIDLen:
		return nil, fmt.Errorf("%w: chatId too long", ErrParseRequest)
	}
	turn.Title = DeriveTitle(req.Messages)
	return turn, nil
}

// DeriveTitle returns the first user message's text clipped to 50
// characters, or DefaultTitle when there is none.
func DeriveTitle(msgs []domain.UIMessage) string {
	for _, m := range msgs {
		if m.Role != domain.RoleUser {
			continue
		}
		if t := normalizeTitle(m.Text()); t != "" {
			return clip(t, titleMaxRunes)
		}
		break
	}
	return DefaultTitle
}
