package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deepsearch/internal/agent"
	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/http/middleware"
	"github.com/tbourn/go-deepsearch/internal/observability"
	"github.com/tbourn/go-deepsearch/internal/services"
)

// streamErrorMessage is the in-band error shown to users once streaming
// has started.
const streamErrorMessage = "Oops, an error occurred!"

// TurnStream is a running model turn.
type TurnStream interface {
	Events() <-chan agent.Event
	Err() error
}

// ChatPipeline runs the chat request stages. Begin covers everything up to
// the initial snapshot; Start throttles and starts the model.
type ChatPipeline interface {
	Begin(ctx context.Context, userID string, body []byte) (*services.ChatTurn, error)
	Start(ctx context.Context, turn *services.ChatTurn, traceID string) (TurnStream, error)
}

type pipelineAdapter struct{ p *services.ChatPipeline }

// FromPipeline adapts *services.ChatPipeline to ChatPipeline.
func FromPipeline(p *services.ChatPipeline) ChatPipeline { return pipelineAdapter{p} }

func (a pipelineAdapter) Begin(ctx context.Context, userID string, body []byte) (*services.ChatTurn, error) {
	return a.p.Begin(ctx, userID, body)
}

func (a pipelineAdapter) Start(ctx context.Context, turn *services.ChatTurn, traceID string) (TurnStream, error) {
	st, err := a.p.Stream(ctx, turn, traceID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// PostChat godoc
// @ID          postChat
// @Summary     Send a chat turn (streamed)
// @Description Runs one research turn and streams the answer as Server-Sent Events.
// @Description Events: data (NEW_CHAT_CREATED, only for new chats), text, tool-call, tool-result, step-finish, finish, error.
// @Description Quota is consumed before the body is validated.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                 false "Rejects repeated submissions with 409"
// @Param       body             body    services.ChatRequest   true  "Conversation so far"
//
// @Success     200  {string} string "event stream"
// @Failure     400  {object} handlers.ErrorResponse "Bad request or missing user id"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Failure     409  {object} handlers.ErrorResponse "Duplicate Idempotency-Key"
// @Failure     429  {object} handlers.ErrorResponse "Quota exceeded or model busy"
// @Failure     500  {object} handlers.ErrorResponse "Save or orchestration failure"
// @Router      /chat [post]
func (h *Handlers) PostChat(c *gin.Context) {
	ctx := c.Request.Context()
	lg := LoggerFrom(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read request body")
		return
	}

	turn, err := h.pipeline.Begin(ctx, middleware.UserID(c), body)
	if err != nil {
		observability.ChatTurns.WithLabelValues("rejected").Inc()
		failPipeline(c, err)
		return
	}

	st, err := h.pipeline.Start(ctx, turn, middleware.GetRequestID(c))
	if err != nil {
		observability.ChatTurns.WithLabelValues("rejected").Inc()
		failPipeline(c, err)
		return
	}

	hdr := c.Writer.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if turn.IsNewChat {
		c.SSEvent("data", domain.ChatCreatedEvent{Type: domain.EventNewChatCreated, ChatID: turn.ChatID})
	}
	c.Writer.Flush()

	for ev := range st.Events() {
		c.SSEvent(string(ev.Type), ev)
		c.Writer.Flush()
	}

	err = st.Err()
	switch {
	case err == nil:
		observability.ChatTurns.WithLabelValues("ok").Inc()
	case ctx.Err() != nil:
		observability.ChatTurns.WithLabelValues("aborted").Inc()
		lg.Info().Str("chat_id", turn.ChatID).Msg("client disconnected, turn aborted")
	default:
		observability.ChatTurns.WithLabelValues("error").Inc()
		lg.Error().Err(err).Str("chat_id", turn.ChatID).Msg("chat stream failed")
		c.SSEvent("error", gin.H{"message": streamErrorMessage})
		c.Writer.Flush()
	}
}
