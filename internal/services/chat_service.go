// Package services – ChatService
//
// ChatService is the read side of conversations: the sidebar listing, a
// single chat with its ordered messages, and renaming. Writes of message
// content only happen through ChatPipeline.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/repo"
)

// DefaultTitle is used when no title can be derived.
const DefaultTitle = "New Chat"

// ChatRepo defines the repository contract required by ChatService.
type ChatRepo interface {
	GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error)
	UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error
	CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error)
	ChatsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// GormChatRepo adapts the repo package functions to ChatRepo.
type GormChatRepo struct{}

func (GormChatRepo) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}

func (GormChatRepo) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateChatTitle(ctx, db, id, userID, title)
}

func (GormChatRepo) CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountChats(ctx, db, userID)
}

func (GormChatRepo) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, offset, limit)
}

func (GormChatRepo) ChatsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.ChatsStats(ctx, db, userID)
}

// ChatView is a chat with its messages decoded to the UI shape.
type ChatView struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Messages  []domain.UIMessage `json:"messages"`
}

// ChatService provides chat listing, lookup and renaming, scoped to the
// owning user.
type ChatService struct {
	DB   *gorm.DB
	Repo ChatRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewChatService constructs a ChatService with the default title cap.
func NewChatService(db *gorm.DB, r ChatRepo) *ChatService {
	if r == nil {
		r = GormChatRepo{}
	}
	return &ChatService{DB: db, Repo: r, TitleMaxLen: 100}
}

// ListPage returns a page of chats for a user (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *ChatService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountChats(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := s.Repo.ListChatsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Stats returns the chat count and latest update time, used for list ETags.
func (s *ChatService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.Repo.ChatsStats(ctx, s.DB, userID)
}

// Get loads a chat owned by userID with its messages in order.
func (s *ChatService) Get(ctx context.Context, userID, chatID string) (*ChatView, error) {
	c, err := s.Repo.GetChat(ctx, s.DB, chatID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	v := &ChatView{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  make([]domain.UIMessage, 0, len(c.Messages)),
	}
	for _, m := range c.Messages {
		ui, err := m.UIMessage()
		if err != nil {
			return nil, err
		}
		v.Messages = append(v.Messages, ui)
	}
	return v, nil
}

// UpdateTitle renames a chat owned by userID. Blank titles fall back to
// DefaultTitle.
func (s *ChatService) UpdateTitle(ctx context.Context, userID, chatID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = DefaultTitle
	}
	err := s.Repo.UpdateChatTitle(ctx, s.DB, chatID, userID, clip(title, s.TitleMaxLen))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	}
	return err
}

// clip truncates s to at most n runes; n <= 0 disables clipping.
func clip(s string, n int) string {
	if n > 0 && utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n])
	}
	return s
}

// normalizeTitle applies NFC, trims, and collapses whitespace runs.
func normalizeTitle(s string) string {
	s = norm.NFC.String(s)
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
