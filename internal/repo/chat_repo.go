// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the chat aggregate: chats own their
// messages, which are replaced as a whole on every save.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside transactions. Missing chats return ErrNotFound; other database
// errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deepsearch/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrChatOwnership is returned when a save targets a chat id that belongs
// to a different user.
var ErrChatOwnership = errors.New("repo: chat belongs to another user")

// UpsertChatParams describes one full snapshot of a conversation.
type UpsertChatParams struct {
	UserID   string
	ChatID   string
	Title    string
	Messages []domain.UIMessage
	Now      time.Time // zero means time.Now
}

// UpsertChat creates the chat if it does not exist, or updates its title and
// timestamp if userID owns it, and then replaces its whole message set with
// p.Messages numbered 0..n-1. Everything runs in one transaction. A chat id
// owned by someone else yields ErrChatOwnership and nothing is written.
func UpsertChat(ctx context.Context, db *gorm.DB, p UpsertChatParams) error {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	recs, err := domain.ToRecords(p.ChatID, p.Messages)
	if err != nil {
		return err
	}
	for i := range recs {
		recs[i].ID = uuid.NewString()
		recs[i].CreatedAt = now
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Chat
		err := tx.Select("id", "user_id").Where("id = ?", p.ChatID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c := &domain.Chat{
				ID:        p.ChatID,
				UserID:    p.UserID,
				Title:     p.Title,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.UserID != p.UserID:
			return ErrChatOwnership
		default:
			if err := tx.Model(&domain.Chat{}).
				Where("id = ? AND user_id = ?", p.ChatID, p.UserID).
				Updates(map[string]any{"title": p.Title, "updated_at": now}).Error; err != nil {
				return err
			}
			if err := tx.Where("chat_id = ?", p.ChatID).Delete(&domain.Message{}).Error; err != nil {
				return err
			}
		}

		if len(recs) == 0 {
			return nil
		}
		return tx.CreateInBatches(recs, 100).Error
	})
}

// GetChat fetches a chat owned by userID together with its messages in
// conversation order. Chats owned by others are reported as ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&c).Error
	if err != nil {
		return nil, err
	}
	msgs, err := ListMessages(ctx, db, id)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return &c, nil
}

// CountChats returns the total number of chats owned by userID.
func CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListChatsPage returns a page of chats for userID, most recently updated
// first. Callers compute offset and limit.
func ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateChatTitle renames a chat owned by userID. Returns ErrNotFound when
// no row matches.
func UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
