package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-deepsearch/internal/domain"
)

// ListMessages returns every message of chatID ordered by position.
func ListMessages(ctx context.Context, db *gorm.DB, chatID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("position asc").
		Find(&out).Error
	return out, err
}
