package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-deepsearch/internal/domain"
)

// ChatsStats returns the number of chats owned by userID and the greatest
// UpdatedAt among them (nil when there are none). The HTTP layer derives
// list ETags from it.
func ChatsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX(): SQLite returns it as TEXT.
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
