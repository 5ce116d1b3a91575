package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-deepsearch/internal/domain"
)

// GetUserByID fetches a user by primary key. Missing users yield ErrNotFound.
func GetUserByID(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
