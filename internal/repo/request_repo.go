package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-deepsearch/internal/domain"
)

// ErrQuotaExhausted is returned by ReserveRequest when the user already
// made limit requests in the window. Nothing is written.
var ErrQuotaExhausted = errors.New("repo: request quota exhausted")

// CountRequestsSince returns how many requests userID made at or after since.
func CountRequestsSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("user_id = ? AND requested_at >= ?", userID, since.UTC()).
		Count(&n).Error
	return n, err
}

// AddRequest records one quota-consuming call for userID at the given time.
func AddRequest(ctx context.Context, db *gorm.DB, userID string, at time.Time) (*domain.Request, error) {
	r := &domain.Request{
		ID:        uuid.NewString(),
		UserID:    userID,
		Timestamp: at.UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// ReserveRequest counts userID's requests since the window start and, when
// fewer than limit exist, inserts one at the given time. Count and insert
// run in one transaction holding a row lock on the user (SELECT ... FOR
// UPDATE on postgres), so concurrent reservations for the same user are
// serialized. SQLite has no row locks; callers serialize writers there.
// limit <= 0 means unlimited. It returns the count including the new row,
// or the current count with ErrQuotaExhausted.
func ReserveRequest(ctx context.Context, db *gorm.DB, userID string, since, at time.Time, limit int) (int64, error) {
	var used int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", userID).
			Take(&u).Error; err != nil {
			return err
		}

		n, err := CountRequestsSince(ctx, tx, userID, since)
		if err != nil {
			return err
		}
		used = n
		if limit > 0 && n >= int64(limit) {
			return ErrQuotaExhausted
		}
		if _, err := AddRequest(ctx, tx, userID, at); err != nil {
			return err
		}
		used++
		return nil
	})
	return used, err
}
