package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-deepsearch/internal/domain"
	"github.com/tbourn/go-deepsearch/internal/repo"
)

// QuotaStatus describes a user's standing against the daily limit.
type QuotaStatus struct {
	Limit     int       `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Admin     bool      `json:"admin"`
}

// QuotaService enforces the per-user daily request quota. A day is the UTC
// calendar day; admins are exempt.
//
// Admission counts and records in one transaction (see repo.ReserveRequest).
// Admissions from this process are additionally run one at a time, which
// is what serializes them on SQLite.
type QuotaService struct {
	DB         *gorm.DB
	DailyLimit int
	Now        func() time.Time

	mu sync.Mutex
}

// NewQuotaService returns a QuotaService using the wall clock.
func NewQuotaService(db *gorm.DB, dailyLimit int) *QuotaService {
	return &QuotaService{DB: db, DailyLimit: dailyLimit, Now: time.Now}
}

func (s *QuotaService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// dayStart returns midnight UTC of t's day.
func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Status reports u's usage for today.
func (s *QuotaService) Status(ctx context.Context, u *domain.User) (QuotaStatus, error) {
	now := s.now()
	start := dayStart(now)
	st := QuotaStatus{Limit: s.DailyLimit, ResetAt: start.Add(24 * time.Hour), Admin: u.IsAdmin}

	used, err := repo.CountRequestsSince(ctx, s.DB, u.ID, start)
	if err != nil {
		return st, fmt.Errorf("count requests: %w", err)
	}
	st.Used = used
	if rem := int64(s.DailyLimit) - used; rem > 0 {
		st.Remaining = int(rem)
	}
	return st, nil
}

// StatusFor loads the user and reports its usage.
func (s *QuotaService) StatusFor(ctx context.Context, userID string) (QuotaStatus, error) {
	u, err := loadUser(ctx, s.DB, userID)
	if err != nil {
		return QuotaStatus{}, err
	}
	return s.Status(ctx, u)
}

// Admit consumes one request from u's daily quota. When the limit is
// already reached it returns a RetryError wrapping ErrTooManyRequests that
// expires at the next UTC midnight, and nothing is recorded. Admins are
// recorded but never rejected. Storage failures wrap ErrRecordRequest.
func (s *QuotaService) Admit(ctx context.Context, u *domain.User) error {
	now := s.now()
	start := dayStart(now)
	limit := s.DailyLimit
	if u.IsAdmin {
		limit = 0
	}

	s.mu.Lock()
	_, err := repo.ReserveRequest(ctx, s.DB, u.ID, start, now, limit)
	s.mu.Unlock()

	switch {
	case errors.Is(err, repo.ErrQuotaExhausted):
		return &RetryError{Err: ErrTooManyRequests, RetryAfter: start.Add(24 * time.Hour).Sub(now)}
	case err != nil:
		return fmt.Errorf("%w: %w", ErrRecordRequest, err)
	}
	return nil
}

func loadUser(ctx context.Context, db *gorm.DB, userID string) (*domain.User, error) {
	u, err := repo.GetUserByID(ctx, db, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}
