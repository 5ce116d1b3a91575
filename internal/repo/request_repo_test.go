package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-deepsearch/internal/domain"
)

func TestRequests_AddAndCountSince(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	midnight := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for _, at := range []time.Time{now.Add(-20 * time.Hour), now.Add(-time.Hour), now} {
		if _, err := AddRequest(ctx, db, "u1", at); err != nil {
			t.Fatalf("AddRequest: %v", err)
		}
	}
	_, _ = AddRequest(ctx, db, "u2", now)

	n, err := CountRequestsSince(ctx, db, "u1", midnight)
	if err != nil {
		t.Fatalf("CountRequestsSince: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 requests today, got %d", n)
	}
}

func TestGetUserByID(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()
	if err := db.Create(&domain.User{ID: "u1", Name: "Ada", IsAdmin: true}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	u, err := GetUserByID(ctx, db, "u1")
	if err != nil || !u.IsAdmin || u.Name != "Ada" {
		t.Fatalf("GetUserByID = %+v, %v", u, err)
	}
	if _, err := GetUserByID(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReserveRequest_AdmitsUpToLimit(t *testing.T) {
	db := newChatDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	midnight := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if err := db.Create(&domain.User{ID: "u1"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	_, _ = AddRequest(ctx, db, "u1", now.Add(-24*time.Hour)) // yesterday

	for want := int64(1); want <= 2; want++ {
		n, err := ReserveRequest(ctx, db, "u1", midnight, now, 2)
		if err != nil || n != want {
			t.Fatalf("ReserveRequest = %d, %v; want %d", n, err, want)
		}
	}
	n, err := ReserveRequest(ctx, db, "u1", midnight, now, 2)
	if !errors.Is(err, ErrQuotaExhausted) || n != 2 {
		t.Fatalf("over limit: %d, %v", n, err)
	}
	if c, _ := CountRequestsSince(ctx, db, "u1", midnight); c != 2 {
		t.Fatalf("rejected reservation must not write, have %d", c)
	}

	if n, err := ReserveRequest(ctx, db, "u1", midnight, now, 0); err != nil || n != 3 {
		t.Fatalf("unlimited: %d, %v", n, err)
	}
	if _, err := ReserveRequest(ctx, db, "ghost", midnight, now, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}
