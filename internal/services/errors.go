// Package services holds the application logic behind the HTTP API: the
// chat request pipeline, the daily quota and the read-side chat service.
//
// The errors below are the pipeline's failure taxonomy. Handlers map them
// to HTTP statuses; nothing in this package knows about HTTP.
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUserNotFound means the session names a user that does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrTooManyRequests means the caller exhausted today's quota.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrRecordRequest means the quota-consuming request row could not be written.
	ErrRecordRequest = errors.New("failed to record request")

	// ErrParseRequest means the chat request body is malformed.
	ErrParseRequest = errors.New("invalid chat request")

	// ErrSaveChat means a conversation snapshot could not be persisted,
	// including saves that target another user's chat.
	ErrSaveChat = errors.New("failed to save chat")

	// ErrModelBusy means the shared model throttle stayed full after retries.
	ErrModelBusy = errors.New("model is busy")

	// ErrChatNotFound means the chat does not exist or belongs to someone else.
	ErrChatNotFound = errors.New("chat not found")
)

// RetryError carries a retry hint alongside a rejection sentinel.
type RetryError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *RetryError) Unwrap() error { return e.Err }

// RetryAfter returns the retry hint attached to err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
