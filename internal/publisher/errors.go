package publisher

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownPlatform is returned when no publisher is registered for a
	// post's platform.
	ErrUnknownPlatform = errors.New("no publisher for platform")
)

// Permanent marks an error as non-retryable.
//
// Publishers wrap rejections that will never succeed (bad credentials,
// content rejected by the platform, 4xx responses other than 429) with
// Permanent so the dispatcher fails the post immediately instead of
// burning retries.
//
// Example:
//
//	return Result{}, publisher.Permanent(fmt.Errorf("caption rejected: %w", err))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay before the next attempt.
//
// Useful when the platform returns an explicit Retry-After (HTTP 429).
// The dispatcher respects the hint, bounded by its max retry delay, and
// still applies jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
