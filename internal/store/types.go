package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postpilot/internal/post"
)

// ErrDuplicateSlot rejects a batch containing a (destination, time) pair
// already held by a non-cancelled post.
var ErrDuplicateSlot = errors.New("duplicate destination/time slot")

// Config configures the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default for production)
//   - "memory": in-process map, no durability (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API the planner and dispatch loop depend on.
//
// CreatePosts persists a committed plan atomically: if any row fails, no row
// is kept. Claim performs the scheduled->posting transition as a single
// conditional update and reports whether this caller won the claim.
// Requeue performs failed->scheduled the same way (used by both manual retry
// and the automatic backoff requeue).
type Store interface {
	CreatePosts(ctx context.Context, posts []post.ScheduledPost) error
	Get(ctx context.Context, id string) (post.ScheduledPost, error)
	List(ctx context.Context) ([]post.ScheduledPost, error)

	// FindDue returns posts with status=scheduled and scheduledTime <= now,
	// ordered by scheduledTime ascending.
	FindDue(ctx context.Context, now time.Time) ([]post.ScheduledPost, error)

	// FindRetryable returns failed posts whose next_retry_at is set and
	// <= now, ordered by next_retry_at ascending.
	FindRetryable(ctx context.Context, now time.Time) ([]post.ScheduledPost, error)

	Claim(ctx context.Context, id string) (bool, error)
	Requeue(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkPosted transitions posting->posted and records the platform URL.
	MarkPosted(ctx context.Context, id, platformURL string, at time.Time) error

	// MarkFailed transitions posting->failed, increments the retry counter and
	// records the error. nextRetryAt is nil for permanent failures.
	MarkFailed(ctx context.Context, id, lastError string, nextRetryAt *time.Time, at time.Time) error

	// Cancel transitions draft/scheduled/failed -> cancelled. Posts already
	// posting or posted are rejected with an IllegalTransitionError.
	Cancel(ctx context.Context, id string, at time.Time) error

	Delete(ctx context.Context, id string) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
