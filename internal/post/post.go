// Package post defines the persisted scheduled-post record and its
// lifecycle state machine.
package post

import (
	"time"

	"postpilot/internal/catalog"
)

// Status is the lifecycle state of a scheduled post.
//
// All mutation goes through the transition table below; call sites never
// compare-and-branch on raw strings.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusPosting   Status = "posting"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// legal transitions; see CanTransition.
//
//	scheduled -> posting        claim (loop tick or manual trigger)
//	posting   -> posted         publish succeeded
//	posting   -> failed         publish failed or timed out
//	failed    -> scheduled      retry (manual or automatic requeue)
//	scheduled -> cancelled
//	failed    -> cancelled
//	draft     -> cancelled
//	draft     -> scheduled      manual authoring promoted into the queue
var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusPosting, StatusCancelled},
	StatusPosting:   {StatusPosted, StatusFailed},
	StatusFailed:    {StatusScheduled, StatusCancelled},
	StatusPosted:    {},
	StatusCancelled: {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns an error identifying both
// states when the edge is illegal.
func Transition(from, to Status) error {
	if !from.Valid() {
		return &IllegalTransitionError{From: from, To: to}
	}
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}

// ScheduledPost is the persisted record representing a committed assignment.
//
// NextRetryAt is set after a transient publish failure and cleared once the
// post is requeued; nil on a permanent failure (requires manual retry).
type ScheduledPost struct {
	ID            string             `json:"id"`
	ContentID     string             `json:"contentId"`
	DestinationID string             `json:"destinationId"`
	Platform      string             `json:"platform"`
	Caption       string             `json:"caption"`
	Media         []catalog.MediaRef `json:"media,omitempty"`
	ScheduledTime time.Time          `json:"scheduledTime"`
	Status        Status             `json:"status"`
	RetryCount    int                `json:"retryCount"`
	LastError     string             `json:"lastError,omitempty"`
	PlatformURL   string             `json:"platformUrl,omitempty"`
	NextRetryAt   *time.Time         `json:"nextRetryAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}
