package post

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when no post matches the given id.
var ErrNotFound = errors.New("post not found")

// IllegalTransitionError rejects a status change that violates the
// lifecycle state machine. It names both states so callers can report
// exactly what was attempted.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s -> %s", e.From, e.To)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var e *IllegalTransitionError
	return errors.As(err, &e)
}
