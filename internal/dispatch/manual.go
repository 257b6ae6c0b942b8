package dispatch

import (
	"context"
	"fmt"

	"postpilot/internal/post"
)

// TriggerNow publishes one scheduled post immediately, bypassing its
// scheduled time. The post still goes through the normal claim path, so a
// concurrent tick cannot double-publish it.
func (s *Service) TriggerNow(ctx context.Context, id string) error {
	p, err := s.st.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != post.StatusScheduled {
		return &post.IllegalTransitionError{From: p.Status, To: post.StatusPosting}
	}
	s.publishOne(ctx, p)

	// publishOne swallows the publish outcome into the store; report it.
	p, err = s.st.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == post.StatusFailed {
		return fmt.Errorf("publish failed: %s", p.LastError)
	}
	return nil
}

// Cancel withdraws a post that has not started publishing. Posts already
// posting, posted or cancelled are rejected with an illegal-transition
// error.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.st.Cancel(ctx, id, s.now().UTC())
}

// Retry moves a failed post back to scheduled right away, regardless of
// its backoff window. It becomes due on the next tick (its scheduled time
// is already in the past).
func (s *Service) Retry(ctx context.Context, id string) error {
	ok, err := s.st.Requeue(ctx, id, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		p, err := s.st.Get(ctx, id)
		if err != nil {
			return err
		}
		return &post.IllegalTransitionError{From: p.Status, To: post.StatusScheduled}
	}
	s.requeued.Add(1)
	return nil
}
