package dispatch

import (
	"errors"
	"math/rand"
	"time"

	"postpilot/internal/publisher"
)

// backoffDelay computes the wait before retry number attempt (1-based):
// base doubled per attempt, capped, with symmetric jitter. An explicit
// RetryAfter hint from the publisher takes precedence over the exponential
// schedule but still gets capped and jittered.
func (s *Service) backoffDelay(attempt int, err error) time.Duration {
	var ra publisher.RetryAfterError
	if err != nil && errors.As(err, &ra) {
		return s.jitter(clamp(ra.RetryAfter(), s.cfg.RetryMaxDelay))
	}

	d := s.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.RetryMaxDelay {
			d = s.cfg.RetryMaxDelay
			break
		}
	}
	return s.jitter(d)
}

func (s *Service) jitter(d time.Duration) time.Duration {
	j := s.cfg.RetryJitter
	if j <= 0 || d <= 0 {
		return d
	}
	r := (rand.Float64()*2 - 1) * j
	out := time.Duration(float64(d) * (1 + r))
	if out < 0 {
		out = 0
	}
	return clamp(out, s.cfg.RetryMaxDelay)
}

func clamp(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
