package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"postpilot/internal/post"
)

// Memory is a mutex-guarded in-process store.
//
// It mirrors the sqlite driver's semantics exactly (CAS claims, atomic batch
// create, slot uniqueness) so tests exercise the real contract.
type Memory struct {
	mu    sync.Mutex
	posts map[string]post.ScheduledPost
}

func NewMemory() *Memory {
	return &Memory{posts: map[string]post.ScheduledPost{}}
}

func (m *Memory) CreatePosts(ctx context.Context, posts []post.ScheduledPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before touching state: all-or-nothing.
	type slot struct {
		dest string
		at   int64
	}
	taken := map[slot]bool{}
	for _, p := range m.posts {
		if p.Status != post.StatusCancelled {
			taken[slot{p.DestinationID, p.ScheduledTime.UnixMilli()}] = true
		}
	}
	for _, p := range posts {
		s := slot{p.DestinationID, p.ScheduledTime.UnixMilli()}
		if taken[s] {
			return ErrDuplicateSlot
		}
		taken[s] = true
	}

	for _, p := range posts {
		m.posts[p.ID] = p
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (post.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return post.ScheduledPost{}, post.ErrNotFound
	}
	return p, nil
}

func (m *Memory) List(ctx context.Context) ([]post.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]post.ScheduledPost, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) FindDue(ctx context.Context, now time.Time) ([]post.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []post.ScheduledPost
	for _, p := range m.posts {
		if p.Status == post.StatusScheduled && !p.ScheduledTime.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) FindRetryable(ctx context.Context, now time.Time) ([]post.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []post.ScheduledPost
	for _, p := range m.posts {
		if p.Status == post.StatusFailed && p.NextRetryAt != nil && !p.NextRetryAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRetryAt.Equal(*out[j].NextRetryAt) {
			return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Claim(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return false, post.ErrNotFound
	}
	if p.Status != post.StatusScheduled {
		return false, nil
	}
	p.Status = post.StatusPosting
	p.UpdatedAt = time.Now()
	m.posts[id] = p
	return true, nil
}

func (m *Memory) Requeue(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return false, post.ErrNotFound
	}
	if p.Status != post.StatusFailed {
		return false, nil
	}
	p.Status = post.StatusScheduled
	p.NextRetryAt = nil
	p.UpdatedAt = at
	m.posts[id] = p
	return true, nil
}

func (m *Memory) MarkPosted(ctx context.Context, id, platformURL string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return post.ErrNotFound
	}
	if err := post.Transition(p.Status, post.StatusPosted); err != nil {
		return err
	}
	p.Status = post.StatusPosted
	p.PlatformURL = platformURL
	p.LastError = ""
	p.NextRetryAt = nil
	p.UpdatedAt = at
	m.posts[id] = p
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id, lastError string, nextRetryAt *time.Time, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return post.ErrNotFound
	}
	if err := post.Transition(p.Status, post.StatusFailed); err != nil {
		return err
	}
	p.Status = post.StatusFailed
	p.LastError = lastError
	p.RetryCount++
	p.NextRetryAt = nextRetryAt
	p.UpdatedAt = at
	m.posts[id] = p
	return nil
}

func (m *Memory) Cancel(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return post.ErrNotFound
	}
	if err := post.Transition(p.Status, post.StatusCancelled); err != nil {
		return err
	}
	p.Status = post.StatusCancelled
	p.NextRetryAt = nil
	p.UpdatedAt = at
	m.posts[id] = p
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return post.ErrNotFound
	}
	delete(m.posts, id)
	return nil
}

func (m *Memory) Close() error { return nil }
