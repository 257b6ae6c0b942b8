package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"postpilot/internal/post"
	"postpilot/internal/publisher"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// scriptedPublisher returns the queued outcomes in order, then succeeds.
type scriptedPublisher struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *scriptedPublisher) Publish(ctx context.Context, req publisher.Request) (publisher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return publisher.Result{}, err
		}
	}
	return publisher.Result{URL: fmt.Sprintf("https://example.net/%s/%d", req.PostID, f.calls)}, nil
}

func (f *scriptedPublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc   *Service
	st    *store.Memory
	pub   *scriptedPublisher
	clock time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := store.NewMemory()
	pub := &scriptedPublisher{}
	reg := publisher.NewRegistry()
	reg.Register("telegram", pub)

	svc := New(cfg, st, reg, nil, logx.Nop(), nil)
	f := &fixture{svc: svc, st: st, pub: pub, clock: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) seed(t *testing.T, id string, at time.Time) {
	t.Helper()
	err := f.st.CreatePosts(context.Background(), []post.ScheduledPost{{
		ID:            id,
		ContentID:     "c-" + id,
		DestinationID: "d1",
		Platform:      "telegram",
		Caption:       "hello",
		ScheduledTime: at,
		Status:        post.StatusScheduled,
		CreatedAt:     at,
		UpdatedAt:     at,
	}})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func (f *fixture) get(t *testing.T, id string) post.ScheduledPost {
	t.Helper()
	p, err := f.st.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return p
}

func TestTickPublishesDuePosts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true})
	f.seed(t, "p1", f.clock.Add(-time.Minute))
	f.seed(t, "p2", f.clock.Add(time.Hour)) // not due yet

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := f.get(t, "p1"); got.Status != post.StatusPosted || got.PlatformURL == "" {
		t.Errorf("p1 = %s url=%q, want posted with url", got.Status, got.PlatformURL)
	}
	if got := f.get(t, "p2"); got.Status != post.StatusScheduled {
		t.Errorf("p2 = %s, want untouched", got.Status)
	}
	if n := f.pub.callCount(); n != 1 {
		t.Errorf("publish calls = %d, want 1", n)
	}
	st := f.svc.Status()
	if st.Counters.Published != 1 || st.Counters.Claimed != 1 {
		t.Errorf("counters = %+v", st.Counters)
	}
}

func TestTransientFailureRetriesAfterBackoff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, RetryMax: 3, RetryBase: time.Minute, RetryMaxDelay: 10 * time.Minute})
	f.pub.errs = []error{errors.New("connection reset")}
	f.seed(t, "p1", f.clock.Add(-time.Minute))

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	got := f.get(t, "p1")
	if got.Status != post.StatusFailed || got.RetryCount != 1 {
		t.Fatalf("after tick 1: status=%s retries=%d", got.Status, got.RetryCount)
	}
	if got.NextRetryAt == nil {
		t.Fatal("transient failure must carry next_retry_at")
	}
	// Backoff is base +/- jitter, clamped.
	delay := got.NextRetryAt.Sub(f.clock)
	if delay <= 0 || delay > 2*time.Minute {
		t.Fatalf("backoff delay = %v, want within (0, 2m]", delay)
	}

	// A tick inside the backoff window must not touch the post.
	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if got := f.get(t, "p1"); got.Status != post.StatusFailed {
		t.Fatalf("retried before backoff elapsed: %s", got.Status)
	}

	// Past the window: requeued and published in the same tick.
	f.clock = got.NextRetryAt.Add(time.Second)
	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	got = f.get(t, "p1")
	if got.Status != post.StatusPosted {
		t.Fatalf("after retry tick: status=%s last_error=%q", got.Status, got.LastError)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if f.svc.Status().Counters.Requeued != 1 {
		t.Errorf("requeued counter = %d, want 1", f.svc.Status().Counters.Requeued)
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, RetryMax: 3})
	f.pub.errs = []error{publisher.Permanent(errors.New("caption rejected"))}
	f.seed(t, "p1", f.clock.Add(-time.Minute))

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := f.get(t, "p1")
	if got.Status != post.StatusFailed || got.NextRetryAt != nil {
		t.Fatalf("status=%s next=%v, want failed with nil next_retry_at", got.Status, got.NextRetryAt)
	}

	f.clock = f.clock.Add(24 * time.Hour)
	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if n := f.pub.callCount(); n != 1 {
		t.Errorf("publish calls = %d, want exactly 1", n)
	}
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, RetryMax: 2, RetryBase: time.Minute})
	f.pub.errs = []error{errors.New("boom"), errors.New("boom again")}
	f.seed(t, "p1", f.clock.Add(-time.Minute))

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	got := f.get(t, "p1")
	if got.NextRetryAt == nil {
		t.Fatal("first failure should schedule a retry")
	}

	f.clock = got.NextRetryAt.Add(time.Second)
	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	got = f.get(t, "p1")
	if got.Status != post.StatusFailed || got.RetryCount != 2 {
		t.Fatalf("status=%s retries=%d, want failed/2", got.Status, got.RetryCount)
	}
	if got.NextRetryAt != nil {
		t.Error("exhausted post must not carry next_retry_at")
	}
}

func TestRetryAfterHintBoundsBackoff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, RetryMax: 3, RetryBase: time.Minute, RetryMaxDelay: 10 * time.Minute})
	f.pub.errs = []error{publisher.RetryAfter(errors.New("rate limited"), time.Hour)}
	f.seed(t, "p1", f.clock.Add(-time.Minute))

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := f.get(t, "p1")
	if got.NextRetryAt == nil {
		t.Fatal("hinted failure should schedule a retry")
	}
	// The one-hour hint is clamped to RetryMaxDelay (plus jitter never
	// exceeds the clamp).
	if delay := got.NextRetryAt.Sub(f.clock); delay > 10*time.Minute {
		t.Errorf("delay = %v, want <= 10m", delay)
	}
}

func TestUnknownPlatformFailsPermanently(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, RetryMax: 3})
	err := f.st.CreatePosts(context.Background(), []post.ScheduledPost{{
		ID: "p1", ContentID: "c1", DestinationID: "d9", Platform: "myspace",
		ScheduledTime: f.clock.Add(-time.Minute), Status: post.StatusScheduled,
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := f.get(t, "p1")
	if got.Status != post.StatusFailed || got.NextRetryAt != nil {
		t.Fatalf("status=%s next=%v, want permanent failure", got.Status, got.NextRetryAt)
	}
}

func TestTriggerNow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true})
	f.seed(t, "p1", f.clock.Add(48*time.Hour)) // far future

	if err := f.svc.TriggerNow(context.Background(), "p1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got := f.get(t, "p1"); got.Status != post.StatusPosted {
		t.Fatalf("status = %s, want posted", got.Status)
	}

	// Re-triggering a posted post is an illegal transition.
	if err := f.svc.TriggerNow(context.Background(), "p1"); !post.IsIllegalTransition(err) {
		t.Fatalf("err = %v, want illegal transition", err)
	}
}

func TestCancelRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true})
	f.seed(t, "p1", f.clock.Add(time.Hour))
	f.seed(t, "p2", f.clock.Add(-time.Minute))

	if err := f.svc.Cancel(context.Background(), "p1"); err != nil {
		t.Fatalf("cancel scheduled: %v", err)
	}
	if got := f.get(t, "p1"); got.Status != post.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := f.svc.Cancel(context.Background(), "p2"); !post.IsIllegalTransition(err) {
		t.Fatalf("cancel posted = %v, want illegal transition", err)
	}
	if err := f.svc.Cancel(context.Background(), "nope"); !errors.Is(err, post.ErrNotFound) {
		t.Fatalf("cancel unknown = %v, want ErrNotFound", err)
	}
}

func TestManualRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, RetryMax: 3, RetryBase: time.Hour})
	f.pub.errs = []error{errors.New("boom")}
	f.seed(t, "p1", f.clock.Add(-time.Minute))

	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := f.get(t, "p1"); got.Status != post.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}

	// Manual retry ignores the hour-long backoff window.
	if err := f.svc.Retry(context.Background(), "p1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got := f.get(t, "p1")
	if got.Status != post.StatusScheduled || got.NextRetryAt != nil {
		t.Fatalf("status=%s next=%v, want scheduled/nil", got.Status, got.NextRetryAt)
	}

	if err := f.svc.Retry(context.Background(), "p1"); !post.IsIllegalTransition(err) {
		t.Fatalf("retry scheduled = %v, want illegal transition", err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: true, Interval: time.Hour})

	ctx := context.Background()
	f.svc.Start(ctx)
	f.svc.Start(ctx)
	if !f.svc.Running() {
		t.Fatal("not running after Start")
	}
	f.svc.Stop(ctx)
	f.svc.Stop(ctx)
	if f.svc.Running() {
		t.Fatal("still running after Stop")
	}
}

func TestDisabledServiceDoesNotStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Enabled: false})
	f.svc.Start(context.Background())
	if f.svc.Running() {
		t.Fatal("disabled service started")
	}
}
