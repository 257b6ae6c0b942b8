package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"postpilot/internal/eventbus"
	"postpilot/internal/metrics"
	"postpilot/internal/planner"
	logx "postpilot/pkg/logx"
)

func newEventFixture() *App {
	return &App{
		log: logx.Nop(),
		met: metrics.New(),
		bus: eventbus.New(),
	}
}

func TestHandleEventCountsPlanCommits(t *testing.T) {
	t.Parallel()
	a := newEventFixture()

	a.handleEvent(eventbus.Event{
		Type: "plan.committed",
		Data: planner.CommitSummary{TotalPosts: 3, DestinationCount: 2},
	})
	a.handleEvent(eventbus.Event{Type: "plan.committed"})
	if got := testutil.ToFloat64(a.met.PlanCommits); got != 2 {
		t.Fatalf("plan commit counter = %v, want 2", got)
	}

	a.handleEvent(eventbus.Event{Type: "post.published", Data: "p1"})
	if got := testutil.ToFloat64(a.met.PlanCommits); got != 2 {
		t.Fatalf("unrelated event moved the commit counter to %v", got)
	}
}

func TestConsumeEventsDrainsBus(t *testing.T) {
	t.Parallel()
	a := newEventFixture()

	events, unsub := a.bus.Subscribe(8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.consumeEvents(ctx, events)
	}()

	a.bus.Publish(eventbus.Event{Type: "plan.committed"})

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(a.met.PlanCommits) < 1 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("published event was never consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on context cancel")
	}
}
