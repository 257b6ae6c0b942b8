package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"postpilot/internal/catalog"
	"postpilot/internal/post"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

func testCatalog() *catalog.Static {
	return &catalog.Static{
		Content: []catalog.ContentItem{
			{ID: "c1", Tags: []string{"travel", "photo"}, Type: catalog.ContentImage, Caption: "sunset"},
			{ID: "c2", Tags: []string{"travel", "food"}, Type: catalog.ContentImage, Caption: "market"},
			{ID: "c3", Tags: []string{"food"}, Type: catalog.ContentVideo, Caption: "recipe"},
			{ID: "c4", Tags: []string{"travel"}, Type: catalog.ContentText, Caption: "notes"},
		},
		Destinations: []catalog.DestinationProfile{
			{ID: "d1", Platform: "telegram", Name: "travel channel", PreferredTags: []string{"travel"}, Weight: 3},
			{ID: "d2", Platform: "mastodon", Name: "food feed", PreferredTags: []string{"food"}, ExcludedTags: []string{"photo"}, Weight: 1},
		},
	}
}

func newTestPlanner(t *testing.T, cat *catalog.Static) (*Planner, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	return New(cat, cat, st, logx.Nop(), nil), st
}

func baseConfig() Config {
	return Config{
		SelectedTags: []string{"travel", "food"},
		SchedulingPeriod: Period{
			StartDate: "2026-09-01",
			EndDate:   "2026-09-03",
			TimeSlots: []string{"09:00", "18:00"},
		},
		DistributionMode: ModeEven,
		PostsPerDay:      2,
	}
}

func TestPreviewSingleSlotSingleDestination(t *testing.T) {
	t.Parallel()
	cat := &catalog.Static{
		Content: []catalog.ContentItem{
			{ID: "c1", Tags: []string{"travel"}, Type: catalog.ContentImage},
		},
		Destinations: []catalog.DestinationProfile{
			{ID: "d1", Platform: "telegram", PreferredTags: []string{"travel"}},
		},
	}
	p, _ := newTestPlanner(t, cat)

	plan, err := p.Preview(context.Background(), Config{
		SelectedTags: []string{"travel"},
		SchedulingPeriod: Period{
			StartDate: "2026-09-01",
			EndDate:   "2026-09-03",
			TimeSlots: []string{"10:00"},
		},
		PostsPerDay: 1,
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(plan.Matches) != 3 {
		t.Fatalf("matches = %d, want 3 (one per day)", len(plan.Matches))
	}
	for i, m := range plan.Matches {
		if m.ContentID != "c1" || m.DestinationID != "d1" {
			t.Errorf("match %d = %s/%s, want c1/d1", i, m.ContentID, m.DestinationID)
		}
		if m.Score != 100 {
			t.Errorf("match %d score = %d, want 100", i, m.Score)
		}
		wantDay := time.Date(2026, 9, 1+i, 10, 0, 0, 0, time.UTC)
		if !m.ScheduledTime.Equal(wantDay) {
			t.Errorf("match %d time = %v, want %v", i, m.ScheduledTime, wantDay)
		}
	}
}

func TestPreviewExcludedTagNeverMatched(t *testing.T) {
	t.Parallel()
	p, _ := newTestPlanner(t, testCatalog())

	cfg := baseConfig()
	cfg.SchedulingPeriod.EndDate = "2026-09-10" // enough slots to force rotation
	plan, err := p.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	// d2 excludes "photo"; c1 carries it and must never land there.
	for _, m := range plan.Matches {
		if m.DestinationID == "d2" && m.ContentID == "c1" {
			t.Fatalf("excluded content c1 assigned to d2 at %v", m.ScheduledTime)
		}
	}
}

func TestPreviewPostsPerDayExceedsSlots(t *testing.T) {
	t.Parallel()
	p, _ := newTestPlanner(t, testCatalog())

	cfg := baseConfig()
	cfg.PostsPerDay = 5 // only 2 slots available per day
	plan, err := p.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if want := 3 * 2; len(plan.Matches) != want {
		t.Fatalf("matches = %d, want %d (capped at slots per day)", len(plan.Matches), want)
	}
	if len(plan.Diagnostics) == 0 {
		t.Error("expected a diagnostic about postsPerDay exceeding available slots")
	}
}

func TestPreviewInvariants(t *testing.T) {
	t.Parallel()
	p, _ := newTestPlanner(t, testCatalog())

	for _, mode := range []Mode{ModeEven, ModeWeighted, ModeSmart} {
		mode := mode
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			cfg.DistributionMode = mode
			plan, err := p.Preview(context.Background(), cfg)
			if err != nil {
				t.Fatalf("preview: %v", err)
			}

			maxPosts := 3 * cfg.PostsPerDay
			if len(plan.Matches) > maxPosts {
				t.Errorf("matches = %d, exceeds bound %d", len(plan.Matches), maxPosts)
			}

			slots := map[string]bool{"09:00": true, "18:00": true}
			seen := map[string]bool{}
			for _, m := range plan.Matches {
				hm := m.ScheduledTime.Format("15:04")
				if !slots[hm] {
					t.Errorf("match scheduled at %s, not a configured slot", hm)
				}
				key := m.DestinationID + "|" + m.ScheduledTime.Format(time.RFC3339)
				if seen[key] {
					t.Errorf("duplicate (destination, time): %s", key)
				}
				seen[key] = true
			}
		})
	}
}

func TestWeightedSplit(t *testing.T) {
	t.Parallel()
	cat := &catalog.Static{
		Content: []catalog.ContentItem{
			{ID: "c1", Tags: []string{"travel"}, Type: catalog.ContentImage},
			{ID: "c2", Tags: []string{"travel"}, Type: catalog.ContentImage},
		},
		Destinations: []catalog.DestinationProfile{
			{ID: "d1", Platform: "telegram", PreferredTags: []string{"travel"}, Weight: 3},
			{ID: "d2", Platform: "mastodon", PreferredTags: []string{"travel"}, Weight: 1},
		},
	}
	p, _ := newTestPlanner(t, cat)

	cfg := Config{
		SelectedTags: []string{"travel"},
		SchedulingPeriod: Period{
			StartDate: "2026-09-01",
			EndDate:   "2026-09-04",
			TimeSlots: []string{"12:00"},
		},
		DistributionMode: ModeWeighted,
		PostsPerDay:      1,
	}
	plan, err := p.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	counts := map[string]int{}
	for _, m := range plan.Matches {
		counts[m.DestinationID]++
	}
	// 4 slots, weights 3:1 -> exactly 3 and 1.
	if counts["d1"] != 3 || counts["d2"] != 1 {
		t.Fatalf("weighted split = %v, want d1:3 d2:1", counts)
	}
}

func TestSmartPrefersHighestScore(t *testing.T) {
	t.Parallel()
	cat := &catalog.Static{
		Content: []catalog.ContentItem{
			{ID: "c1", Tags: []string{"travel", "food"}, Type: catalog.ContentImage},
			{ID: "c2", Tags: []string{"travel"}, Type: catalog.ContentImage},
		},
		Destinations: []catalog.DestinationProfile{
			{ID: "d1", Platform: "telegram", PreferredTags: []string{"travel", "food"}},
		},
	}
	p, _ := newTestPlanner(t, cat)

	cfg := Config{
		SelectedTags: []string{"travel", "food"},
		SchedulingPeriod: Period{
			StartDate: "2026-09-01",
			EndDate:   "2026-09-01",
			TimeSlots: []string{"08:00", "20:00"},
		},
		DistributionMode: ModeSmart,
		PostsPerDay:      2,
	}
	plan, err := p.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(plan.Matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(plan.Matches))
	}
	// c1 overlaps both selected tags (score 100) and must win the first slot;
	// c2 (score 50) fills the second.
	if plan.Matches[0].ContentID != "c1" {
		t.Errorf("first slot content = %s, want c1", plan.Matches[0].ContentID)
	}
	if plan.Matches[1].ContentID != "c2" {
		t.Errorf("second slot content = %s, want c2", plan.Matches[1].ContentID)
	}
}

func TestCommitPersistsPlan(t *testing.T) {
	t.Parallel()
	p, st := newTestPlanner(t, testCatalog())

	cfg := baseConfig()
	preview, err := p.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	plan, summary, err := p.Commit(context.Background(), cfg)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(plan.Matches) != len(preview.Matches) {
		t.Fatalf("commit plan has %d matches, preview had %d", len(plan.Matches), len(preview.Matches))
	}
	if summary.TotalPosts != len(plan.Matches) {
		t.Errorf("summary.TotalPosts = %d, want %d", summary.TotalPosts, len(plan.Matches))
	}

	posts, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != len(plan.Matches) {
		t.Fatalf("store has %d posts, want %d", len(posts), len(plan.Matches))
	}

	// The preview and the persisted posts must agree assignment by
	// assignment, not just in count.
	key := func(contentID, destID string, at time.Time) string {
		return contentID + "|" + destID + "|" + at.UTC().Format(time.RFC3339)
	}
	want := map[string]bool{}
	for _, m := range preview.Matches {
		want[key(m.ContentID, m.DestinationID, m.ScheduledTime)] = true
	}
	for _, sp := range posts {
		k := key(sp.ContentID, sp.DestinationID, sp.ScheduledTime)
		if !want[k] {
			t.Errorf("persisted post %s not present in preview", k)
		}
		delete(want, k)
	}
	for k := range want {
		t.Errorf("preview match %s was never persisted", k)
	}

	dests := map[string]bool{}
	for _, sp := range posts {
		if sp.Status != post.StatusScheduled {
			t.Errorf("post %s status = %s, want scheduled", sp.ID, sp.Status)
		}
		if sp.Platform == "" {
			t.Errorf("post %s missing platform", sp.ID)
		}
		dests[sp.DestinationID] = true
	}
	if summary.DestinationCount != len(dests) {
		t.Errorf("summary.DestinationCount = %d, want %d", summary.DestinationCount, len(dests))
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	t.Parallel()
	p, st := newTestPlanner(t, testCatalog())

	if _, err := p.Preview(context.Background(), baseConfig()); err != nil {
		t.Fatalf("preview: %v", err)
	}
	posts, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("preview persisted %d posts", len(posts))
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()
	p, _ := newTestPlanner(t, testCatalog())

	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no tags", func(c *Config) { c.SelectedTags = nil }, "selectedTags"},
		{"zero posts per day", func(c *Config) { c.PostsPerDay = 0 }, "postsPerDay"},
		{"bad start date", func(c *Config) { c.SchedulingPeriod.StartDate = "09/01/2026" }, "schedulingPeriod.startDate"},
		{"end before start", func(c *Config) { c.SchedulingPeriod.EndDate = "2026-08-01" }, "schedulingPeriod"},
		{"no slots", func(c *Config) { c.SchedulingPeriod.TimeSlots = nil }, "schedulingPeriod.timeSlots"},
		{"bad slot", func(c *Config) { c.SchedulingPeriod.TimeSlots = []string{"9am"} }, "schedulingPeriod.timeSlots"},
		{"bad mode", func(c *Config) { c.DistributionMode = "random" }, "distributionMode"},
		{"bad content type", func(c *Config) { c.ContentTypes = []string{"gif"} }, "contentTypes"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tc.mutate(&cfg)
			_, err := p.Preview(context.Background(), cfg)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if ce.Field != tc.field {
				t.Errorf("ConfigError.Field = %q, want %q", ce.Field, tc.field)
			}
		})
	}
}

func TestPreviewEmptyWhenNothingEligible(t *testing.T) {
	t.Parallel()
	p, _ := newTestPlanner(t, testCatalog())

	cfg := baseConfig()
	cfg.SelectedTags = []string{"sports"}
	plan, err := p.Preview(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(plan.Matches) != 0 {
		t.Fatalf("matches = %d, want 0", len(plan.Matches))
	}
	if len(plan.Diagnostics) == 0 {
		t.Error("expected diagnostics explaining the empty plan")
	}
}
