// Package planner turns a scheduling request into concrete time-stamped
// content/destination assignments.
//
// Preview computes assignments with no side effects; Commit runs the same
// computation and persists the result as scheduled posts in one atomic
// batch. All selection and ordering is deterministic so preview and an
// immediately following commit produce identical schedules.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"postpilot/internal/catalog"
	"postpilot/internal/eventbus"
	"postpilot/internal/post"
	"postpilot/internal/scoring"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

type Planner struct {
	content catalog.ContentSource
	dests   catalog.DestinationDirectory
	store   store.Store
	log     logx.Logger
	bus     eventbus.Bus

	now func() time.Time
}

func New(content catalog.ContentSource, dests catalog.DestinationDirectory, st store.Store, log logx.Logger, bus eventbus.Bus) *Planner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Planner{
		content: content,
		dests:   dests,
		store:   st,
		log:     log,
		bus:     bus,
		now:     time.Now,
	}
}

// Preview computes a plan without persisting anything.
func (p *Planner) Preview(ctx context.Context, cfg Config) (Plan, error) {
	if err := validate(&cfg); err != nil {
		return Plan{}, err
	}
	return p.plan(ctx, cfg)
}

// Commit computes the plan and persists every match as a scheduled post.
// The batch is all-or-nothing: if any write fails, nothing is scheduled.
func (p *Planner) Commit(ctx context.Context, cfg Config) (Plan, CommitSummary, error) {
	if err := validate(&cfg); err != nil {
		return Plan{}, CommitSummary{}, err
	}
	pl, err := p.plan(ctx, cfg)
	if err != nil {
		return Plan{}, CommitSummary{}, err
	}
	if len(pl.Matches) == 0 {
		return pl, CommitSummary{}, nil
	}

	contentByID, destByID, err := p.indexCatalog(ctx)
	if err != nil {
		return Plan{}, CommitSummary{}, err
	}

	now := p.now().UTC()
	posts := make([]post.ScheduledPost, 0, len(pl.Matches))
	destSeen := map[string]bool{}
	for _, m := range pl.Matches {
		c := contentByID[m.ContentID]
		d := destByID[m.DestinationID]
		posts = append(posts, post.ScheduledPost{
			ID:            uuid.NewString(),
			ContentID:     m.ContentID,
			DestinationID: m.DestinationID,
			Platform:      d.Platform,
			Caption:       c.Caption,
			Media:         c.Media,
			ScheduledTime: m.ScheduledTime,
			Status:        post.StatusScheduled,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		destSeen[m.DestinationID] = true
	}

	if err := p.store.CreatePosts(ctx, posts); err != nil {
		return Plan{}, CommitSummary{}, fmt.Errorf("commit failed, nothing was scheduled: %w", err)
	}

	summary := CommitSummary{TotalPosts: len(posts), DestinationCount: len(destSeen)}
	p.log.Info("plan committed",
		logx.Int("posts", summary.TotalPosts),
		logx.Int("destinations", summary.DestinationCount),
		logx.String("mode", string(cfg.DistributionMode)))
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: "plan.committed", Data: summary})
	}
	return pl, summary, nil
}

func (p *Planner) plan(ctx context.Context, cfg Config) (Plan, error) {
	cands, diags, err := p.buildCandidates(ctx, cfg)
	if err != nil {
		return Plan{}, err
	}
	grid, slotDiags := slotGrid(cfg)
	diags = append(diags, slotDiags...)

	if len(cands) == 0 {
		diags = append(diags, "no eligible destinations for the selected tags")
		return Plan{Diagnostics: diags}, nil
	}

	matches := assign(cfg, cands, grid)
	return Plan{Matches: matches, Diagnostics: diags}, nil
}

// buildCandidates applies the candidate-filtering rules, in order:
// destination selection (explicit or tag-based auto-select), content
// eligibility (type, tag overlap, text-only flag), then per-destination
// disqualification by excluded tags.
func (p *Planner) buildCandidates(ctx context.Context, cfg Config) ([]*candidate, []string, error) {
	var diags []string

	allDests, err := p.dests.ListDestinations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list destinations: %w", err)
	}
	allContent, err := p.content.ListContent(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list content: %w", err)
	}

	selected := map[string]bool{}
	for _, t := range cfg.SelectedTags {
		selected[t] = true
	}

	var dests []catalog.DestinationProfile
	if len(cfg.SelectedDestinations) > 0 {
		want := map[string]bool{}
		for _, id := range cfg.SelectedDestinations {
			want[id] = true
		}
		for _, d := range allDests {
			if want[d.ID] {
				dests = append(dests, d)
				delete(want, d.ID)
			}
		}
		for id := range want {
			diags = append(diags, fmt.Sprintf("unknown destination %q ignored", id))
		}
	} else {
		// Auto-select: any destination whose preferred tags intersect the
		// selected tags is in play.
		for _, d := range allDests {
			if tagOverlap(d.PreferredTags, selected) {
				dests = append(dests, d)
			}
		}
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i].ID < dests[j].ID })

	allowedTypes := map[catalog.ContentType]bool{}
	for _, ct := range cfg.ContentTypes {
		t, _ := catalog.ParseContentType(ct) // validated earlier
		allowedTypes[t] = true
	}

	var contents []catalog.ContentItem
	for _, c := range allContent {
		if len(allowedTypes) > 0 && !allowedTypes[c.Type] {
			continue
		}
		if c.Type == catalog.ContentText && !cfg.IncludingText {
			continue
		}
		if !tagOverlap(c.Tags, selected) {
			continue
		}
		contents = append(contents, c)
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].ID < contents[j].ID })

	if len(contents) == 0 {
		diags = append(diags, "no eligible content for the selected tags and types")
		return nil, diags, nil
	}

	var cands []*candidate
	for _, d := range dests {
		cand := &candidate{profile: d}
		for _, c := range contents {
			res := scoring.Score(c, d, cfg.SelectedTags)
			if !res.Eligible {
				continue
			}
			cand.eligible = append(cand.eligible, scoredContent{content: c, result: res})
		}
		if len(cand.eligible) == 0 {
			diags = append(diags, fmt.Sprintf("destination %s has no eligible content (excluded tags)", d.ID))
			continue
		}
		cands = append(cands, cand)
	}
	return cands, diags, nil
}

func (p *Planner) indexCatalog(ctx context.Context) (map[string]catalog.ContentItem, map[string]catalog.DestinationProfile, error) {
	allContent, err := p.content.ListContent(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list content: %w", err)
	}
	allDests, err := p.dests.ListDestinations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list destinations: %w", err)
	}
	cm := make(map[string]catalog.ContentItem, len(allContent))
	for _, c := range allContent {
		cm[c.ID] = c
	}
	dm := make(map[string]catalog.DestinationProfile, len(allDests))
	for _, d := range allDests {
		dm[d.ID] = d
	}
	return cm, dm, nil
}

func tagOverlap(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}
