package app

import (
	"context"

	"postpilot/internal/eventbus"
	"postpilot/internal/planner"
	logx "postpilot/pkg/logx"
)

// consumeEvents drains the lifecycle bus. Plan commits feed the commit
// counter; everything else leaves a debug trail so an operator can follow
// the pipeline without scraping /metrics.
func (a *App) consumeEvents(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(e)
		}
	}
}

func (a *App) handleEvent(e eventbus.Event) {
	switch e.Type {
	case "plan.committed":
		a.met.PlanCommits.Inc()
		if s, ok := e.Data.(planner.CommitSummary); ok {
			a.log.Debug("event", logx.String("type", e.Type),
				logx.Int("posts", s.TotalPosts),
				logx.Int("destinations", s.DestinationCount))
			return
		}
		a.log.Debug("event", logx.String("type", e.Type))
	default:
		// Keep this debug-level to avoid noise on frequent ticks.
		a.log.Debug("event", logx.String("type", e.Type),
			logx.Time("time", e.Time), logx.Any("data", e.Data))
	}
}
