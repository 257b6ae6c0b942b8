// Package dispatch runs the scheduler execution loop: it finds due posts,
// claims them, hands them to the platform publishers and records the
// outcome, requeueing transient failures with exponential backoff.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"postpilot/internal/eventbus"
	"postpilot/internal/metrics"
	"postpilot/internal/post"
	"postpilot/internal/publisher"
	"postpilot/internal/store"
	rtsup "postpilot/internal/runtime/supervisor"
	logx "postpilot/pkg/logx"
)

type Config struct {
	Enabled bool `json:"enabled"`
	// Interval between loop ticks. Default 30s.
	Interval time.Duration `json:"interval"`
	// Workers bounds concurrent destination pipelines per tick. Default 4.
	Workers int `json:"workers"`
	// PublishTimeout bounds a single publish call. Default 1m.
	PublishTimeout time.Duration `json:"publish_timeout"`

	RetryMax      int           `json:"retry_max"`
	RetryBase     time.Duration `json:"retry_base"`
	RetryMaxDelay time.Duration `json:"retry_max_delay"`
	RetryJitter   float64       `json:"retry_jitter"` // 0.2 = 20%
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = time.Minute
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Minute
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
}

// Counters is a point-in-time snapshot of loop activity since start.
type Counters struct {
	Ticks     uint64 `json:"ticks"`
	Claimed   uint64 `json:"claimed"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Requeued  uint64 `json:"requeued"`
}

// Status is what the control API reports about the loop.
type Status struct {
	Running  bool     `json:"running"`
	Interval string   `json:"interval"`
	Counters Counters `json:"counters"`
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	st  store.Store
	reg *publisher.Registry
	met *metrics.Metrics

	sup *rtsup.Supervisor
	c   *cron.Cron

	// now is swappable so tests can drive the loop with a fake clock.
	now func() time.Time

	ticks     atomic.Uint64
	claimed   atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
	requeued  atomic.Uint64
}

func New(cfg Config, st store.Store, reg *publisher.Registry, met *metrics.Metrics, log logx.Logger, bus eventbus.Bus) *Service {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "dispatch")),
		bus: bus,
		st:  st,
		reg: reg,
		met: met,
		now: time.Now,
	}
}

// Start is idempotent. The loop ticks every cfg.Interval until Stop.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	loopCtx := s.sup.Context()

	s.c = cron.New()
	s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		s.safeTick(loopCtx)
	}))
	s.c.Start()

	// Catch up immediately instead of waiting out the first interval.
	s.sup.Go("tick.initial", func(c context.Context) error {
		s.safeTick(c)
		return nil
	})

	s.log.Info("dispatch loop started", logx.Duration("interval", s.cfg.Interval))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, c := s.sup, s.c
	s.sup, s.c = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if c != nil {
		<-c.Stop().Done()
	}
	_ = sup.Stop(ctx)
	s.log.Info("dispatch loop stopped")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

func (s *Service) Status() Status {
	return Status{
		Running:  s.Running(),
		Interval: s.cfg.Interval.String(),
		Counters: Counters{
			Ticks:     s.ticks.Load(),
			Claimed:   s.claimed.Load(),
			Published: s.published.Load(),
			Failed:    s.failed.Load(),
			Requeued:  s.requeued.Load(),
		},
	}
}

func (s *Service) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panic", logx.Any("panic", r))
		}
	}()
	if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("tick failed", logx.Err(err))
	}
}

// Tick runs one pass of the loop: requeue transient failures whose backoff
// has elapsed, then claim and publish everything due. Exported so tests and
// the manual trigger path can drive the loop without waiting on the clock.
func (s *Service) Tick(ctx context.Context) error {
	now := s.now().UTC()
	s.ticks.Add(1)
	if s.met != nil {
		s.met.DispatchTicks.Inc()
	}

	if err := s.requeueRetryable(ctx, now); err != nil {
		return fmt.Errorf("requeue pass: %w", err)
	}

	due, err := s.st.FindDue(ctx, now)
	if err != nil {
		return fmt.Errorf("find due: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.log.Debug("tick", logx.Int("due", len(due)))

	// One pipeline per destination keeps that destination's posts in
	// scheduled order while destinations proceed concurrently.
	groups := groupByDestination(due)
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	for _, g := range groups {
		g := g
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("publish pipeline panic",
						logx.String("destination", g[0].DestinationID), logx.Any("panic", r))
				}
			}()
			for _, p := range g {
				if ctx.Err() != nil {
					return
				}
				s.publishOne(ctx, p)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Service) requeueRetryable(ctx context.Context, now time.Time) error {
	retryable, err := s.st.FindRetryable(ctx, now)
	if err != nil {
		return err
	}
	for _, p := range retryable {
		ok, err := s.st.Requeue(ctx, p.ID, now)
		if err != nil {
			if errors.Is(err, post.ErrNotFound) {
				continue
			}
			return err
		}
		if !ok {
			continue // lost to a concurrent cancel or retry
		}
		s.requeued.Add(1)
		if s.met != nil {
			s.met.PostsRequeued.Inc()
		}
		s.log.Info("post requeued for retry",
			logx.String("post_id", p.ID), logx.Int("retry_count", p.RetryCount))
		s.publish(eventbus.Event{Type: "post.requeued", Data: p.ID})
	}
	return nil
}

// publishOne claims p and runs a single publish attempt, recording the
// outcome. Losing the claim is not an error: another instance got there
// first or the post was cancelled mid-tick.
func (s *Service) publishOne(ctx context.Context, p post.ScheduledPost) {
	ok, err := s.st.Claim(ctx, p.ID)
	if err != nil {
		if !errors.Is(err, post.ErrNotFound) {
			s.log.Error("claim failed", logx.String("post_id", p.ID), logx.Err(err))
		}
		return
	}
	if !ok {
		return
	}
	s.claimed.Add(1)
	s.publish(eventbus.Event{Type: "post.claimed", Data: p.ID})

	pub, err := s.reg.Lookup(p.Platform)
	if err != nil {
		s.recordFailure(ctx, p, err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	start := time.Now()
	res, err := pub.Publish(pctx, publisher.Request{
		PostID:        p.ID,
		Platform:      p.Platform,
		DestinationID: p.DestinationID,
		Caption:       p.Caption,
		Media:         p.Media,
	})
	cancel()
	if s.met != nil {
		s.met.ObservePublish(p.Platform, time.Since(start), err)
	}
	if err != nil {
		s.recordFailure(ctx, p, err)
		return
	}

	if err := s.st.MarkPosted(ctx, p.ID, res.URL, s.now().UTC()); err != nil {
		s.log.Error("mark posted failed", logx.String("post_id", p.ID), logx.Err(err))
		return
	}
	s.published.Add(1)
	s.log.Info("post published",
		logx.String("post_id", p.ID),
		logx.String("platform", p.Platform),
		logx.String("url", res.URL))
	s.publish(eventbus.Event{Type: "post.published", Data: p.ID})
}

func (s *Service) recordFailure(ctx context.Context, p post.ScheduledPost, pubErr error) {
	now := s.now().UTC()
	attempt := p.RetryCount + 1

	var next *time.Time
	switch {
	case publisher.IsPermanent(pubErr):
		s.log.Warn("post failed permanently",
			logx.String("post_id", p.ID), logx.String("platform", p.Platform), logx.Err(pubErr))
	case attempt >= s.cfg.RetryMax:
		s.log.Warn("post failed, retries exhausted",
			logx.String("post_id", p.ID), logx.Int("attempts", attempt), logx.Err(pubErr))
	default:
		at := now.Add(s.backoffDelay(attempt, pubErr))
		next = &at
		s.log.Warn("post failed, will retry",
			logx.String("post_id", p.ID),
			logx.Int("attempt", attempt),
			logx.Time("next_retry_at", at),
			logx.Err(pubErr))
	}

	if err := s.st.MarkFailed(ctx, p.ID, pubErr.Error(), next, now); err != nil {
		s.log.Error("mark failed errored", logx.String("post_id", p.ID), logx.Err(err))
		return
	}
	s.failed.Add(1)
	s.publish(eventbus.Event{Type: "post.failed", Data: p.ID})
}

func (s *Service) publish(e eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func groupByDestination(posts []post.ScheduledPost) [][]post.ScheduledPost {
	byDest := map[string][]post.ScheduledPost{}
	for _, p := range posts {
		byDest[p.DestinationID] = append(byDest[p.DestinationID], p)
	}
	keys := make([]string, 0, len(byDest))
	for k := range byDest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]post.ScheduledPost, 0, len(keys))
	for _, k := range keys {
		out = append(out, byDest[k])
	}
	return out
}
