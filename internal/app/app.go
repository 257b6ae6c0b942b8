// Package app wires the configuration, store, catalog, planner, dispatch
// loop and HTTP API into one process with an ordered startup and shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"postpilot/internal/catalog"
	"postpilot/internal/config"
	"postpilot/internal/dispatch"
	"postpilot/internal/eventbus"
	"postpilot/internal/httpapi"
	"postpilot/internal/metrics"
	"postpilot/internal/observability/pprof"
	"postpilot/internal/planner"
	"postpilot/internal/publisher"
	"postpilot/internal/runtime/supervisor"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	st   store.Store
	met  *metrics.Metrics

	cat  *catalog.Static
	plan *planner.Planner
	disp *dispatch.Service
	api  *httpapi.Server
	prof *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	st, err := store.Open(mapStoreConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	log.Info("catalog loaded",
		logx.String("path", cfg.Catalog.Path),
		logx.Int("content", len(cat.Content)),
		logx.Int("destinations", len(cat.Destinations)))

	met := metrics.New()

	reg := publisher.NewRegistry()
	for platform, pc := range cfg.Publishers {
		wc, err := mapPublisherConfig(platform, pc)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		reg.Register(platform, publisher.NewWebhook(platform, wc, log))
	}
	log.Info("publishers registered", logx.Any("platforms", reg.Platforms()))

	plan := planner.New(cat, cat, st, log.With(logx.String("comp", "planner")), bus)

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	disp := dispatch.New(dcfg, st, reg, met, log, bus)

	api := httpapi.New(httpapi.Config{
		Enabled: cfg.API.Enabled,
		Addr:    cfg.API.Addr,
	}, plan, st, disp, met, log)

	prof := pprof.New(mapPprofConfig(cfg), log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
		met:     met,
		cat:     cat,
		plan:    plan,
		disp:    disp,
		api:     api,
		prof:    prof,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional config reload: validate before commit/publish, then
	// apply what can change at runtime (log level/sinks).
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		_, err := mapDispatchConfig(cfg)
		return err
	})
	updates := a.cfgm.Subscribe(1)
	a.sup.Go("config.watch", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		go func() { _ = a.cfgm.Watch(c) }()
		old := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(old, cfg)
				old = cfg
			}
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("events", func(c context.Context) error {
		defer unsub()
		return a.consumeEvents(c, events)
	})

	a.disp.Start(a.sup.Context())
	if err := a.api.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.prof.Enabled() {
		a.prof.Start(a.sup.Context())
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

// applyConfig handles the subset of config that is hot-reloadable. Store,
// catalog and publisher changes need a restart; they are only logged.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		default:
			a.log.Warn("config section needs restart to take effect",
				logx.String("section", section))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound every shutdown step so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Warn("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("api", 5*time.Second, func(c context.Context) { a.api.Stop(c) })
	step("pprof", 2*time.Second, func(c context.Context) { a.prof.Stop(c) })
	step("dispatch", 5*time.Second, func(c context.Context) { a.disp.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) { _ = a.sup.Stop(c) })
	step("store", 2*time.Second, func(context.Context) { _ = a.st.Close() })

	a.log.Info("stopped")
	return nil
}

// Done is closed when a fatal supervised error cancels the run context.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}
