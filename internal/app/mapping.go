package app

import (
	"strings"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/dispatch"
	"postpilot/internal/observability/pprof"
	"postpilot/internal/publisher"
	"postpilot/internal/store"
)

func mapStoreConfig(cfg *config.Config) store.Config {
	if cfg.Storage == nil {
		return store.Config{Driver: "sqlite", Path: "./postpilot.db"}
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return store.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatcher
	interval, err := config.ParseDurationOrDefault("dispatcher.interval", d.Interval, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	pubTimeout, err := config.ParseDurationOrDefault("dispatcher.publish_timeout", d.PublishTimeout, time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("dispatcher.retry_base", d.RetryBase, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("dispatcher.retry_max_delay", d.RetryMaxDelay, 30*time.Minute)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:        d.Enabled,
		Interval:       interval,
		Workers:        d.Workers,
		PublishTimeout: pubTimeout,
		RetryMax:       d.RetryMax,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
		RetryJitter:    d.RetryJitter,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	if cfg.Pprof == nil {
		return pprof.Config{}
	}
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Prefix:        cfg.Pprof.Prefix,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}

func mapPublisherConfig(platform string, pc config.PublisherConfig) (publisher.WebhookConfig, error) {
	timeout, err := config.ParseDurationField("publishers."+platform+".timeout", pc.Timeout)
	if err != nil {
		return publisher.WebhookConfig{}, err
	}
	return publisher.WebhookConfig{
		URL:           pc.URL,
		AuthToken:     pc.AuthToken,
		RatePerMinute: pc.RatePerMinute,
		Timeout:       timeout,
		RetryMax:      pc.RetryMax,
	}, nil
}
