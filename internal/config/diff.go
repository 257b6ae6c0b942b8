package config

import (
	"reflect"
	"sort"
	"strings"

	logx "postpilot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging. Secrets (publisher auth tokens) are
// never included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled))
	}

	oldStorage, newStorage := StorageConfig{}, StorageConfig{}
	if oldCfg.Storage != nil {
		oldStorage = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newStorage = *newCfg.Storage
	}
	if oldStorage != newStorage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newStorage.Driver),
			logx.String("storage.path", newStorage.Path))
	}

	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs, logx.String("catalog.path", newCfg.Catalog.Path))
	}

	if oldCfg.Dispatcher != newCfg.Dispatcher {
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.Bool("dispatcher.enabled", newCfg.Dispatcher.Enabled),
			logx.String("dispatcher.interval", strings.TrimSpace(newCfg.Dispatcher.Interval)),
			logx.Int("dispatcher.workers", newCfg.Dispatcher.Workers),
			logx.Int("dispatcher.retry_max", newCfg.Dispatcher.RetryMax))
	}

	if names := changedPublishers(oldCfg.Publishers, newCfg.Publishers); len(names) > 0 {
		changed = append(changed, "publishers")
		attrs = append(attrs,
			logx.Int("publishers.count", len(newCfg.Publishers)),
			logx.String("publishers.changed", strings.Join(names, ",")))
	}

	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", newCfg.API.Addr))
	}

	// Pprof (never log token)
	oldPprof, newPprof := PprofConfig{}, PprofConfig{}
	if oldCfg.Pprof != nil {
		oldPprof = *oldCfg.Pprof
	}
	if newCfg.Pprof != nil {
		newPprof = *newCfg.Pprof
	}
	if oldPprof != newPprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newPprof.Enabled),
			logx.String("pprof.addr", newPprof.Addr),
			logx.Bool("pprof.token_set", strings.TrimSpace(newPprof.Token) != ""))
	}

	return changed, attrs
}

func changedPublishers(oldP, newP map[string]PublisherConfig) []string {
	names := map[string]bool{}
	for name, oc := range oldP {
		nc, ok := newP[name]
		if !ok || !reflect.DeepEqual(oc, nc) {
			names[name] = true
		}
	}
	for name := range newP {
		if _, ok := oldP[name]; !ok {
			names[name] = true
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
