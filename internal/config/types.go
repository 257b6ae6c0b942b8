package config

import (
	"fmt"
	"strings"
)

// Config is the full on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage selects the persistence driver. If omitted, an sqlite store
	// at ./postpilot.db is used.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Catalog points at the YAML file holding content items and
	// destination profiles.
	Catalog CatalogConfig `json:"catalog"`

	// Dispatcher controls the execution loop.
	Dispatcher DispatcherConfig `json:"dispatcher"`

	// Publishers maps platform name -> webhook endpoint settings. Every
	// platform referenced by a destination profile needs an entry here or
	// its posts fail permanently at publish time.
	Publishers map[string]PublisherConfig `json:"publishers"`

	API APIConfig `json:"api"`

	// Pprof controls the optional profiling server.
	Pprof *PprofConfig `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postpilot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type CatalogConfig struct {
	Path string `json:"path"`
}

// DispatcherConfig controls the scheduler execution loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "30s"
//   - workers: 4
//   - publish_timeout: "1m"
//   - retry_max: 3
//   - retry_base: "30s"
//   - retry_max_delay: "30m"
//   - retry_jitter: 0.2
type DispatcherConfig struct {
	Enabled        bool   `json:"enabled"`
	Interval       string `json:"interval,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	PublishTimeout string `json:"publish_timeout,omitempty"`

	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RetryJitter   float64 `json:"retry_jitter,omitempty"`
}

type PublisherConfig struct {
	URL           string  `json:"url"`
	AuthToken     string  `json:"auth_token,omitempty"`
	RatePerMinute float64 `json:"rate_per_minute,omitempty"`
	Timeout       string  `json:"timeout,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:6060"). A
// non-loopback bind requires a token or an explicit allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Validate runs the structural checks that don't need collaborators. It is
// also installed as the watcher's validator so a broken edit never reaches
// subscribers.
func (c *Config) Validate() error {
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	for name, p := range c.Publishers {
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("publishers.%s.url is required", name)
		}
		if _, err := ParseDurationField("publishers."+name+".timeout", p.Timeout); err != nil {
			return err
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"dispatcher.interval", c.Dispatcher.Interval},
		{"dispatcher.publish_timeout", c.Dispatcher.PublishTimeout},
		{"dispatcher.retry_base", c.Dispatcher.RetryBase},
		{"dispatcher.retry_max_delay", c.Dispatcher.RetryMaxDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
