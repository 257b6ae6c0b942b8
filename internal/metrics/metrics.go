// Package metrics holds the Prometheus instrumentation for the scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the publishing pipeline.
type Metrics struct {
	registry *prometheus.Registry

	PostsPublished  *prometheus.CounterVec
	PostsFailed     *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	PlanCommits     prometheus.Counter
	DispatchTicks   prometheus.Counter
	PostsRequeued   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PostsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postpilot_posts_published_total",
			Help: "Posts successfully delivered, by platform.",
		}, []string{"platform"}),
		PostsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postpilot_posts_failed_total",
			Help: "Publish attempts that ended in a failed status, by platform.",
		}, []string{"platform"}),
		PublishDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postpilot_publish_duration_seconds",
			Help:    "Wall time of a single publish attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		PlanCommits: f.NewCounter(prometheus.CounterOpts{
			Name: "postpilot_plan_commits_total",
			Help: "Distribution plans committed to the store.",
		}),
		DispatchTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "postpilot_dispatch_ticks_total",
			Help: "Scheduler loop ticks executed.",
		}),
		PostsRequeued: f.NewCounter(prometheus.CounterOpts{
			Name: "postpilot_posts_requeued_total",
			Help: "Failed posts moved back to scheduled for retry.",
		}),
	}
}

// ObservePublish records one publish attempt.
func (m *Metrics) ObservePublish(platform string, d time.Duration, err error) {
	m.PublishDuration.WithLabelValues(platform).Observe(d.Seconds())
	if err != nil {
		m.PostsFailed.WithLabelValues(platform).Inc()
		return
	}
	m.PostsPublished.WithLabelValues(platform).Inc()
}

// Handler serves the text exposition format for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
