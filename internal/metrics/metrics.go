// Package metrics exposes sync run metrics and pushes them to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/releasemirror/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	// Namespace prefixes every metric name
	Namespace = "release_mirror"
	// DefaultJobName is the Pushgateway job grouping key
	DefaultJobName = "release_mirror_sync"
)

// SyncMetrics holds the instruments for one sync run. A nil *SyncMetrics is a valid no-op.
type SyncMetrics struct {
	registry       *prometheus.Registry
	releases       *prometheus.GaugeVec
	builds         *prometheus.CounterVec
	buildDuration  prometheus.Histogram
	latestSuccess  prometheus.Gauge
	runSuccess     prometheus.Gauge
	runDuration    prometheus.Gauge
	lastRunSeconds prometheus.Gauge
}

// NewSyncMetrics registers every instrument on a private registry.
func NewSyncMetrics() *SyncMetrics {
	m := &SyncMetrics{
		registry: prometheus.NewRegistry(),
		releases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "releases",
			Help:      "Number of releases per outcome in the last run",
		}, []string{"status"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "builds_total",
			Help:      "Image builds attempted, by result",
		}, []string{"result"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of image build and push",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}),
		latestSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "latest_success",
			Help:      "1 if the latest image was refreshed in the last run",
		}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_success",
			Help:      "1 if the last run recorded no failures",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run",
		}),
		lastRunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
	m.registry.MustRegister(
		m.releases,
		m.builds,
		m.buildDuration,
		m.latestSuccess,
		m.runSuccess,
		m.runDuration,
		m.lastRunSeconds,
	)
	return m
}

// Registry returns the registry holding the instruments
func (m *SyncMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveBuild records one build attempt
func (m *SyncMetrics) ObserveBuild(err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.builds.WithLabelValues(result).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

// ObserveReport copies the final report into the run gauges
func (m *SyncMetrics) ObserveReport(report *domain.SyncReport) {
	if m == nil || report == nil {
		return
	}
	counts := report.Counts()
	for _, status := range []domain.OutcomeStatus{
		domain.OutcomeSkipped,
		domain.OutcomePublished,
		domain.OutcomePlanned,
		domain.OutcomeFailed,
	} {
		m.releases.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	m.latestSuccess.Set(boolToFloat(report.Latest != nil && report.Latest.Status != domain.OutcomeFailed))
	m.runSuccess.Set(boolToFloat(!report.HasFailures()))
	m.runDuration.Set(report.Duration().Seconds())
	m.lastRunSeconds.Set(float64(time.Now().Unix()))
}

// Push sends every instrument to the Pushgateway at url, replacing the job's previous metrics.
func (m *SyncMetrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if job == "" {
		job = DefaultJobName
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
