// Package metrics records build metrics in a Prometheus registry and writes
// them as a node_exporter textfile, since builds are too short-lived to be
// scraped.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/crucialwebstudio/amify/pkg/builder"
)

const namespace = "amify"

// Metrics implements builder.Observer.
type Metrics struct {
	registry *prometheus.Registry

	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	images        *prometheus.CounterVec
	cleanupErrors prometheus.Counter
	lastSuccess   prometheus.Gauge

	mu         sync.Mutex
	stage      builder.Stage
	stageStart time.Time
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Image builds by result (success, failed, dry_run).",
		}, []string{"result"}),
		buildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of image builds.",
			Buckets:   []float64{60, 300, 600, 900, 1200, 1800, 2700, 3600, 5400},
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each build stage.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"stage"}),
		images: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_created_total",
			Help:      "AMIs registered per region.",
		}, []string{"region"}),
		cleanupErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_errors_total",
			Help:      "Temporary resources that could not be removed.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful build.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEvent times stages from the transitions between events.
func (m *Metrics) ObserveEvent(e builder.ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Stage == m.stage {
		return
	}
	if m.stage != "" && !m.stageStart.IsZero() {
		m.stageDuration.WithLabelValues(string(m.stage)).Observe(e.Timestamp.Sub(m.stageStart).Seconds())
	}
	m.stage = e.Stage
	m.stageStart = e.Timestamp
}

// ObserveBuild records the outcome of a build.
func (m *Metrics) ObserveBuild(r *builder.Result) {
	m.mu.Lock()
	m.stage = ""
	m.stageStart = time.Time{}
	m.mu.Unlock()

	switch {
	case r.DryRun && r.Success:
		m.builds.WithLabelValues("dry_run").Inc()
		return
	case r.Success:
		m.builds.WithLabelValues("success").Inc()
		m.lastSuccess.Set(float64(r.StartedAt.Add(r.Duration).Unix()))
	default:
		m.builds.WithLabelValues("failed").Inc()
	}

	m.buildDuration.Observe(r.Duration.Seconds())
	for region := range r.Images {
		m.images.WithLabelValues(region).Inc()
	}
	if r.CleanupError != nil {
		if merr, ok := r.CleanupError.(*multierror.Error); ok {
			m.cleanupErrors.Add(float64(merr.Len()))
		} else {
			m.cleanupErrors.Inc()
		}
	}
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
