package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each value
// owns its registry so several instances can coexist in one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Jobs                    *prometheus.CounterVec
	ActiveJobs              prometheus.Gauge
	JobDuration             prometheus.Histogram
	Supersessions           prometheus.Counter
	ArtifactReleaseFailures prometheus.Counter
	HTTPRequests            *prometheus.CounterVec

	stages *jobStageWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_jobs_total",
			Help:      "Finished speech jobs by outcome.",
		}, []string{"outcome"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_active_jobs",
			Help:      "Speech jobs currently holding the running slot.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_job_duration_ms",
			Help:      "Wall time from submission to terminal outcome in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
		}),
		Supersessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_supersessions_total",
			Help:      "Running jobs cancelled because a newer request arrived.",
		}),
		ArtifactReleaseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_release_failures_total",
			Help:      "Temporary artifact deletions that failed.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
		stages: newJobStageWindow(256),
	}
}

func (m *Metrics) ObserveJob(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageJobTotal, durationMS(d))
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
}

func (m *Metrics) ObserveSupersession() {
	if m == nil {
		return
	}
	m.Supersessions.Inc()
	m.stages.ObserveIndicator("superseded")
}

func (m *Metrics) ObserveReleaseFailure() {
	if m == nil {
		return
	}
	m.ArtifactReleaseFailures.Inc()
}

func (m *Metrics) ObserveHTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveJobStage records one stage latency in the rolling window.
func (m *Metrics) ObserveJobStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, durationMS(d))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotJobStages() JobStageSnapshot {
	if m == nil {
		return newJobStageWindow(0).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetJobStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
