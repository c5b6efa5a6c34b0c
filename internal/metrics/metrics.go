// Package metrics exposes scanner counters and gauges for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/hybridscan/internal/models"
)

const namespace = "hybridscan"

// Recorder records decision, lifecycle and upstream metrics on its own
// registry.
type Recorder struct {
	registry *prometheus.Registry

	prefilterRejected *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	retrains          *prometheus.CounterVec
	upstreamErrors    *prometheus.CounterVec
	activeSignals     prometheus.Gauge
	corpusRecords     *prometheus.GaugeVec
	adaptiveAccuracy  prometheus.Gauge
	cycleDuration     *prometheus.HistogramVec
}

// New creates a Recorder with every collector registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		prefilterRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefilter_rejected_total",
			Help:      "Evaluations stopped by the technical prefilter",
		}, []string{"symbol"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Merged decisions by verdict and strategy",
		}, []string{"verdict", "strategy"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_resolutions_total",
			Help:      "Resolved signals by label and reason",
		}, []string{"result", "reason"}),
		retrains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adaptive_retrains_total",
			Help:      "Adaptive model retrain attempts by outcome",
		}, []string{"outcome"}),
		upstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed calls to external services",
		}, []string{"source"}),
		activeSignals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_signals",
			Help:      "Signals currently being monitored",
		}),
		corpusRecords: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_records",
			Help:      "Training records by label state",
		}, []string{"state"}),
		adaptiveAccuracy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptive_accuracy",
			Help:      "Held-out accuracy of the current adaptive model",
		}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_cycle_duration_seconds",
			Help:      "Duration of scan cycles",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"result"}),
	}
}

func (r *Recorder) PrefilterRejected(symbol string) {
	r.prefilterRejected.WithLabelValues(symbol).Inc()
}

func (r *Recorder) Decision(verdict models.Verdict, strategy string) {
	r.decisions.WithLabelValues(string(verdict), strategy).Inc()
}

func (r *Recorder) Resolution(result models.Label, reason string) {
	r.resolutions.WithLabelValues(string(result), reason).Inc()
}

func (r *Recorder) Retrain(outcome string) {
	r.retrains.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ActiveSignals(n int) {
	r.activeSignals.Set(float64(n))
}

func (r *Recorder) UpstreamError(source string) {
	r.upstreamErrors.WithLabelValues(source).Inc()
}

// Corpus publishes the labeled and pending record counts.
func (r *Recorder) Corpus(labeled, pending int) {
	r.corpusRecords.WithLabelValues("labeled").Set(float64(labeled))
	r.corpusRecords.WithLabelValues("pending").Set(float64(pending))
}

func (r *Recorder) AdaptiveAccuracy(acc float64) {
	r.adaptiveAccuracy.Set(acc)
}

// Cycle observes one scan cycle.
func (r *Recorder) Cycle(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cycleDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
