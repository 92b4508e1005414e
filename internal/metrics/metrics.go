// Package metrics exposes migration progress and remote API behaviour as
// Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "migrator"

// Recorder satisfies both the shopify client and upload engine observers
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration prometheus.Histogram
	throttles       prometheus.Counter
	retries         *prometheus.CounterVec
	backoffSeconds  prometheus.Counter
	records         *prometheus.CounterVec
	remaining       prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Create-order calls made, by HTTP status (0 for connection failures).",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Latency of create-order calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		throttles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_throttles_total",
			Help:      "Calls answered with 429 Too Many Requests.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Retries scheduled by the client, by reason.",
		}, []string{"reason"}),
		backoffSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_backoff_seconds_total",
			Help:      "Time spent sleeping before retries.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records processed by outcome.",
		}, []string{"outcome"}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_remaining",
			Help:      "Records of the current run not yet processed.",
		}),
	}

	r.registry.MustRegister(
		r.requests,
		r.requestDuration,
		r.throttles,
		r.retries,
		r.backoffSeconds,
		r.records,
		r.remaining,
	)
	return r
}

func (r *Recorder) ObserveRequest(statusCode int, elapsed time.Duration) {
	r.requests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	r.requestDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveThrottle(delay time.Duration) {
	r.throttles.Inc()
}

func (r *Recorder) ObserveRetry(reason string, delay time.Duration) {
	r.retries.WithLabelValues(reason).Inc()
	r.backoffSeconds.Add(delay.Seconds())
}

// RecordOutcome counts one processed record ("uploaded", "failed", "skipped")
func (r *Recorder) RecordOutcome(outcome string) {
	r.records.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetRemaining(n int) {
	r.remaining.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gather returns the current metric families
func (r *Recorder) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
