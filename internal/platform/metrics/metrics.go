// Package metrics exposes loader counters through a private Prometheus
// registry. The serve command publishes it on /metrics with request and
// verification counts; batch runs push it to a Pushgateway when one is
// configured. All Recorder methods accept a nil
// receiver so callers can run without metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "cdw_loader"

type Recorder struct {
	reg          *prometheus.Registry
	batches      *prometheus.CounterVec
	rowsSource   prometheus.Counter
	rowsStaged   prometheus.Counter
	rowsExcluded *prometheus.CounterVec
	synthetic    prometheus.Counter
	stepSeconds  *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
	verification *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpSeconds  *prometheus.HistogramVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Uploads processed, by pipeline and outcome.",
		}, []string{"pipeline", "outcome"}),
		rowsSource: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rows_total",
			Help:      "Rows read from row sources.",
		}),
		rowsStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_rows_total",
			Help:      "Rows written to staging tables.",
		}),
		rowsExcluded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "excluded_rows_total",
			Help:      "Rows dropped while staging, by reason.",
		}, []string{"reason"}),
		synthetic: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthetic_encounters_total",
			Help:      "Staged rows carrying a hash-derived (negative) encounter key.",
		}),
		stepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful upload per pipeline.",
		}, []string{"pipeline"}),
		verification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Completion checks, by pipeline and status.",
		}, []string{"pipeline", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status API requests, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status API latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	r.reg.MustRegister(
		r.batches, r.rowsSource, r.rowsStaged, r.rowsExcluded, r.synthetic,
		r.stepSeconds, r.lastSuccess, r.verification,
		r.httpRequests, r.httpSeconds,
		collectors.NewGoCollector(),
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) BatchFinished(pipeline, outcome string) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(pipeline, outcome).Inc()
	if outcome == "ok" {
		r.lastSuccess.WithLabelValues(pipeline).SetToCurrentTime()
	}
}

func (r *Recorder) SourceRows(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsSource.Add(float64(n))
}

func (r *Recorder) StagedRows(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsStaged.Add(float64(n))
}

func (r *Recorder) ExcludedRows(reason string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsExcluded.WithLabelValues(reason).Add(float64(n))
}

func (r *Recorder) SyntheticEncounters(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.synthetic.Add(float64(n))
}

func (r *Recorder) StepDuration(step string, d time.Duration) {
	if r == nil {
		return
	}
	r.stepSeconds.WithLabelValues(step).Observe(d.Seconds())
}

func (r *Recorder) Verified(pipeline, status string) {
	if r == nil {
		return
	}
	r.verification.WithLabelValues(pipeline, status).Inc()
}

// HTTPRequest records one served request. route is the registered path
// template, not the raw URL.
func (r *Recorder) HTTPRequest(method, route string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpSeconds.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Push sends the current values to a Pushgateway under job, grouped by
// upload so concurrent pipelines do not overwrite each other.
func (r *Recorder) Push(ctx context.Context, url, job string, uploadID int64) error {
	if r == nil || url == "" {
		return nil
	}
	err := push.New(url, job).
		Gatherer(r.reg).
		Grouping("upload_id", fmt.Sprintf("%d", uploadID)).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
