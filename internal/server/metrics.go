package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "upload_drop"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec

	uploadsTotal   *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	uploadSeconds  prometheus.Histogram
	authFailures   prometheus.Counter
	mirrorOpsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and defaults want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		uploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_total",
			Help:      "Upload attempts past authentication, by outcome",
		}, []string{"result"}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes stored by successful uploads",
		}),
		uploadSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from request start to the file being in place",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_failures_total",
			Help:      "Upload requests rejected for a wrong or missing secret",
		}),
		mirrorOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mirror_operations_total",
			Help:      "Object storage mirror attempts, by outcome",
		}, []string{"result"}),
	}
}

// Middleware records count and latency per request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeLabel(r.URL.Path)
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.requestSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps label cardinality bounded: file paths are collapsed.
func routeLabel(p string) string {
	switch {
	case p == "/upload":
		return "/upload"
	case strings.HasPrefix(p, "/files/"):
		return "/files"
	case p == "/":
		return "/"
	default:
		return "other"
	}
}

func (m *Metrics) UploadSaved(bytes int64, d time.Duration) {
	m.uploadsTotal.WithLabelValues("saved").Inc()
	m.uploadBytes.Add(float64(bytes))
	m.uploadSeconds.Observe(d.Seconds())
}

func (m *Metrics) UploadFailed(status int) {
	result := "client_error"
	if status >= http.StatusInternalServerError {
		result = "server_error"
	}
	m.uploadsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AuthFailed() {
	m.authFailures.Inc()
}

func (m *Metrics) MirrorResult(err error) {
	switch {
	case err == nil:
		m.mirrorOpsTotal.WithLabelValues("ok").Inc()
	case isCircuitRejection(err):
		m.mirrorOpsTotal.WithLabelValues("skipped").Inc()
	default:
		m.mirrorOpsTotal.WithLabelValues("error").Inc()
	}
}
