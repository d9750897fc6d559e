// Package metrics exposes Prometheus collectors for account events and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Auth event names.
const (
	EventRegister       = "register"
	EventLogin          = "login"
	EventLogout         = "logout"
	EventRefresh        = "refresh"
	EventChangePassword = "change_password"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AuthEventsTotal     *prometheus.CounterVec
	RefreshRejected     prometheus.Counter
	UploadsTotal        *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidtube_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vidtube_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidtube_auth_events_total",
				Help: "Account operations by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		RefreshRejected: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vidtube_refresh_rejected_total",
				Help: "Refresh tokens rejected because they were already rotated or revoked",
			},
		),
		UploadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidtube_media_uploads_total",
				Help: "Media uploads by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordAuth counts an account operation.
func (m *Metrics) RecordAuth(event string, err error) {
	if m == nil {
		return
	}
	m.AuthEventsTotal.WithLabelValues(event, outcome(err)).Inc()
}

// RecordRefreshRejected counts a stale or revoked refresh token.
func (m *Metrics) RecordRefreshRejected() {
	if m == nil {
		return
	}
	m.RefreshRejected.Inc()
}

// RecordUpload counts a media upload; kind is "avatar" or "cover".
func (m *Metrics) RecordUpload(kind string, err error) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Middleware records request count and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
