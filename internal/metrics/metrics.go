// Package metrics provides Prometheus metrics for the form frontend and the
// development API. Labels never carry session ids or webhook URLs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration observes handler latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splat_notifyer_http_request_duration_seconds",
		Help:    "HTTP request latency, by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// FormActionsTotal counts form events by action and outcome.
	FormActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splat_notifyer_form_actions_total",
		Help: "Total number of form events, by action and outcome (ok/error).",
	}, []string{"action", "outcome"})

	// WebhookChecksTotal counts webhook checks by result.
	WebhookChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splat_notifyer_webhook_checks_total",
		Help: "Total number of webhook checks, by result (valid/rejected/error).",
	}, []string{"result"})

	// SubmissionsTotal counts submit attempts by result.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splat_notifyer_submissions_total",
		Help: "Total number of submissions, by result (invalid/accepted/rejected/error).",
	}, []string{"result"})

	// StoredConfigsTotal counts configs accepted by the development API.
	StoredConfigsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splat_notifyer_devapi_stored_configs_total",
		Help: "Total number of configs stored by the development API.",
	})

	// StoredConfigs is the number of distinct webhooks with a stored config.
	StoredConfigs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splat_notifyer_devapi_stored_configs",
		Help: "Number of webhooks with a stored config in the development API.",
	})
)

func ObserveAction(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	FormActionsTotal.WithLabelValues(action, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request latency labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
