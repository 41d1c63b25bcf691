// Package metrics exposes Prometheus collectors for the bridge service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	endpointSelectionsTotal   *prometheus.CounterVec
	thresholdEscalationsTotal prometheus.Counter
	listRefreshesTotal        *prometheus.CounterVec
	browserLaunchesTotal      prometheus.Counter
	contextCheckoutsTotal     *prometheus.CounterVec
	syncRunsTotal             *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		endpointSelectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookbridge_endpoint_selections_total",
				Help: "Total proxy endpoint selections, labeled by credential group.",
			},
			[]string{"group"},
		)

		thresholdEscalationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bookbridge_threshold_escalations_total",
				Help: "Times the per-endpoint usage threshold was raised.",
			},
		)

		listRefreshesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookbridge_endpoint_list_refreshes_total",
				Help: "Endpoint list refresh attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		browserLaunchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bookbridge_browser_launches_total",
				Help: "Browser processes launched by the session pool.",
			},
		)

		contextCheckoutsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookbridge_context_checkouts_total",
				Help: "Session context checkouts, labeled by reused or created.",
			},
			[]string{"outcome"},
		)

		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookbridge_sync_runs_total",
				Help: "Completed sync runs, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookbridge_http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveEndpointSelection records one endpoint selection for a group.
func ObserveEndpointSelection(group string) {
	if endpointSelectionsTotal != nil {
		endpointSelectionsTotal.WithLabelValues(group).Inc()
	}
}

// ObserveThresholdEscalation records one usage-threshold escalation.
func ObserveThresholdEscalation() {
	if thresholdEscalationsTotal != nil {
		thresholdEscalationsTotal.Inc()
	}
}

// ObserveListRefresh records an endpoint-list refresh attempt.
func ObserveListRefresh(outcome string) {
	if listRefreshesTotal != nil {
		listRefreshesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveBrowserLaunch records one browser process launch.
func ObserveBrowserLaunch() {
	if browserLaunchesTotal != nil {
		browserLaunchesTotal.Inc()
	}
}

// ObserveContextCheckout records whether a checkout reused or created a context.
func ObserveContextCheckout(outcome string) {
	if contextCheckoutsTotal != nil {
		contextCheckoutsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveSyncRun records a finished sync run.
func ObserveSyncRun(status string) {
	if syncRunsTotal != nil {
		syncRunsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, elapsed time.Duration) {
	if httpRequestDuration != nil {
		httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
