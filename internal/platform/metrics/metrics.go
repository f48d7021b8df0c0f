// Package metrics defines the Prometheus collectors exported by the gateway.
//
// Remote client metrics:
//   - fhir_remote_requests_total{operation, status} (Counter)
//   - fhir_remote_request_duration_seconds{operation} (Histogram)
//
// Pagination metrics:
//   - fhir_pager_requests_total{strategy} (Counter): offset or aggregate
//   - fhir_pager_pages_walked (Histogram): remote pages fetched per aggregation
//
// Reference resolution metrics:
//   - fhir_reference_resolutions_total{source} (Counter): cache, hint, remote or failed
//
// Duplicate checks:
//   - fhir_duplicate_checks_total{outcome} (Counter): match, no_match, conflict
//
// HTTP surface:
//   - fhir_panics_recovered_total{route} (Counter)
package metrics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fhir_remote_requests_total",
		Help: "Requests sent to the remote FHIR server by operation and HTTP status",
	}, []string{"operation", "status"})

	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fhir_remote_request_duration_seconds",
		Help:    "Remote FHIR request duration in seconds by operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	PagerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fhir_pager_requests_total",
		Help: "Paged reads by pagination strategy",
	}, []string{"strategy"})

	PagerPagesWalked = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fhir_pager_pages_walked",
		Help:    "Remote pages fetched by one result aggregation",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
	})

	ReferenceResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fhir_reference_resolutions_total",
		Help: "Reference display resolutions by source",
	}, []string{"source"})

	DuplicateChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fhir_duplicate_checks_total",
		Help: "Duplicate checks by outcome",
	}, []string{"outcome"})

	PanicsRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fhir_panics_recovered_total",
		Help: "Handler panics recovered by route",
	}, []string{"route"})
)

// Handler exposes the default registry for scraping.
func Handler() echo.HandlerFunc {
	h := promhttp.Handler()
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// StatusLabel returns the status label for a remote request: the HTTP status
// code, or "error" when no response was received.
func StatusLabel(resp *http.Response) string {
	if resp == nil {
		return "error"
	}
	return strconv.Itoa(resp.StatusCode)
}
