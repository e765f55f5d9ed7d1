// Package metrics wires the gateway's HTTP and domain counters/histograms
// through prometheus/client_golang's promauto registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	timestampsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timestamps_issued_total",
			Help: "Total number of signed attestations issued",
		},
		[]string{"network", "scheme"},
	)

	timestampsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timestamps_failed_total",
			Help: "Total number of timestamp requests that failed to reach threshold",
		},
		[]string{"network", "reason"},
	)

	witnessFanoutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "witness_fanout_duration_seconds",
			Help:    "Duration of quorum fan-out to witnesses",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"network"},
	)

	witnessSignaturesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "witness_signatures_collected_total",
			Help: "Total number of valid witness signatures collected",
		},
		[]string{"network", "witness_id"},
	)

	batchesClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_closed_total",
			Help: "Total number of batches closed",
		},
		[]string{"network"},
	)

	batchMembersHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_members",
			Help:    "Number of members per closed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"network"},
	)

	federationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federation_requests_total",
			Help: "Total number of federation anchor requests",
		},
		[]string{"peer_network", "status"},
	)

	federationRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "federation_request_duration_seconds",
			Help:    "Federation anchor request duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"peer_network"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func normalizePath(path string) string {
	if len(path) > 100 {
		return "/v1/..."
	}
	return path
}

// RecordTimestampIssued records a successfully issued signed attestation.
func RecordTimestampIssued(network, scheme string) {
	timestampsIssuedTotal.WithLabelValues(network, scheme).Inc()
}

// RecordTimestampFailed records a timestamp request that failed to reach threshold.
func RecordTimestampFailed(network, reason string) {
	timestampsFailedTotal.WithLabelValues(network, reason).Inc()
}

// RecordWitnessFanout records the duration of a quorum fan-out round.
func RecordWitnessFanout(network string, duration time.Duration) {
	witnessFanoutDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// RecordWitnessSignature records one valid collected witness signature.
func RecordWitnessSignature(network, witnessID string) {
	witnessSignaturesCollected.WithLabelValues(network, witnessID).Inc()
}

// RecordBatchClosed records a batch closure and its member count.
func RecordBatchClosed(network string, members int) {
	batchesClosedTotal.WithLabelValues(network).Inc()
	batchMembersHistogram.WithLabelValues(network).Observe(float64(members))
}

// RecordFederationRequest records a federation anchor request outcome.
func RecordFederationRequest(peerNetwork, status string, duration time.Duration) {
	federationRequestsTotal.WithLabelValues(peerNetwork, status).Inc()
	federationRequestDuration.WithLabelValues(peerNetwork).Observe(duration.Seconds())
}

// RecordDBConnections records active database connections.
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
