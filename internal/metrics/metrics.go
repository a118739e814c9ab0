package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecircle_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carecircle_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecircle_job_runs_total",
			Help: "Scheduled job runs by job and outcome (ok, failed, skipped)",
		},
		[]string{"job", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carecircle_job_duration_seconds",
			Help:    "Scheduled job run duration",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"job"},
	)

	noticesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecircle_notices_total",
			Help: "Notices by kind and outcome (sent, no_tokens, duplicate, failed)",
		},
		[]string{"kind", "outcome"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecircle_deliveries_total",
			Help: "Deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carecircle_delivery_latency_seconds",
			Help:    "Time from delivery creation to send",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	pushTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecircle_push_tokens_total",
			Help: "Per-token push publish results",
		},
		[]string{"result"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carecircle_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	checkInsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carecircle_checkins_completed_total",
			Help: "Check-in slots completed",
		},
	)

	alertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carecircle_alerts_total",
			Help: "Alerts raised by type",
		},
		[]string{"type"},
	)

	statusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carecircle_status_stream_subscribers",
			Help: "Open check-in status streams",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carecircle_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carecircle_db_connections_active",
			Help: "Acquired database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordJobRun records one finished job run.
func RecordJobRun(job, outcome string, duration time.Duration) {
	jobRuns.WithLabelValues(job, outcome).Inc()
	if outcome != "skipped" {
		jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// RecordNotice records what happened to one notice.
func RecordNotice(kind, outcome string) {
	noticesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordDelivery records a delivery attempt on a channel.
func RecordDelivery(channel, status string) {
	deliveriesTotal.WithLabelValues(channel, status).Inc()
}

// RecordDeliveryLatency records creation-to-send time of a delivery.
func RecordDeliveryLatency(channel string, latency time.Duration) {
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordPushTokens records per-token publish results of one multicast.
func RecordPushTokens(succeeded, failed int) {
	pushTokens.WithLabelValues("success").Add(float64(succeeded))
	pushTokens.WithLabelValues("failure").Add(float64(failed))
}

// SetCircuitState exports a breaker state.
func SetCircuitState(name string, state int) {
	circuitState.WithLabelValues(name).Set(float64(state))
}

// RecordCheckInCompleted counts a completed check-in.
func RecordCheckInCompleted() {
	checkInsCompleted.Inc()
}

// RecordAlert counts a raised alert.
func RecordAlert(alertType string) {
	alertsRaised.WithLabelValues(alertType).Inc()
}

// AddStatusSubscribers moves the open stream gauge by delta.
func AddStatusSubscribers(delta int) {
	statusSubscribers.Add(float64(delta))
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets acquired database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter captures the status code. It forwards Flush so streaming
// handlers keep working behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request metrics labelled by chi route pattern, so ids in
// paths do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
