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
	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_orders_total",
			Help: "Order lifecycle outcomes",
		},
		[]string{"outcome"},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_tickets_issued_total",
			Help: "Tickets minted by the issuance engine",
		},
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_scans_total",
			Help: "Ticket scans by result status",
		},
		[]string{"status"},
	)

	reservationsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_reservations_released_total",
			Help: "Reservations released back to inventory",
		},
		[]string{"reason"},
	)

	gatewayCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_gateway_call_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	reconciliationMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_reconciliation_mismatches_total",
			Help: "Mismatches found by reconciliation runs",
		},
		[]string{"type", "fixed"},
	)

	reconciliationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketplace_reconciliation_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func OrderOutcome(outcome string) {
	ordersTotal.WithLabelValues(outcome).Inc()
}

func TicketsIssued(n int) {
	ticketsIssued.Add(float64(n))
}

func Scan(status string) {
	scansTotal.WithLabelValues(status).Inc()
}

func ReservationReleased(reason string) {
	reservationsReleased.WithLabelValues(reason).Inc()
}

func GatewayCall(operation string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	gatewayCalls.WithLabelValues(operation, status).Observe(d.Seconds())
}

func ReconciliationMismatch(kind string, fixed bool) {
	reconciliationMismatches.WithLabelValues(kind, strconv.FormatBool(fixed)).Inc()
}

func ReconciliationRun(d time.Duration) {
	reconciliationDuration.Observe(d.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the connection, e.g. to reset
// write deadlines on streams.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Flush keeps SSE streaming working through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request latency labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
