package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(scansTotal.WithLabelValues("ALREADY_USED"))
	Scan("ALREADY_USED")
	Scan("ALREADY_USED")
	assert.Equal(t, before+2, testutil.ToFloat64(scansTotal.WithLabelValues("ALREADY_USED")))

	before = testutil.ToFloat64(ticketsIssued)
	TicketsIssued(3)
	assert.Equal(t, before+3, testutil.ToFloat64(ticketsIssued))

	before = testutil.ToFloat64(reconciliationMismatches.WithLabelValues("ticket_count", "true"))
	ReconciliationMismatch("ticket_count", true)
	assert.Equal(t, before+1, testutil.ToFloat64(reconciliationMismatches.WithLabelValues("ticket_count", "true")))

	GatewayCall("verify", errors.New("timeout"), 20*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(gatewayCalls), 1)
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `route="/orders/{orderId}"`)
	assert.Contains(t, rr.Body.String(), `status="418"`)
}
