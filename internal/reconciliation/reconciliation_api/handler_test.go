package reconciliation_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/reconciliation"
	"ms-marketplace/internal/reconciliation/db"
	"ms-marketplace/internal/testutil"
	ticketdb "ms-marketplace/internal/tickets/db"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/tickets/template"
)

func TestReconciliationEndpoints(t *testing.T) {
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()
	rec := audit.NewRecorder(bdb, log)
	ticketSvc := tickets.NewTicketService(&ticketdb.DB{Bun: bdb}, qr.NewQRGenerator("k"), template.NewTicketPDFGenerator(""),
		rec, kafka.NopPublisher{}, "", log, 20)
	svc := reconciliation.NewReconciliationService(&db.DB{Bun: bdb}, ticketSvc, rec, log, 2)

	organizer := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	event, tiers := testutil.SeedEvent(t, bdb, organizer.ID, testutil.TierSpec{Name: "GA", Price: 5000, Quantity: 10, MaxPerUser: 4})
	// Completed but never issued: two tickets missing.
	testutil.SeedCompletedOrder(t, bdb, buyer.ID, tiers[0], 2)

	r := chi.NewRouter()
	r.Route("/reconciliation", NewHandler(svc, log).RegisterRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reconciliation/mismatches", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data struct {
			Mismatches []models.Mismatch `json:"mismatches"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Data.Mismatches, 1)
	assert.Equal(t, event.ID, list.Data.Mismatches[0].EntityID)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reconciliation/fix", strings.NewReader(`{"type":"BOGUS","entityId":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reconciliation/run", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var run struct {
		Data models.ReconciliationReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, 1, run.Data.EventsFixed)
	assert.Equal(t, 2, run.Data.TicketsIssued)
	assert.NotEmpty(t, run.Data.Duration)

	n, err := bdb.NewSelect().Model((*models.Ticket)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	body, _ := json.Marshal(map[string]interface{}{"autoFix": false})
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reconciliation/run", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reconciliation/summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var sum struct {
		Data models.ReconciliationSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sum))
	assert.True(t, sum.Data.Health.TicketsHealthy)
}
