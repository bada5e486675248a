package disputes_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/disputes"
	"ms-marketplace/internal/disputes/db"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
)

type okRefunder struct{}

func (okRefunder) RefundOrder(_ context.Context, orderID string, amount int64, _ string) (*models.Refund, error) {
	return &models.Refund{ID: "rf-1", OrderID: orderID, Amount: amount}, nil
}

func call(h *Handler, u *models.User, method, path string, body interface{}) (*httptest.ResponseRecorder, json.RawMessage) {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: u.ID, Role: u.Role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/disputes", h.RegisterRoutes)

	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	return rr, env.Data
}

func TestDisputeEndpoints(t *testing.T) {
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()
	svc := disputes.NewDisputeService(&db.DB{Bun: bdb}, okRefunder{}, audit.NewRecorder(bdb, log), log)
	h := NewHandler(svc, log)

	org := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	admin := testutil.SeedUser(t, bdb, models.RoleAdmin)
	ev, tiers := testutil.SeedEvent(t, bdb, org.ID, testutil.TierSpec{Name: "GA", Price: 2500, Quantity: 10})
	o, _ := testutil.SeedCompletedOrder(t, bdb, buyer.ID, tiers[0], 1)

	rr, _ := call(h, buyer, http.MethodPost, "/disputes", map[string]interface{}{"eventId": ev.ID})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "reason is required")

	rr, data := call(h, buyer, http.MethodPost, "/disputes", map[string]interface{}{
		"eventId": ev.ID, "orderId": o.ID, "reason": "Show cancelled on the night",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var d models.Dispute
	require.NoError(t, json.Unmarshal(data, &d))

	rr, _ = call(h, buyer, http.MethodGet, "/disputes/"+d.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = call(h, buyer, http.MethodGet, "/disputes/stats", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr, _ = call(h, buyer, http.MethodPost, "/disputes/"+d.ID+"/resolve", map[string]string{"resolutionType": "full_refund"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = call(h, admin, http.MethodPut, "/disputes/"+d.ID, map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = call(h, admin, http.MethodPut, "/disputes/"+d.ID, map[string]string{"status": "investigating"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, data = call(h, admin, http.MethodGet, "/disputes/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st models.DisputeStats
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, 1, st.InvestigatingCount)

	rr, data = call(h, admin, http.MethodPost, "/disputes/"+d.ID+"/resolve", map[string]interface{}{
		"resolutionType": "partial_refund", "refundAmount": 1000,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, "rf-1", d.RefundID)

	rr, _ = call(h, admin, http.MethodPost, "/disputes/"+d.ID+"/reject", map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, _ = call(h, admin, http.MethodGet, "/disputes?status=resolved", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
