package analytics_api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/analytics"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
)

func serve(h *Handler, u *models.User, method, path string, body interface{}) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: u.ID, Role: u.Role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/events", h.RegisterRoutes)

	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func TestAnalyticsEndpoints(t *testing.T) {
	bdb := testutil.NewSQLiteDB(t)
	h := NewHandler(analytics.NewService(analytics.NewDB(bdb)), logger.NewNop())

	org := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	other := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	ev, tiers := testutil.SeedEvent(t, bdb, org.ID, testutil.TierSpec{Name: "GA", Price: 1500, Quantity: 20, MaxPerUser: 5})
	testutil.SeedCompletedOrder(t, bdb, buyer.ID, tiers[0], 2)

	rr := serve(h, org, http.MethodGet, "/events/"+ev.ID+"/analytics", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Data analytics.EventAnalytics `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(3000), resp.Data.GrossRevenue)
	assert.Equal(t, int64(2), resp.Data.TotalTicketsSold)

	assert.Equal(t, http.StatusForbidden, serve(h, other, http.MethodGet, "/events/"+ev.ID+"/analytics", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, buyer, http.MethodGet, "/events/organizer/analytics", nil).Code)

	rr = serve(h, org, http.MethodGet, "/events/"+ev.ID+"/orders?sortBy=amount", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(h, org, http.MethodPost, "/events/analytics/batch", map[string][]string{"eventIds": {ev.ID}})
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = serve(h, org, http.MethodPost, "/events/analytics/batch", map[string][]string{"eventIds": {}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
