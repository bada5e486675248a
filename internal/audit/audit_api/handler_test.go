package audit_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/testutil"
	"ms-marketplace/internal/utils"
)

func newRouter(t *testing.T) (*chi.Mux, *audit.Recorder) {
	db := testutil.NewSQLiteDB(t)
	rec := audit.NewRecorder(db, logger.NewNop())
	h := NewHandler(rec, logger.NewNop())

	r := chi.NewRouter()
	r.Route("/audit", h.RegisterRoutes)
	return r, rec
}

func TestListFiltersBySuccess(t *testing.T) {
	r, rec := newRouter(t)
	ctx := context.Background()
	rec.Record(ctx, audit.Entry{Action: "ticket.scan", EntityType: "ticket", EntityID: "t1"})
	rec.Record(ctx, audit.Entry{Action: "ticket.scan", EntityType: "ticket", EntityID: "t2", Err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/audit?success=false", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		utils.APIResponse
		Data utils.Paginated `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.Total)
}

func TestListRejectsBadTimestamp(t *testing.T) {
	r, _ := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/audit?from=yesterday", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEntityHistory(t *testing.T) {
	r, rec := newRouter(t)
	rec.Record(context.Background(), audit.Entry{Action: "event.publish", EntityType: "event", EntityID: "e1"})
	rec.Record(context.Background(), audit.Entry{Action: "event.cancel", EntityType: "event", EntityID: "e2"})

	req := httptest.NewRequest(http.MethodGet, "/audit/entity/event/e1", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "event.publish")
	assert.NotContains(t, rr.Body.String(), "event.cancel")
}
