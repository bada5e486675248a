package events_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/events"
	"ms-marketplace/internal/events/db"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
	"ms-marketplace/internal/users"
)

type noopReleaser struct{}

func (noopReleaser) ReleaseEventReservations(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

func asUser(u *models.User) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u != nil {
				r = r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func request(h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	var env envelope
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	return rr, env
}

func TestEventEndpoints(t *testing.T) {
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()
	svc := events.NewEventService(&db.DB{Bun: bdb}, &users.DB{Bun: bdb}, noopReleaser{}, audit.NewRecorder(bdb, log), log, "ngn")
	h := NewHandler(svc, log)

	org := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	router := func(u *models.User) http.Handler {
		r := chi.NewRouter()
		r.Use(asUser(u))
		r.Route("/events", h.RegisterRoutes)
		return r
	}

	body := map[string]interface{}{
		"title":     "Comedy Night",
		"category":  "comedy",
		"venue":     map[string]string{"name": "Terra Kulture", "city": "Lagos"},
		"eventDate": time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"ticketTiers": []map[string]interface{}{
			{"name": "Regular", "price": 500000, "quantity": 100, "maxPerUser": 4},
		},
	}

	rr, _ := request(router(buyer), http.MethodPost, "/events", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = request(router(nil), http.MethodPost, "/events", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, env := request(router(org), http.MethodPost, "/events", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created models.Event
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, models.EventDraft, created.Status)
	require.Len(t, created.Tiers, 1)

	rr, _ = request(router(nil), http.MethodGet, "/events/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "drafts are hidden from the public")

	rr, _ = request(router(org), http.MethodPost, "/events/"+created.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr, env = request(router(nil), http.MethodGet, "/events?category=comedy", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Items []models.Event `json:"items"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Total)

	rr, env = request(router(org), http.MethodGet, "/events/organizer/my-events", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var mine struct {
		Events []models.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Len(t, mine.Events, 1)

	rr, _ = request(router(org), http.MethodPut, "/events/"+created.ID, map[string]string{"title": "Late Show"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, _ = request(router(org), http.MethodPost, "/events/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
