package admin_api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/admin"
	"ms-marketplace/internal/analytics"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
	"ms-marketplace/internal/users"
)

func call(h *Handler, u *models.User, method, path string, body interface{}) (*httptest.ResponseRecorder, json.RawMessage) {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: u.ID, Role: u.Role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/admin", h.RegisterRoutes)

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

func TestAdminEndpoints(t *testing.T) {
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()
	svc := admin.NewService(&users.DB{Bun: bdb}, analytics.NewService(analytics.NewDB(bdb)), audit.NewRecorder(bdb, log), log)
	h := NewHandler(svc, log)

	root := testutil.SeedUser(t, bdb, models.RoleAdmin)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)

	rr, data := call(h, root, http.MethodGet, "/admin/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st analytics.PlatformStats
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, 2, st.Users.Total)

	rr, data = call(h, root, http.MethodGet, "/admin/users?role=buyer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Items []models.User `json:"items"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(data, &page))
	require.Equal(t, 1, page.Total)
	assert.Equal(t, buyer.ID, page.Items[0].ID)

	rr, _ = call(h, root, http.MethodPut, "/admin/users/"+buyer.ID+"/role", map[string]string{"role": "superuser"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, data = call(h, root, http.MethodPut, "/admin/users/"+buyer.ID+"/role", map[string]string{"role": models.RoleValidator})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var u models.User
	require.NoError(t, json.Unmarshal(data, &u))
	assert.Equal(t, models.RoleValidator, u.Role)

	rr, _ = call(h, root, http.MethodPut, "/admin/users/"+buyer.ID+"/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "isActive is required")

	rr, data = call(h, root, http.MethodPut, "/admin/users/"+buyer.ID+"/status", map[string]bool{"isActive": false})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(data, &u))
	assert.False(t, u.Active)

	rr, _ = call(h, root, http.MethodPut, "/admin/users/"+root.ID+"/status", map[string]bool{"isActive": false})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
