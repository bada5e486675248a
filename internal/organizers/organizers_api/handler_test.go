package organizers_api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/organizers"
	"ms-marketplace/internal/payment"
	"ms-marketplace/internal/testutil"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	"ms-marketplace/internal/users"
	"ms-marketplace/internal/validation"
	validationdb "ms-marketplace/internal/validation/db"
)

func router(h *Handler, u *models.User) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/organizer", h.RegisterRoutes)
	r.Route("/admin/organizers", h.RegisterAdminRoutes)
	return r
}

func do(h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func TestOrganizerEndpoints(t *testing.T) {
	bdb := testutil.NewSQLiteDB(t)
	log := logger.NewNop()
	rec := audit.NewRecorder(bdb, log)
	store := &users.DB{Bun: bdb}
	validators := validation.NewValidationService(&validationdb.DB{Bun: bdb}, qr.NewQRGenerator("s"), store, rec, nil, log)
	svc := organizers.NewService(store, payment.NewMockGateway(), validators, rec, log,
		organizers.ParseBanks([]string{"044:Access Bank"}), 5)
	h := NewHandler(svc, log)

	org := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	ev, _ := testutil.SeedEvent(t, bdb, org.ID, testutil.TierSpec{Name: "GA", Price: 1000, Quantity: 10})

	assert.Equal(t, http.StatusForbidden, do(router(h, buyer), http.MethodGet, "/organizer/banks", nil).Code)

	rr := do(router(h, org), http.MethodGet, "/organizer/banks", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var banks struct {
		Data []organizers.Bank `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &banks))
	assert.Equal(t, []organizers.Bank{{Code: "044", Name: "Access Bank"}}, banks.Data)

	rr = do(router(h, org), http.MethodPost, "/organizer/setup-payout", map[string]string{
		"businessName": "Acme Live", "bankCode": "044", "accountNumber": "12345",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "account numbers have ten digits")

	rr = do(router(h, org), http.MethodPost, "/organizer/setup-payout", map[string]string{
		"businessName": "Acme Live", "bankCode": "044", "accountNumber": "0123456789",
	})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	path := "/organizer/events/" + ev.ID + "/validators"
	rr = do(router(h, org), http.MethodPost, path, map[string]string{
		"email": "gate@example.com", "fullName": "Gate A", "password": "long-enough",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Data models.ValidatorAssignment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	assert.Equal(t, http.StatusOK, do(router(h, org), http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusOK, do(router(h, org), http.MethodDelete, path+"/"+created.Data.ValidatorID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(router(h, org), http.MethodDelete, path+"/"+created.Data.ValidatorID, nil).Code)

	admin := testutil.SeedUser(t, bdb, models.RoleAdmin)
	rr = do(router(h, admin), http.MethodPost, "/admin/organizers/"+org.ID+"/reject", map[string]string{"reason": "fraud report"})
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(router(h, admin), http.MethodGet, "/admin/organizers/pending", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
