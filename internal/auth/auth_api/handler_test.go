package auth_api

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
	"github.com/uptrace/bun"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"
	"ms-marketplace/internal/users"
)

func newRouter(t *testing.T) http.Handler {
	h, _ := newRouterWithDB(t)
	return h
}

func newRouterWithDB(t *testing.T) (http.Handler, *bun.DB) {
	db := testutil.NewSQLiteDB(t)
	rdb, _ := testutil.NewRedis(t)
	log := logger.NewNop()

	tokens := auth.NewTokenManager("secret", time.Minute, time.Hour)
	svc := auth.NewService(&users.DB{Bun: db}, tokens, auth.NewRefreshStore(rdb), audit.NewRecorder(db, log), log)
	h := NewHandler(svc, log)
	authn := &auth.Authenticator{Tokens: tokens, Logger: log}

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		h.RegisterPublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)
			h.RegisterRoutes(r)
		})
	})
	return r, db
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type sessionResponse struct {
	Success bool `json:"success"`
	Data    struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		User         struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	} `json:"data"`
}

func TestRegisterLoginAndMe(t *testing.T) {
	h := newRouter(t)

	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "Ada@Example.com", "password": "correct-horse", "fullName": "Ada",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))
	assert.Equal(t, "buyer", session.Data.User.Role)

	rr = do(t, h, http.MethodGet, "/auth/me", session.Data.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ada@example.com")
}

func TestLoginWrongPassword(t *testing.T) {
	h := newRouter(t)
	do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "bob@example.com", "password": "correct-horse", "fullName": "Bob",
	})

	rr := do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "bob@example.com", "password": "wrong-horse",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newRouter(t)
	body := map[string]string{"email": "dup@example.com", "password": "correct-horse", "fullName": "Dup"}
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/auth/register", "", body).Code)

	rr := do(t, h, http.MethodPost, "/auth/register", "", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "EMAIL_TAKEN")
}

func TestOrganizerNeedsBusinessName(t *testing.T) {
	h := newRouter(t)
	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "org@example.com", "password": "correct-horse", "fullName": "Org", "role": "organizer",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	h := newRouter(t)
	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "eve@example.com", "password": "correct-horse", "fullName": "Eve",
	})
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))

	refresh := map[string]string{"refreshToken": session.Data.RefreshToken}
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/auth/refresh", "", refresh).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/auth/refresh", "", refresh).Code)
}

func TestFailedRefreshIsAudited(t *testing.T) {
	h, db := newRouterWithDB(t)
	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "mallory@example.com", "password": "correct-horse", "fullName": "Mallory",
	})
	var session sessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))

	refresh := map[string]string{"refreshToken": session.Data.RefreshToken}
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/auth/refresh", "", refresh).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/auth/refresh", "", refresh).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": "garbage"}).Code)

	var entries []models.AuditLogEntry
	require.NoError(t, db.NewSelect().Model(&entries).
		Where("action = ?", "user.refresh").
		Scan(context.Background()))
	require.Len(t, entries, 3)

	byOutcome := map[string]models.AuditLogEntry{}
	for _, e := range entries {
		switch {
		case e.Success:
			byOutcome["ok"] = e
		case e.EntityID != "":
			byOutcome["replay"] = e
		default:
			byOutcome["invalid"] = e
		}
	}
	require.Len(t, byOutcome, 3)
	assert.Equal(t, session.Data.User.ID, byOutcome["ok"].EntityID)

	replay := byOutcome["replay"]
	assert.Equal(t, session.Data.User.ID, replay.EntityID)
	assert.Equal(t, models.SeverityWarning, replay.Severity)
	assert.Contains(t, replay.ErrorMessage, "already used")
	assert.Contains(t, byOutcome["invalid"].ErrorMessage, "invalid refresh token")
}

func TestMeRequiresToken(t *testing.T) {
	h := newRouter(t)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/auth/me", "garbage", nil).Code)
}
