package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret-pass"))
	assert.False(t, CheckPassword(hash, "other"))
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	m := NewTokenManager("secret", time.Minute, time.Hour)
	pair, err := m.Issue(&models.User{ID: "u1", Email: "a@b.c", Role: models.RoleBuyer})
	require.NoError(t, err)

	claims, err := m.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, models.RoleBuyer, claims.Role)

	_, err = m.ParseAccess(pair.RefreshToken)
	assert.Error(t, err)
	_, err = m.ParseRefresh(pair.AccessToken)
	assert.Error(t, err)
}

func TestExpiredAndForeignTokensRejected(t *testing.T) {
	m := NewTokenManager("secret", time.Minute, time.Hour)
	pair, err := m.Issue(&models.User{ID: "u1", Role: models.RoleAdmin})
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.ParseAccess(pair.AccessToken)
	assert.Error(t, err)

	other := NewTokenManager("different", time.Minute, time.Hour)
	_, err = other.ParseAccess(pair.AccessToken)
	assert.Error(t, err)
}

func TestRefreshStoreConsumeOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRefreshStore(rdb)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "jti", "u1", time.Hour))
	userID, ok, err := s.Consume(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)

	_, ok, err = s.Consume(ctx, "jti")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	log := logger.NewNop()
	m := NewTokenManager("secret", time.Minute, time.Hour)
	authn := &Authenticator{Tokens: m, Logger: log}

	var seen Principal
	var actor audit.Actor
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		actor, _ = audit.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := authn.Middleware(RequireRole(log, models.RoleAdmin)(final))

	serve := func(u *models.User) int {
		pair, err := m.Issue(u)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusForbidden, serve(&models.User{ID: "b", Role: models.RoleBuyer}))
	assert.Equal(t, http.StatusNoContent, serve(&models.User{ID: "a", Email: "admin@x.io", Role: models.RoleAdmin}))
	assert.Equal(t, "a", seen.UserID)
	assert.Equal(t, "admin@x.io", actor.Email)
}

func TestRateLimiterPerKey(t *testing.T) {
	l := NewRateLimiter(1, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestOptionalAuthentication(t *testing.T) {
	m := NewTokenManager("secret", time.Minute, time.Hour)
	authn := &Authenticator{Tokens: m, Logger: logger.NewNop()}

	var seen string
	h := authn.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, seen)

	pair, err := m.Issue(&models.User{ID: "u1", Role: models.RoleBuyer})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "u1", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
