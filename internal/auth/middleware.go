package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/utils"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID string
	Email  string
	Role   string
}

func (p Principal) Is(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	return audit.WithActor(ctx, audit.Actor{ID: p.UserID, Email: p.Email, Role: p.Role})
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.UserID
}

// Authenticator verifies bearer tokens. Locally issued access tokens are
// checked first; when an OIDC verifier is configured, tokens from the external
// identity provider are accepted too.
type Authenticator struct {
	Tokens *TokenManager
	OIDC   *OIDCVerifier
	Logger *logger.Logger
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := ExtractTokenFromRequest(r)
		if err != nil {
			utils.WriteError(w, a.Logger, "AUTH", apperr.ErrUnauthorized.WithMessage("%s", err.Error()))
			return
		}

		p, err := a.authenticate(r.Context(), raw)
		if err != nil {
			a.Logger.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
			utils.WriteError(w, a.Logger, "AUTH", apperr.ErrUnauthorized.WithMessage("invalid or expired token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) authenticate(ctx context.Context, raw string) (Principal, error) {
	claims, err := a.Tokens.ParseAccess(raw)
	if err == nil {
		return Principal{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
	}
	if a.OIDC == nil {
		return Principal{}, err
	}
	return a.OIDC.Verify(ctx, raw)
}

// RequireRole rejects callers whose role is not listed. It must run after
// the authenticator.
func RequireRole(log *logger.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				utils.WriteError(w, log, "AUTH", apperr.ErrUnauthorized)
				return
			}
			if !p.Is(roles...) {
				log.LogSecurity("FORBIDDEN", fmt.Sprintf("user %s (%s) denied %s %s", p.UserID, p.Role, r.Method, r.URL.Path))
				utils.WriteError(w, log, "AUTH", apperr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Optional attaches the principal when a bearer token is present and lets
// anonymous requests through. A token that fails verification is still
// rejected so the client can refresh it.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		a.Middleware(next).ServeHTTP(w, r)
	})
}
