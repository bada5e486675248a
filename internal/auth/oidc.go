package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-marketplace/internal/models"
)

// UserLookup resolves an external identity to a local account.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// OIDCVerifier accepts ID tokens from an external issuer and maps them to
// local users by email so roles stay managed here.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	users    UserLookup
}

func NewOIDCVerifier(ctx context.Context, issuer string, users UserLookup) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// SkipClientIDCheck: tokens come from several client apps of the same realm.
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return &OIDCVerifier{verifier: verifier, users: users}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (Principal, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Principal{}, fmt.Errorf("oidc verify: %w", err)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Principal{}, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return Principal{}, fmt.Errorf("oidc token for %s has no verified email", claims.Sub)
	}

	u, err := v.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		return Principal{}, fmt.Errorf("no local account for %s: %w", claims.Email, err)
	}
	if !u.Active {
		return Principal{}, fmt.Errorf("account %s is disabled", u.ID)
	}
	return Principal{UserID: u.ID, Email: u.Email, Role: u.Role}, nil
}
