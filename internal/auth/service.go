package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/users"
)

type RegisterRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8"`
	FullName     string `json:"fullName" validate:"required"`
	Phone        string `json:"phone"`
	Role         string `json:"role" validate:"omitempty,oneof=buyer organizer"`
	BusinessName string `json:"businessName"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type UpdateProfileRequest struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

type Session struct {
	User *models.User `json:"user"`
	*TokenPair
}

type Service struct {
	Users    *users.DB
	Tokens   *TokenManager
	Sessions *RefreshStore
	Audit    *audit.Recorder
	Logger   *logger.Logger
	now      func() time.Time
}

func NewService(u *users.DB, tokens *TokenManager, refresh *RefreshStore, rec *audit.Recorder, log *logger.Logger) *Service {
	return &Service{
		Users:    u,
		Tokens:   tokens,
		Sessions: refresh,
		Audit:    rec,
		Logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a buyer or organizer account. Organizers start pending
// platform approval.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	role := req.Role
	if role == "" {
		role = models.RoleBuyer
	}
	if role == models.RoleOrganizer && strings.TrimSpace(req.BusinessName) == "" {
		return nil, apperr.Validation("businessName is required for organizers")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	now := s.now()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		FullName:     req.FullName,
		Phone:        req.Phone,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if role == models.RoleOrganizer {
		u.OrganizerProfile = models.OrganizerProfile{
			BusinessName:   req.BusinessName,
			PlatformStatus: models.PlatformPending,
		}
	}

	err = s.Users.Create(ctx, u)
	s.Audit.Record(ctx, audit.Entry{
		Actor:      &audit.Actor{ID: u.ID, Email: u.Email, Role: u.Role},
		Action:     "user.register",
		EntityType: "user",
		EntityID:   u.ID,
		EntityName: u.Email,
		Err:        err,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("AUTH", fmt.Sprintf("Registered %s %s", u.Role, u.ID))
	return s.session(ctx, u)
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	invalid := apperr.ErrUnauthorized.WithMessage("invalid email or password")

	u, err := s.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			s.Logger.LogSecurity("LOGIN_FAILED", "unknown email")
			return nil, invalid
		}
		return nil, err
	}

	if !CheckPassword(u.PasswordHash, req.Password) {
		s.Logger.LogSecurity("LOGIN_FAILED", fmt.Sprintf("bad password for %s", u.ID))
		s.Audit.Record(ctx, audit.Entry{
			Actor:      &audit.Actor{ID: u.ID, Email: u.Email, Role: u.Role},
			Action:     "user.login",
			EntityType: "user",
			EntityID:   u.ID,
			Err:        invalid,
		})
		return nil, invalid
	}
	if !u.Active {
		return nil, apperr.Forbidden("account is disabled")
	}

	s.Audit.Record(ctx, audit.Entry{
		Actor:      &audit.Actor{ID: u.ID, Email: u.Email, Role: u.Role},
		Action:     "user.login",
		EntityType: "user",
		EntityID:   u.ID,
	})
	return s.session(ctx, u)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed, so replaying it fails.
func (s *Service) Refresh(ctx context.Context, raw string) (*Session, error) {
	u, subject, err := s.refresh(ctx, raw)
	e := audit.Entry{Action: "user.refresh", EntityType: "user", EntityID: subject, Err: err}
	if u != nil {
		e.Actor = &audit.Actor{ID: u.ID, Email: u.Email, Role: u.Role}
	}
	s.Audit.Record(ctx, e)
	if err != nil {
		return nil, err
	}
	return s.session(ctx, u)
}

// refresh returns the user a live refresh token belongs to, along with the
// token subject whenever it parsed.
func (s *Service) refresh(ctx context.Context, raw string) (*models.User, string, error) {
	claims, err := s.Tokens.ParseRefresh(raw)
	if err != nil {
		return nil, "", apperr.ErrUnauthorized.WithMessage("invalid refresh token")
	}

	userID, ok, err := s.Sessions.Consume(ctx, claims.ID)
	if err != nil {
		return nil, claims.Subject, apperr.Internal(err)
	}
	if !ok || userID != claims.Subject {
		s.Logger.LogSecurity("REFRESH_REUSE", fmt.Sprintf("refresh token %s for %s not live", claims.ID, claims.Subject))
		return nil, claims.Subject, apperr.ErrUnauthorized.WithMessage("refresh token revoked or already used")
	}

	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, claims.Subject, err
	}
	if !u.Active {
		return u, claims.Subject, apperr.Forbidden("account is disabled")
	}
	return u, claims.Subject, nil
}

func (s *Service) Logout(ctx context.Context, raw string) error {
	claims, err := s.Tokens.ParseRefresh(raw)
	if err != nil {
		return apperr.ErrUnauthorized.WithMessage("invalid refresh token")
	}
	if err := s.Sessions.Revoke(ctx, claims.ID); err != nil {
		return apperr.Internal(err)
	}
	s.Audit.Record(ctx, audit.Entry{Action: "user.logout", EntityType: "user", EntityID: claims.Subject})
	return nil
}

func (s *Service) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.Users.GetByID(ctx, userID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.User, error) {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var cols []string
	if req.FullName != "" && req.FullName != u.FullName {
		u.FullName = req.FullName
		cols = append(cols, "full_name")
	}
	if req.Phone != "" && req.Phone != u.Phone {
		u.Phone = req.Phone
		cols = append(cols, "phone")
	}
	if len(cols) == 0 {
		return u, nil
	}

	err = s.Users.Update(ctx, u, cols...)
	s.Audit.Record(ctx, audit.Entry{
		Action:     "user.update_profile",
		EntityType: "user",
		EntityID:   u.ID,
		Diff:       map[string]interface{}{"fields": cols},
		Err:        err,
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) session(ctx context.Context, u *models.User) (*Session, error) {
	pair, err := s.Tokens.Issue(u)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.Sessions.Save(ctx, pair.refreshID, u.ID, s.Tokens.refreshTTL); err != nil {
		return nil, apperr.Internal(err)
	}
	return &Session{User: u, TokenPair: pair}, nil
}
