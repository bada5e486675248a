// Package admin holds the platform administration operations that are not
// owned by a domain package: user management and the dashboard.
package admin

import (
	"context"
	"fmt"

	"ms-marketplace/internal/analytics"
	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/users"
	"ms-marketplace/internal/utils"
)

type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=buyer organizer validator admin"`
}

type ActiveRequest struct {
	Active *bool `json:"isActive" validate:"required"`
}

type Service struct {
	Users     *users.DB
	Analytics *analytics.Service
	Audit     *audit.Recorder
	Logger    *logger.Logger
}

func NewService(u *users.DB, a *analytics.Service, rec *audit.Recorder, log *logger.Logger) *Service {
	return &Service{Users: u, Analytics: a, Audit: rec, Logger: log}
}

func (s *Service) Stats(ctx context.Context) (*analytics.PlatformStats, error) {
	return s.Analytics.PlatformStats(ctx)
}

func (s *Service) ListUsers(ctx context.Context, f users.Filter, page utils.Page) (utils.Paginated, error) {
	items, total, err := s.Users.List(ctx, f, page.Limit, page.Offset())
	if err != nil {
		return utils.Paginated{}, apperr.Internal(err)
	}
	return utils.NewPaginated(items, total, page), nil
}

// ChangeRole sets a user's role. Admins cannot change their own role, and a
// user promoted to organizer starts pending approval.
func (s *Service) ChangeRole(ctx context.Context, adminID, userID, role string) (*models.User, error) {
	u, from, err := s.changeRole(ctx, adminID, userID, role)
	s.Audit.Record(ctx, audit.Entry{
		Action:     "user.role_change",
		EntityType: "user",
		EntityID:   userID,
		Severity:   models.SeverityWarning,
		Err:        err,
		Diff:       map[string]interface{}{"from": from, "to": role},
	})
	return u, err
}

func (s *Service) changeRole(ctx context.Context, adminID, userID, role string) (*models.User, string, error) {
	if adminID == userID {
		return nil, "", apperr.Forbidden("admins cannot change their own role")
	}
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	from := u.Role
	if from == role {
		return u, from, nil
	}
	u.Role = role
	columns := []string{"role"}
	if role == models.RoleOrganizer && u.OrganizerProfile.PlatformStatus == "" {
		u.OrganizerProfile.PlatformStatus = models.PlatformPending
		columns = append(columns, "org_platform_status")
	}
	if err := s.Users.Update(ctx, u, columns...); err != nil {
		return nil, from, err
	}
	s.Logger.Info("ADMIN", fmt.Sprintf("User %s role changed from %s to %s by %s", userID, from, role, adminID))
	return u, from, nil
}

func (s *Service) SetActive(ctx context.Context, adminID, userID string, active bool) (*models.User, error) {
	u, err := s.setActive(ctx, adminID, userID, active)
	s.Audit.Record(ctx, audit.Entry{
		Action:     "user.set_active",
		EntityType: "user",
		EntityID:   userID,
		Err:        err,
		Diff:       map[string]interface{}{"active": active},
	})
	return u, err
}

func (s *Service) setActive(ctx context.Context, adminID, userID string, active bool) (*models.User, error) {
	if adminID == userID && !active {
		return nil, apperr.Forbidden("admins cannot deactivate themselves")
	}
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Active = active
	if err := s.Users.Update(ctx, u, "active"); err != nil {
		return nil, err
	}
	return u, nil
}
