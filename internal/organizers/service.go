// Package organizers covers organizer onboarding: platform approval, payout
// subaccounts with the payment provider and the validator accounts that work
// an organizer's doors.
package organizers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/payment"
	"ms-marketplace/internal/users"
	"ms-marketplace/internal/utils"
)

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ParseBanks reads "code:name" entries; malformed entries are skipped.
func ParseBanks(entries []string) []Bank {
	out := make([]Bank, 0, len(entries))
	for _, e := range entries {
		code, name, ok := strings.Cut(e, ":")
		code, name = strings.TrimSpace(code), strings.TrimSpace(name)
		if !ok || code == "" || name == "" {
			continue
		}
		out = append(out, Bank{Code: code, Name: name})
	}
	return out
}

type PayoutRequest struct {
	BusinessName  string `json:"businessName" validate:"required,max=200"`
	BankCode      string `json:"bankCode" validate:"required"`
	AccountNumber string `json:"accountNumber" validate:"required,len=10,numeric"`
}

type CreateValidatorRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName" validate:"required,max=200"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// ValidatorDirectory manages validator assignments on events.
type ValidatorDirectory interface {
	AssignValidator(ctx context.Context, validatorID, eventID, actorID, role string) (*models.ValidatorAssignment, error)
	RemoveValidator(ctx context.Context, validatorID, eventID, actorID, role string) error
	EventValidators(ctx context.Context, eventID, actorID, role string) ([]models.ValidatorView, error)
}

type Service struct {
	Users      *users.DB
	Gateway    payment.Gateway
	Validators ValidatorDirectory
	Audit      *audit.Recorder
	Logger     *logger.Logger
	FeePercent int64
	banks      []Bank
	now        func() time.Time
}

func NewService(u *users.DB, gw payment.Gateway, validators ValidatorDirectory, rec *audit.Recorder, log *logger.Logger, banks []Bank, feePercent int64) *Service {
	return &Service{
		Users:      u,
		Gateway:    gw,
		Validators: validators,
		Audit:      rec,
		Logger:     log,
		FeePercent: feePercent,
		banks:      banks,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Banks() []Bank { return s.banks }

func (s *Service) bank(code string) (Bank, bool) {
	for _, b := range s.banks {
		if b.Code == code {
			return b, true
		}
	}
	return Bank{}, false
}

func (s *Service) organizer(ctx context.Context, id string) (*models.User, error) {
	u, err := s.Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleOrganizer {
		return nil, apperr.NotFound("organizer")
	}
	return u, nil
}

// ---------------- PAYOUTS ----------------

// SetupPayout stores the organizer's bank details and opens a payout
// subaccount with the payment provider. Only approved organizers get one.
func (s *Service) SetupPayout(ctx context.Context, organizerID string, req PayoutRequest) (*models.User, error) {
	u, err := s.setupPayout(ctx, organizerID, req)
	s.Audit.Record(ctx, audit.Entry{
		Action:     "organizer.payout_setup",
		EntityType: "user",
		EntityID:   organizerID,
		EntityName: req.BusinessName,
		Err:        err,
		Diff:       map[string]interface{}{"bankCode": req.BankCode},
	})
	return u, err
}

func (s *Service) setupPayout(ctx context.Context, organizerID string, req PayoutRequest) (*models.User, error) {
	u, err := s.organizer(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	if !u.IsApprovedOrganizer() {
		return nil, apperr.Forbidden("organizer account is not approved")
	}
	if _, ok := s.bank(req.BankCode); !ok {
		return nil, apperr.Validation("unsupported bank code %s", req.BankCode)
	}

	u.OrganizerProfile.BusinessName = strings.TrimSpace(req.BusinessName)
	u.OrganizerProfile.BankCode = req.BankCode
	u.OrganizerProfile.AccountNumber = req.AccountNumber
	if err := s.openSubaccount(ctx, u); err != nil {
		return nil, err
	}
	err = s.Users.Update(ctx, u, "org_business_name", "org_bank_code", "org_account_number", "org_subaccount_id", "org_payout_active")
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return u, nil
}

// CreateSubaccount opens a subaccount from the bank details already on file.
func (s *Service) CreateSubaccount(ctx context.Context, organizerID string) (*models.User, error) {
	u, err := s.createSubaccount(ctx, organizerID)
	s.Audit.Record(ctx, audit.Entry{Action: "organizer.create_subaccount", EntityType: "user", EntityID: organizerID, Err: err})
	return u, err
}

func (s *Service) createSubaccount(ctx context.Context, organizerID string) (*models.User, error) {
	u, err := s.organizer(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	if !u.IsApprovedOrganizer() {
		return nil, apperr.ErrInvalidState.WithMessage("organizer %s is not approved", organizerID)
	}
	if u.OrganizerProfile.BankCode == "" || u.OrganizerProfile.AccountNumber == "" {
		return nil, apperr.Validation("organizer %s has no bank details on file", organizerID)
	}
	if u.OrganizerProfile.SubaccountID != "" {
		return nil, apperr.Conflict("SUBACCOUNT_EXISTS", "organizer %s already has a payout subaccount", organizerID)
	}
	if err := s.openSubaccount(ctx, u); err != nil {
		return nil, err
	}
	if err := s.Users.Update(ctx, u, "org_subaccount_id", "org_payout_active"); err != nil {
		return nil, apperr.Internal(err)
	}
	return u, nil
}

func (s *Service) openSubaccount(ctx context.Context, u *models.User) error {
	acct, err := s.Gateway.CreateSubaccount(ctx, payment.SubaccountRequest{
		Email:         u.Email,
		BusinessName:  u.OrganizerProfile.BusinessName,
		BankCode:      u.OrganizerProfile.BankCode,
		AccountNumber: u.OrganizerProfile.AccountNumber,
		FeePercent:    s.FeePercent,
	})
	if err != nil {
		var ae *apperr.Error
		switch {
		case errors.As(err, &ae):
			return err
		case payment.IsTransient(err):
			return apperr.ErrGateway.WithCause(err)
		}
		return apperr.Wrap(apperr.KindValidation, "PAYOUT_REJECTED", "payout details were rejected by the payment provider", err)
	}
	u.OrganizerProfile.SubaccountID = acct.ID
	u.OrganizerProfile.PayoutActive = acct.Active
	s.Logger.Info("ORGANIZER", fmt.Sprintf("Subaccount %s opened for organizer %s", acct.ID, u.ID))
	return nil
}

// ---------------- APPROVAL ----------------

func (s *Service) Pending(ctx context.Context, page utils.Page) (utils.Paginated, error) {
	items, total, err := s.Users.List(ctx, users.Filter{Role: models.RoleOrganizer, PlatformStatus: models.PlatformPending}, page.Limit, page.Offset())
	if err != nil {
		return utils.Paginated{}, apperr.Internal(err)
	}
	return utils.NewPaginated(items, total, page), nil
}

func (s *Service) Approve(ctx context.Context, organizerID string) (*models.User, error) {
	u, err := s.review(ctx, organizerID, models.PlatformApproved, "")
	s.Audit.Record(ctx, audit.Entry{Action: "organizer.approve", EntityType: "user", EntityID: organizerID, Err: err})
	return u, err
}

func (s *Service) Reject(ctx context.Context, organizerID, reason string) (*models.User, error) {
	u, err := s.review(ctx, organizerID, models.PlatformRejected, reason)
	s.Audit.Record(ctx, audit.Entry{
		Action:     "organizer.reject",
		EntityType: "user",
		EntityID:   organizerID,
		Severity:   models.SeverityWarning,
		Err:        err,
		Diff:       map[string]interface{}{"reason": reason},
	})
	return u, err
}

func (s *Service) review(ctx context.Context, organizerID, status, reason string) (*models.User, error) {
	u, err := s.organizer(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	if u.OrganizerProfile.PlatformStatus == status {
		return nil, apperr.ErrInvalidState.WithMessage("organizer %s is already %s", organizerID, status)
	}
	u.OrganizerProfile.PlatformStatus = status
	u.OrganizerProfile.RejectionReason = reason
	if err := s.Users.Update(ctx, u, "org_platform_status", "org_rejection_reason"); err != nil {
		return nil, err
	}
	s.Logger.Info("ORGANIZER", fmt.Sprintf("Organizer %s is now %s", organizerID, status))
	return u, nil
}

// ---------------- VALIDATORS ----------------

// AddValidator creates a validator account and assigns it to the event. An
// existing validator account with the same email is reused.
func (s *Service) AddValidator(ctx context.Context, eventID, actorID, role string, req CreateValidatorRequest) (*models.ValidatorAssignment, error) {
	current, err := s.Validators.EventValidators(ctx, eventID, actorID, role)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	for _, v := range current {
		if strings.EqualFold(v.Email, email) {
			return nil, apperr.Conflict("ALREADY_ASSIGNED", "%s is already a validator for this event", email)
		}
	}

	u, err := s.Users.GetByEmail(ctx, email)
	switch {
	case err == nil && u.Role != models.RoleValidator:
		return nil, apperr.Conflict("EMAIL_TAKEN", "%s belongs to a non-validator account", email)
	case apperr.KindOf(err) == apperr.KindNotFound:
		if u, err = s.createValidator(ctx, email, req); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	return s.Validators.AssignValidator(ctx, u.ID, eventID, actorID, role)
}

func (s *Service) createValidator(ctx context.Context, email string, req CreateValidatorRequest) (*models.User, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	now := s.now()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         models.RoleValidator,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.Users.Create(ctx, u)
	s.Audit.Record(ctx, audit.Entry{Action: "user.create_validator", EntityType: "user", EntityID: u.ID, EntityName: email, Err: err})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) EventValidators(ctx context.Context, eventID, actorID, role string) ([]models.ValidatorView, error) {
	return s.Validators.EventValidators(ctx, eventID, actorID, role)
}

func (s *Service) RemoveValidator(ctx context.Context, eventID, validatorID, actorID, role string) error {
	return s.Validators.RemoveValidator(ctx, validatorID, eventID, actorID, role)
}
