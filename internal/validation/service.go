// Package validation checks tickets in at the door.
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/metrics"
	"ms-marketplace/internal/models"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	"ms-marketplace/internal/utils"
	"ms-marketplace/internal/validation/db"
)

// CheckInNotifier pushes scan outcomes to live door dashboards.
type CheckInNotifier interface {
	EmitCheckIn(eventID string, data interface{})
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type ValidationService struct {
	DB       *db.DB
	QR       *qr.QRGenerator
	Users    UserLookup
	Audit    *audit.Recorder
	Notifier CheckInNotifier
	Logger   *logger.Logger
	now      func() time.Time
}

func NewValidationService(d *db.DB, qrGen *qr.QRGenerator, users UserLookup, rec *audit.Recorder, notifier CheckInNotifier, log *logger.Logger) *ValidationService {
	return &ValidationService{
		DB:       d,
		QR:       qrGen,
		Users:    users,
		Audit:    rec,
		Notifier: notifier,
		Logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ---------------- SCAN ----------------

// Scan checks in the ticket behind raw, a signed QR payload or a bare code,
// for eventID. Rejections return both a result describing the ticket and the
// matching error: NOT_FOUND, WRONG_EVENT, ALREADY_USED (carrying the original
// check-in time) or VOID.
func (s *ValidationService) Scan(ctx context.Context, raw, eventID, validatorID, role string) (*models.ScanResult, error) {
	if err := s.authorize(ctx, eventID, validatorID, role); err != nil {
		s.Audit.Record(ctx, audit.Entry{Action: "ticket.scan", EntityType: "event", EntityID: eventID, Err: err})
		return nil, err
	}

	now := s.now()
	result, ticketID, err := s.scan(ctx, raw, eventID, validatorID, now)
	if apperr.KindOf(err) == apperr.KindInternal {
		s.Audit.Record(ctx, audit.Entry{Action: "ticket.scan", EntityType: "ticket", EntityID: ticketID, Err: err})
		return nil, apperr.Internal(err)
	}

	metrics.Scan(result.Status)
	s.Logger.LogScan(result.Status, ticketID, fmt.Sprintf("event %s by %s", eventID, validatorID))
	s.Audit.Record(ctx, audit.Entry{
		Action:     "ticket.scan",
		EntityType: "ticket",
		EntityID:   ticketID,
		Err:        err,
		Diff:       map[string]interface{}{"eventId": eventID, "result": result.Status},
	})
	s.notify(eventID, validatorID, ticketID, result)
	return result, err
}

func (s *ValidationService) scan(ctx context.Context, raw, eventID, validatorID string, now time.Time) (*models.ScanResult, string, error) {
	code, err := s.QR.Parse(raw)
	if err != nil {
		if errors.Is(err, qr.ErrForged) {
			s.Logger.LogSecurity("FORGED_QR", fmt.Sprintf("validator %s scanned a forged payload at event %s", validatorID, eventID))
		}
		return rejected(models.ScanNotFound, "Ticket not found", nil, now), "", apperr.NotFound("ticket")
	}

	t, err := s.DB.TicketByCode(ctx, code)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return rejected(models.ScanNotFound, "Ticket not found", nil, now), "", err
		}
		return nil, "", err
	}

	if t.EventID != eventID {
		return rejected(models.ScanWrongEvent, "Ticket is for a different event", scanTicket(t), now), t.ID, apperr.ErrWrongEvent
	}
	if res, err := terminal(t, now); err != nil {
		return res, t.ID, err
	}

	ok, err := s.DB.MarkUsed(ctx, t.ID, validatorID, now)
	if err != nil {
		return nil, t.ID, err
	}
	if !ok {
		// Lost the race to another scanner or a void.
		current, err := s.DB.TicketByCode(ctx, code)
		if err != nil {
			return nil, t.ID, err
		}
		res, err := terminal(current, now)
		if err == nil {
			return nil, t.ID, fmt.Errorf("ticket %s still valid after failed check-in", t.ID)
		}
		return res, t.ID, err
	}

	t.Status = models.TicketUsed
	t.UsedAt = &now
	return &models.ScanResult{
		Success:   true,
		Status:    models.ScanValid,
		Message:   "Ticket is valid. Welcome!",
		Ticket:    scanTicket(t),
		ScannedAt: now,
	}, t.ID, nil
}

// terminal reports the rejection for a ticket that can no longer be checked
// in, or a nil error while it is still valid.
func terminal(t *models.Ticket, now time.Time) (*models.ScanResult, error) {
	switch t.Status {
	case models.TicketUsed:
		msg := "Ticket already used"
		if t.UsedAt != nil {
			msg = fmt.Sprintf("Ticket already used at %s", t.UsedAt.UTC().Format(time.RFC3339))
		}
		return rejected(models.ScanAlreadyUsed, msg, scanTicket(t), now), apperr.ErrAlreadyUsed.WithMessage("%s", msg)
	case models.TicketVoid:
		return rejected(models.ScanVoid, "Ticket has been voided", scanTicket(t), now), apperr.ErrVoid
	}
	return nil, nil
}

func rejected(status, msg string, t *models.ScanTicket, now time.Time) *models.ScanResult {
	return &models.ScanResult{Status: status, Message: msg, Ticket: t, ScannedAt: now}
}

func scanTicket(t *models.Ticket) *models.ScanTicket {
	return &models.ScanTicket{
		ID:         t.ID,
		HolderName: t.HolderName,
		TierName:   t.TierName,
		EventID:    t.EventID,
		UsedAt:     t.UsedAt,
	}
}

func (s *ValidationService) notify(eventID, validatorID, ticketID string, r *models.ScanResult) {
	if s.Notifier == nil {
		return
	}
	c := models.CheckIn{
		TicketID:    ticketID,
		EventID:     eventID,
		Status:      r.Status,
		ValidatorID: validatorID,
		ScannedAt:   r.ScannedAt,
	}
	if r.Ticket != nil {
		c.HolderName = r.Ticket.HolderName
		c.TierName = r.Ticket.TierName
	}
	s.Notifier.EmitCheckIn(eventID, c)
}

// authorize lets admins, the event's organizer and assigned validators work
// an event's door.
func (s *ValidationService) authorize(ctx context.Context, eventID, userID, role string) error {
	ev, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	switch role {
	case models.RoleAdmin:
		return nil
	case models.RoleOrganizer:
		if ev.OrganizerID == userID {
			return nil
		}
	case models.RoleValidator:
		ok, err := s.DB.IsAssigned(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	s.Logger.LogSecurity("SCAN_FORBIDDEN", fmt.Sprintf("user %s (%s) is not assigned to event %s", userID, role, eventID))
	return apperr.Forbidden("you are not assigned to this event")
}

// ---------------- STATS ----------------

func (s *ValidationService) EventStats(ctx context.Context, eventID, userID, role string) (*models.EventCheckinStats, error) {
	if err := s.authorize(ctx, eventID, userID, role); err != nil {
		return nil, err
	}
	counts, err := s.DB.TicketStatusCounts(ctx, eventID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	stats := &models.EventCheckinStats{
		EventID:   eventID,
		CheckedIn: counts[models.TicketUsed],
		Pending:   counts[models.TicketValid],
		Voided:    counts[models.TicketVoid],
	}
	stats.Total = stats.CheckedIn + stats.Pending + stats.Voided
	stats.CheckInRate = utils.Rate(int64(stats.CheckedIn), int64(stats.CheckedIn+stats.Pending))
	return stats, nil
}

// MyEvents lists the events a validator is assigned to.
func (s *ValidationService) MyEvents(ctx context.Context, validatorID string) ([]models.Event, error) {
	events, err := s.DB.AssignedEvents(ctx, validatorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return events, nil
}

// CanWatch reports whether userID may follow the event's check-in stream.
func (s *ValidationService) CanWatch(ctx context.Context, eventID, userID, role string) error {
	return s.authorize(ctx, eventID, userID, role)
}

// ---------------- ASSIGNMENTS ----------------

func (s *ValidationService) ownsEvent(ctx context.Context, eventID, actorID, role string) (*models.Event, error) {
	ev, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && ev.OrganizerID != actorID {
		return nil, apperr.Forbidden("not the organizer of this event")
	}
	return ev, nil
}

// AssignValidator gives a validator account access to an event's door.
func (s *ValidationService) AssignValidator(ctx context.Context, validatorID, eventID, actorID, role string) (*models.ValidatorAssignment, error) {
	a, err := s.assign(ctx, validatorID, eventID, actorID, role)
	s.Audit.Record(ctx, audit.Entry{
		Action:     "validator.assign",
		EntityType: "user",
		EntityID:   validatorID,
		Err:        err,
		Diff:       map[string]interface{}{"eventId": eventID},
	})
	return a, err
}

func (s *ValidationService) assign(ctx context.Context, validatorID, eventID, actorID, role string) (*models.ValidatorAssignment, error) {
	if _, err := s.ownsEvent(ctx, eventID, actorID, role); err != nil {
		return nil, err
	}
	u, err := s.Users.GetByID(ctx, validatorID)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleValidator {
		return nil, apperr.Validation("user %s is not a validator", u.Email)
	}

	a := &models.ValidatorAssignment{
		ID:          uuid.NewString(),
		ValidatorID: validatorID,
		EventID:     eventID,
		AssignedBy:  actorID,
		CreatedAt:   s.now(),
	}
	if err := s.DB.Assign(ctx, a); err != nil {
		return nil, apperr.Internal(err)
	}
	s.Logger.Info("VALIDATION", fmt.Sprintf("Validator %s assigned to event %s", validatorID, eventID))
	return a, nil
}

func (s *ValidationService) RemoveValidator(ctx context.Context, validatorID, eventID, actorID, role string) error {
	err := s.remove(ctx, validatorID, eventID, actorID, role)
	s.Audit.Record(ctx, audit.Entry{
		Action:     "validator.remove",
		EntityType: "user",
		EntityID:   validatorID,
		Err:        err,
		Diff:       map[string]interface{}{"eventId": eventID},
	})
	return err
}

func (s *ValidationService) remove(ctx context.Context, validatorID, eventID, actorID, role string) error {
	if _, err := s.ownsEvent(ctx, eventID, actorID, role); err != nil {
		return err
	}
	ok, err := s.DB.Unassign(ctx, validatorID, eventID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.NotFound("validator assignment")
	}
	return nil
}

func (s *ValidationService) EventValidators(ctx context.Context, eventID, actorID, role string) ([]models.ValidatorView, error) {
	if _, err := s.ownsEvent(ctx, eventID, actorID, role); err != nil {
		return nil, err
	}
	out, err := s.DB.ValidatorsForEvent(ctx, eventID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}
