// Package events manages the event catalog and its lifecycle: draft,
// published, cancelled and completed.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/events/db"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

// ReservationReleaser frees held inventory when an event is cancelled.
type ReservationReleaser interface {
	ReleaseEventReservations(ctx context.Context, eventID, reason string) (int, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type EventService struct {
	DB       *db.DB
	Users    UserLookup
	Orders   ReservationReleaser
	Audit    *audit.Recorder
	Logger   *logger.Logger
	Currency string
	now      func() time.Time
}

func NewEventService(d *db.DB, users UserLookup, orders ReservationReleaser, rec *audit.Recorder, log *logger.Logger, currency string) *EventService {
	return &EventService{
		DB:       d,
		Users:    users,
		Orders:   orders,
		Audit:    rec,
		Logger:   log,
		Currency: strings.ToLower(currency),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Viewer is the caller an event is read or changed on behalf of.
type Viewer struct {
	UserID string
	Role   string
}

func (v Viewer) owns(e *models.Event) bool {
	return v.Role == models.RoleAdmin || (v.UserID != "" && e.OrganizerID == v.UserID)
}

// ---------------- CREATE / UPDATE ----------------

// Create stores a new draft event with its tiers. Only approved organizers
// may create events.
func (s *EventService) Create(ctx context.Context, organizerID string, req models.CreateEventRequest) (*models.Event, error) {
	e, err := s.create(ctx, organizerID, req)
	entry := audit.Entry{Action: "event.create", EntityType: "event", EntityName: req.Title, Err: err}
	if e != nil {
		entry.EntityID = e.ID
		entry.Diff = map[string]interface{}{"tiers": len(e.Tiers)}
	}
	s.Audit.Record(ctx, entry)
	return e, err
}

func (s *EventService) create(ctx context.Context, organizerID string, req models.CreateEventRequest) (*models.Event, error) {
	u, err := s.Users.GetByID(ctx, organizerID)
	if err != nil {
		return nil, err
	}
	if !u.IsApprovedOrganizer() {
		return nil, apperr.Forbidden("organizer account is not approved")
	}

	now := s.now()
	if !req.EventDate.After(now) {
		return nil, apperr.Validation("eventDate must be in the future")
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.Currency
	}

	e := &models.Event{
		ID:              uuid.NewString(),
		OrganizerID:     organizerID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Category:        strings.ToLower(req.Category),
		Artist:          req.Artist,
		Venue:           req.Venue.Venue(),
		EventDate:       req.EventDate.UTC(),
		BannerImage:     req.BannerImage,
		Currency:        currency,
		Status:          models.EventDraft,
		StatsComputedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	e.Tiers = newTiers(e.ID, req.Tiers, now)

	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx *db.DB) error {
		if err := tx.CreateEvent(ctx, e); err != nil {
			return err
		}
		return tx.CreateTiers(ctx, e.Tiers)
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.Logger.Info("EVENT", fmt.Sprintf("Event %s created by %s with %d tiers", e.ID, organizerID, len(e.Tiers)))
	return e, nil
}

func newTiers(eventID string, in []models.TierInput, now time.Time) []*models.TicketTier {
	tiers := make([]*models.TicketTier, 0, len(in))
	for _, t := range in {
		tiers = append(tiers, &models.TicketTier{
			ID:          uuid.NewString(),
			EventID:     eventID,
			Name:        strings.TrimSpace(t.Name),
			Description: t.Description,
			Price:       t.Price,
			Quantity:    t.Quantity,
			MaxPerUser:  t.MaxPerUser,
			CreatedAt:   now,
		})
	}
	return tiers
}

// Update edits a draft event.
func (s *EventService) Update(ctx context.Context, id string, v Viewer, req models.UpdateEventRequest) (*models.Event, error) {
	e, err := s.update(ctx, id, v, req)
	s.Audit.Record(ctx, audit.Entry{Action: "event.update", EntityType: "event", EntityID: id, Err: err})
	return e, err
}

func (s *EventService) update(ctx context.Context, id string, v Viewer, req models.UpdateEventRequest) (*models.Event, error) {
	e, err := s.DB.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.owns(e) {
		return nil, apperr.Forbidden("not the organizer of this event")
	}
	if e.Status != models.EventDraft {
		return nil, apperr.ErrInvalidState.WithMessage("only draft events can be edited, this one is %s", e.Status)
	}

	now := s.now()
	var cols []string
	if req.Title != nil {
		e.Title = strings.TrimSpace(*req.Title)
		cols = append(cols, "title")
	}
	if req.Description != nil {
		e.Description = *req.Description
		cols = append(cols, "description")
	}
	if req.Category != nil {
		e.Category = strings.ToLower(*req.Category)
		cols = append(cols, "category")
	}
	if req.Artist != nil {
		e.Artist = *req.Artist
		cols = append(cols, "artist")
	}
	if req.Venue != nil {
		e.Venue = req.Venue.Venue()
		cols = append(cols, "venue_name", "venue_address", "venue_city", "venue_state", "venue_country")
	}
	if req.EventDate != nil {
		if !req.EventDate.After(now) {
			return nil, apperr.Validation("eventDate must be in the future")
		}
		e.EventDate = req.EventDate.UTC()
		cols = append(cols, "event_date")
	}
	if req.BannerImage != nil {
		e.BannerImage = *req.BannerImage
		cols = append(cols, "banner_image")
	}
	e.UpdatedAt = now

	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx *db.DB) error {
		ok, err := tx.UpdateDraft(ctx, e, cols...)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInvalidState.WithMessage("event %s is no longer a draft", id)
		}
		if req.Tiers != nil {
			e.Tiers = newTiers(e.ID, req.Tiers, now)
			return tx.ReplaceTiers(ctx, e.ID, e.Tiers)
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Internal(err)
		}
		return nil, err
	}
	return e, nil
}

// ---------------- LIFECYCLE ----------------

// Publish opens a draft for sale. An event without tiers has nothing to sell.
func (s *EventService) Publish(ctx context.Context, id string, v Viewer) (*models.Event, error) {
	e, err := s.transition(ctx, id, v, models.EventPublished, func(ctx context.Context, e *models.Event) error {
		n, err := s.DB.TierCount(ctx, e.ID)
		if err != nil {
			return apperr.Internal(err)
		}
		if n == 0 {
			return apperr.Validation("add at least one ticket tier before publishing")
		}
		return nil
	})
	s.record(ctx, "event.publish", id, err)
	return e, err
}

// Cancel stops sales for good and releases every reservation still held.
// Tickets already paid for are left for refunds to handle.
func (s *EventService) Cancel(ctx context.Context, id string, v Viewer) (*models.Event, error) {
	e, err := s.transition(ctx, id, v, models.EventCancelled, nil)
	if err == nil {
		released, rerr := s.Orders.ReleaseEventReservations(ctx, id, "event cancelled")
		if rerr != nil {
			s.Logger.Error("EVENT", fmt.Sprintf("Event %s cancelled but releasing reservations failed: %v", id, rerr))
		} else if released > 0 {
			s.Logger.Info("EVENT", fmt.Sprintf("Released %d reservations of cancelled event %s", released, id))
		}
	}
	s.record(ctx, "event.cancel", id, err)
	return e, err
}

func (s *EventService) Complete(ctx context.Context, id string, v Viewer) (*models.Event, error) {
	e, err := s.transition(ctx, id, v, models.EventCompleted, nil)
	s.record(ctx, "event.complete", id, err)
	return e, err
}

func (s *EventService) record(ctx context.Context, action, id string, err error) {
	s.Audit.Record(ctx, audit.Entry{Action: action, EntityType: "event", EntityID: id, Err: err})
}

func (s *EventService) transition(ctx context.Context, id string, v Viewer, to string, check func(ctx context.Context, e *models.Event) error) (*models.Event, error) {
	e, err := s.DB.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.owns(e) {
		return nil, apperr.Forbidden("not the organizer of this event")
	}
	if !models.CanTransition(e.Status, to) {
		return nil, apperr.ErrInvalidState.WithMessage("event is %s and cannot become %s", e.Status, to)
	}
	if check != nil {
		if err := check(ctx, e); err != nil {
			return nil, err
		}
	}

	now := s.now()
	ok, err := s.DB.SetStatus(ctx, id, []string{e.Status}, to, now)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.ErrInvalidState.WithMessage("event %s changed concurrently, reload and retry", id)
	}
	s.Logger.Info("EVENT", fmt.Sprintf("Event %s: %s -> %s", id, e.Status, to))
	e.Status = to
	e.UpdatedAt = now
	return e, nil
}

// CompletePast marks published events as completed once their date is more
// than grace in the past.
func (s *EventService) CompletePast(ctx context.Context, grace time.Duration) (int, error) {
	now := s.now()
	ids, err := s.DB.PastPublished(ctx, now.Add(-grace), 100)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		ok, err := s.DB.SetStatus(ctx, id, []string{models.EventPublished}, models.EventCompleted, now)
		if err != nil {
			return done, err
		}
		if ok {
			done++
			s.Audit.Record(ctx, audit.Entry{Actor: systemActor(), Action: "event.complete", EntityType: "event", EntityID: id})
		}
	}
	return done, nil
}

// RunCompleter calls CompletePast every interval until ctx is cancelled.
func (s *EventService) RunCompleter(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CompletePast(ctx, grace)
			if err != nil {
				s.Logger.Error("EVENT", fmt.Sprintf("Completing past events failed: %v", err))
			} else if n > 0 {
				s.Logger.Info("EVENT", fmt.Sprintf("Marked %d past events completed", n))
			}
		}
	}
}

func systemActor() *audit.Actor {
	a := audit.System("event-completer")
	return &a
}

// ---------------- READS ----------------

// Get returns an event with its tiers. Drafts are only visible to their
// organizer and admins.
func (s *EventService) Get(ctx context.Context, id string, v Viewer) (*models.Event, error) {
	e, err := s.DB.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status == models.EventDraft && !v.owns(e) {
		return nil, apperr.NotFound("event")
	}
	return e, nil
}

// ListPublished is the public catalog.
func (s *EventService) ListPublished(ctx context.Context, f models.EventFilter, page utils.Page) (utils.Paginated, error) {
	f.Status = models.EventPublished
	f.OrganizerID = ""
	events, total, err := s.DB.ListEvents(ctx, f, page.Limit, page.Offset())
	if err != nil {
		return utils.Paginated{}, apperr.Internal(err)
	}
	return utils.NewPaginated(events, total, page), nil
}

// OrganizerEvents lists every event of one organizer in any status.
func (s *EventService) OrganizerEvents(ctx context.Context, organizerID string, page utils.Page) ([]models.Event, int, error) {
	events, total, err := s.DB.ListEvents(ctx, models.EventFilter{OrganizerID: organizerID}, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return events, total, nil
}
