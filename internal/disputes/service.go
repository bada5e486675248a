// Package disputes handles buyer complaints about events and orders and
// their resolution by admins, including refunds through the order service.
package disputes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/disputes/db"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

// UrgentAge is how long a dispute may stay open before it is counted as urgent.
const UrgentAge = 48 * time.Hour

type Refunder interface {
	RefundOrder(ctx context.Context, orderID string, amount int64, reason string) (*models.Refund, error)
}

type Viewer struct {
	UserID string
	Role   string
}

func (v Viewer) admin() bool { return v.Role == models.RoleAdmin }

var transitions = map[string][]string{
	models.DisputeOpen:          {models.DisputeInvestigating, models.DisputeEscalated},
	models.DisputeInvestigating: {models.DisputePendingUser, models.DisputeEscalated},
	models.DisputePendingUser:   {models.DisputeInvestigating, models.DisputeEscalated},
	models.DisputeEscalated:     {models.DisputeInvestigating},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type DisputeService struct {
	DB      *db.DB
	Refunds Refunder
	Audit   *audit.Recorder
	Logger  *logger.Logger
	now     func() time.Time
}

func NewDisputeService(d *db.DB, refunds Refunder, rec *audit.Recorder, log *logger.Logger) *DisputeService {
	return &DisputeService{
		DB:      d,
		Refunds: refunds,
		Audit:   rec,
		Logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a dispute for the buyer. When an order is named it must belong
// to the buyer and to the event; the disputed amount defaults to the order
// amount and may not exceed it.
func (s *DisputeService) Create(ctx context.Context, userID string, req models.CreateDisputeRequest) (*models.Dispute, error) {
	d, err := s.create(ctx, userID, req)
	entry := audit.Entry{Action: "dispute.create", EntityType: "dispute", EntityName: req.Reason, Err: err}
	if d != nil {
		entry.EntityID = d.ID
		entry.Diff = map[string]interface{}{"orderId": d.OrderID, "amount": d.Amount}
	}
	s.Audit.Record(ctx, entry)
	return d, err
}

func (s *DisputeService) create(ctx context.Context, userID string, req models.CreateDisputeRequest) (*models.Dispute, error) {
	amount := req.Amount
	if req.OrderID != "" {
		o, err := s.DB.GetOrder(ctx, req.OrderID)
		if err != nil {
			return nil, err
		}
		if o.BuyerID != userID {
			return nil, apperr.Forbidden("order %s does not belong to you", o.ID)
		}
		if o.EventID != req.EventID {
			return nil, apperr.Validation("order %s is not for event %s", o.ID, req.EventID)
		}
		if amount == 0 {
			amount = o.Amount
		}
		if amount > o.Amount {
			return nil, apperr.Validation("amount cannot exceed the order amount of %d", o.Amount)
		}
	} else {
		ok, err := s.DB.EventExists(ctx, req.EventID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if !ok {
			return nil, apperr.NotFound("event")
		}
		if amount != 0 {
			return nil, apperr.Validation("amount requires an orderId")
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	now := s.now()
	d := &models.Dispute{
		ID:          uuid.NewString(),
		UserID:      userID,
		EventID:     req.EventID,
		OrderID:     req.OrderID,
		Reason:      strings.TrimSpace(req.Reason),
		Description: req.Description,
		Amount:      amount,
		Status:      models.DisputeOpen,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.DB.Create(ctx, d); err != nil {
		return nil, apperr.Internal(err)
	}
	s.Logger.Info("DISPUTE", fmt.Sprintf("Dispute %s opened by %s on event %s", d.ID, userID, d.EventID))
	return d, nil
}

// Get returns a dispute to an admin or to the buyer who opened it.
func (s *DisputeService) Get(ctx context.Context, id string, v Viewer) (*models.Dispute, error) {
	d, err := s.DB.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.admin() && d.UserID != v.UserID {
		return nil, apperr.NotFound("dispute")
	}
	return d, nil
}

func (s *DisputeService) List(ctx context.Context, f models.DisputeFilter, v Viewer, page utils.Page) (utils.Paginated, error) {
	if !v.admin() {
		f.UserID = v.UserID
	}
	items, total, err := s.DB.List(ctx, f, page.Limit, page.Offset())
	if err != nil {
		return utils.Paginated{}, apperr.Internal(err)
	}
	return utils.NewPaginated(items, total, page), nil
}

func (s *DisputeService) Stats(ctx context.Context) (*models.DisputeStats, error) {
	counts, err := s.DB.StatusCounts(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	urgent, err := s.DB.OpenOlderThan(ctx, s.now().Add(-UrgentAge))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	st := &models.DisputeStats{
		OpenCount:          counts[models.DisputeOpen],
		InvestigatingCount: counts[models.DisputeInvestigating],
		PendingUserCount:   counts[models.DisputePendingUser],
		EscalatedCount:     counts[models.DisputeEscalated],
		ResolvedCount:      counts[models.DisputeResolved],
		RejectedCount:      counts[models.DisputeRejected],
		UrgentDisputes:     urgent,
	}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// UpdateStatus moves a dispute between the working states.
func (s *DisputeService) UpdateStatus(ctx context.Context, id string, req models.UpdateDisputeRequest) (*models.Dispute, error) {
	d, err := s.updateStatus(ctx, id, req)
	entry := audit.Entry{Action: "dispute.update", EntityType: "dispute", EntityID: id, Err: err,
		Diff: map[string]interface{}{"status": req.Status, "priority": req.Priority}}
	s.Audit.Record(ctx, entry)
	return d, err
}

func (s *DisputeService) updateStatus(ctx context.Context, id string, req models.UpdateDisputeRequest) (*models.Dispute, error) {
	d, err := s.DB.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(d.Status, req.Status) {
		return nil, apperr.ErrInvalidState.WithMessage("dispute cannot move from %s to %s", d.Status, req.Status)
	}
	ok, err := s.DB.SetStatus(ctx, id, d.Status, req.Status, req.Priority, s.now())
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.ErrInvalidState.WithMessage("dispute %s changed concurrently", id)
	}
	return s.DB.Get(ctx, id)
}

// Resolve closes a dispute. Refund resolutions claim the dispute first and
// then refund the order, so each dispute refunds at most once; a failed
// refund puts the dispute back to its previous status.
func (s *DisputeService) Resolve(ctx context.Context, id, adminID string, req models.ResolveDisputeRequest) (*models.Dispute, error) {
	d, err := s.resolve(ctx, id, adminID, req)
	entry := audit.Entry{Action: "dispute.resolve", EntityType: "dispute", EntityID: id, Err: err,
		Diff: map[string]interface{}{"resolutionType": req.ResolutionType, "refundAmount": req.RefundAmount}}
	if req.Refunds() {
		entry.Severity = models.SeverityWarning
	}
	s.Audit.Record(ctx, entry)
	return d, err
}

func (s *DisputeService) resolve(ctx context.Context, id, adminID string, req models.ResolveDisputeRequest) (*models.Dispute, error) {
	d, err := s.DB.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Terminal() {
		return nil, apperr.ErrInvalidState.WithMessage("dispute %s is already %s", id, d.Status)
	}

	amount := req.RefundAmount
	if req.Refunds() {
		if d.OrderID == "" {
			return nil, apperr.Validation("dispute %s has no order to refund", id)
		}
		if req.ResolutionType == models.ResolutionFullRefund && amount == 0 {
			amount = d.Amount
		}
		if amount <= 0 {
			return nil, apperr.Validation("refundAmount is required for %s", req.ResolutionType)
		}
		if amount > d.Amount {
			return nil, apperr.Validation("refundAmount cannot exceed the disputed amount of %d", d.Amount)
		}
	} else {
		amount = 0
	}

	from := d.Status
	now := s.now()
	d.Status = models.DisputeResolved
	d.ResolutionType = req.ResolutionType
	d.ResolutionAmount = amount
	d.ResolutionNotes = req.Notes
	d.HandledBy = adminID
	d.ResolvedAt = &now
	d.UpdatedAt = now
	ok, err := s.DB.Close(ctx, d, from)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.ErrInvalidState.WithMessage("dispute %s changed concurrently", id)
	}

	if req.Refunds() {
		refund, err := s.Refunds.RefundOrder(ctx, d.OrderID, amount, "dispute "+d.ID)
		if err != nil {
			if rerr := s.DB.Reopen(ctx, id, from, s.now()); rerr != nil {
				s.Logger.Error("DISPUTE", fmt.Sprintf("Failed to reopen dispute %s after refund error: %v", id, rerr))
			}
			return nil, err
		}
		if err := s.DB.SetRefund(ctx, id, refund.ID); err != nil {
			s.Logger.Error("DISPUTE", fmt.Sprintf("Refund %s issued but not linked to dispute %s: %v", refund.ID, id, err))
		}
		d.RefundID = refund.ID
	}
	s.Logger.Info("DISPUTE", fmt.Sprintf("Dispute %s resolved by %s with %s", id, adminID, req.ResolutionType))
	return d, nil
}

func (s *DisputeService) Reject(ctx context.Context, id, adminID string, req models.RejectDisputeRequest) (*models.Dispute, error) {
	d, err := s.reject(ctx, id, adminID, req)
	s.Audit.Record(ctx, audit.Entry{Action: "dispute.reject", EntityType: "dispute", EntityID: id, Err: err,
		Diff: map[string]interface{}{"reason": req.Reason}})
	return d, err
}

func (s *DisputeService) reject(ctx context.Context, id, adminID string, req models.RejectDisputeRequest) (*models.Dispute, error) {
	d, err := s.DB.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Terminal() {
		return nil, apperr.ErrInvalidState.WithMessage("dispute %s is already %s", id, d.Status)
	}
	from := d.Status
	now := s.now()
	d.Status = models.DisputeRejected
	d.RejectionReason = req.Reason
	d.HandledBy = adminID
	d.ResolvedAt = &now
	d.UpdatedAt = now
	ok, err := s.DB.Close(ctx, d, from)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.ErrInvalidState.WithMessage("dispute %s changed concurrently", id)
	}
	return d, nil
}
