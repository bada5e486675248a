package tickets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/metrics"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/tickets/db"
	qr "ms-marketplace/internal/tickets/qr_genrator"
	"ms-marketplace/internal/tickets/template"
	"ms-marketplace/internal/utils"
)

const qrImageSize = 320

// TicketService issues tickets for paid orders and serves them back to their
// owners.
type TicketService struct {
	DB        *db.DB
	QR        *qr.QRGenerator
	PDF       *template.TicketPDFGenerator
	Audit     *audit.Recorder
	Publisher kafka.Publisher
	VoidTopic string
	Logger    *logger.Logger
	CodeBytes int
	now       func() time.Time
}

func NewTicketService(d *db.DB, qrGen *qr.QRGenerator, pdf *template.TicketPDFGenerator, rec *audit.Recorder,
	pub kafka.Publisher, voidTopic string, log *logger.Logger, codeBytes int) *TicketService {
	return &TicketService{
		DB:        d,
		QR:        qrGen,
		PDF:       pdf,
		Audit:     rec,
		Publisher: pub,
		VoidTopic: voidTopic,
		Logger:    log,
		CodeBytes: codeBytes,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates one ticket per purchased unit inside tx. A second call for
// the same order returns the tickets already issued, so a retried
// confirmation never duplicates them.
func (s *TicketService) Issue(ctx context.Context, tx bun.IDB, o *models.Order) ([]models.Ticket, error) {
	d := s.DB.WithTx(tx)

	claimed, err := d.MarkOrderIssued(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return d.TicketsForOrder(ctx, o.ID)
	}

	tickets, err := s.build(ctx, d, o, nil)
	if err != nil {
		return nil, err
	}
	if err := d.InsertTickets(ctx, tickets); err != nil {
		return nil, err
	}

	o.Issued = true
	metrics.TicketsIssued(len(tickets))
	s.Logger.LogOrder("ISSUED", o.ID, fmt.Sprintf("%d tickets issued", len(tickets)))
	return tickets, nil
}

// build creates the tickets for every sequence number of o not in have.
func (s *TicketService) build(ctx context.Context, d *db.DB, o *models.Order, have map[int]bool) ([]models.Ticket, error) {
	tierName, err := d.TierName(ctx, o.TierID)
	if err != nil {
		return nil, err
	}
	holder, err := d.HolderName(ctx, o.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("holder name for %s: %w", o.BuyerID, err)
	}

	now := s.now()
	tickets := make([]models.Ticket, 0, o.Quantity)
	for seq := 1; seq <= o.Quantity; seq++ {
		if have[seq] {
			continue
		}
		code, err := utils.GenerateTicketCode(s.CodeBytes)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, models.Ticket{
			ID:              uuid.NewString(),
			Code:            code,
			OrderID:         o.ID,
			Seq:             seq,
			EventID:         o.EventID,
			TierID:          o.TierID,
			TierName:        tierName,
			OwnerID:         o.BuyerID,
			HolderName:      holder,
			PriceAtPurchase: o.UnitPrice,
			Status:          models.TicketValid,
			IssuedAt:        now,
		})
	}
	return tickets, nil
}

func (s *TicketService) TicketsForOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	return s.DB.TicketsForOrder(ctx, orderID)
}

// Repair issues whatever tickets a completed order is missing and returns
// how many were created.
func (s *TicketService) Repair(ctx context.Context, orderID string) (int, error) {
	var created int
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx *db.DB) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderCompleted {
			return apperr.ErrInvalidState.WithMessage("order %s is not completed", orderID)
		}

		existing, err := tx.TicketsForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		have := make(map[int]bool, len(existing))
		for _, t := range existing {
			have[t.Seq] = true
		}

		missing, err := s.build(ctx, tx, o, have)
		if err != nil {
			return err
		}
		if created, err = tx.InsertMissingTickets(ctx, missing); err != nil {
			return err
		}
		_, err = tx.MarkOrderIssued(ctx, orderID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		metrics.TicketsIssued(created)
		s.Logger.LogOrder("REPAIRED", orderID, fmt.Sprintf("%d missing tickets issued", created))
	}
	return created, nil
}

// ---------------- READS ----------------

func (s *TicketService) MyTickets(ctx context.Context, ownerID string, p utils.Page) (utils.Paginated, error) {
	views, total, err := s.DB.ListByOwner(ctx, ownerID, p.Limit, p.Offset())
	if err != nil {
		return utils.Paginated{}, err
	}
	for i := range views {
		views[i].QRPayload = s.QR.Payload(views[i].Code)
	}
	return utils.NewPaginated(views, total, p), nil
}

// GetTicket returns the ticket to its owner or an admin. Anyone else gets
// NotFound so ticket ids cannot be enumerated.
func (s *TicketService) GetTicket(ctx context.Context, ticketID, viewerID, role string) (*models.TicketView, error) {
	v, err := s.DB.GetTicketView(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if v.OwnerID != viewerID && role != models.RoleAdmin {
		return nil, apperr.NotFound("ticket")
	}
	v.QRPayload = s.QR.Payload(v.Code)
	return v, nil
}

func (s *TicketService) QRCode(ctx context.Context, ticketID, viewerID, role string) ([]byte, error) {
	v, err := s.GetTicket(ctx, ticketID, viewerID, role)
	if err != nil {
		return nil, err
	}
	png, err := s.QR.GeneratePNG(v.Code, qrImageSize)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("render qr for %s: %w", ticketID, err))
	}
	return png, nil
}

func (s *TicketService) PDFTicket(ctx context.Context, ticketID, viewerID, role string) ([]byte, error) {
	v, err := s.GetTicket(ctx, ticketID, viewerID, role)
	if err != nil {
		return nil, err
	}
	png, err := s.QR.GeneratePNG(v.Code, qrImageSize)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("render qr for %s: %w", ticketID, err))
	}
	doc, err := s.PDF.Generate(*v, v.Currency, png)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("render pdf for %s: %w", ticketID, err))
	}
	return doc, nil
}

// ---------------- VOID ----------------

type VoidedTicket struct {
	TicketID string    `json:"ticketId"`
	EventID  string    `json:"eventId"`
	OrderID  string    `json:"orderId"`
	Reason   string    `json:"reason"`
	VoidedBy string    `json:"voidedBy"`
	VoidedAt time.Time `json:"voidedAt"`
}

// Void revokes a valid ticket. Only admins and the organizer of the ticket's
// event may do so; used and void are terminal.
func (s *TicketService) Void(ctx context.Context, ticketID, actorID, role, reason string) (*models.TicketView, error) {
	v, err := s.void(ctx, ticketID, actorID, role, reason)
	entry := audit.Entry{
		Action:     "ticket.void",
		EntityType: "ticket",
		EntityID:   ticketID,
		Err:        err,
		Diff:       map[string]interface{}{"reason": reason},
	}
	if v != nil {
		entry.EntityName = v.EventTitle + " / " + v.TierName
	}
	s.Audit.Record(ctx, entry)
	if err != nil {
		return nil, err
	}

	if s.Publisher != nil && s.VoidTopic != "" {
		msg := VoidedTicket{TicketID: v.ID, EventID: v.EventID, OrderID: v.OrderID, Reason: reason, VoidedBy: actorID, VoidedAt: *v.VoidedAt}
		if err := kafka.PublishJSON(context.WithoutCancel(ctx), s.Publisher, s.VoidTopic, v.EventID, msg); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish void of ticket %s: %v", v.ID, err))
		}
	}
	return v, nil
}

func (s *TicketService) void(ctx context.Context, ticketID, actorID, role, reason string) (*models.TicketView, error) {
	v, err := s.DB.GetTicketView(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && v.OrganizerID != actorID {
		return nil, apperr.ErrForbidden.WithMessage("only the event organizer or an admin can void this ticket")
	}

	at := s.now()
	won, err := s.DB.Void(ctx, ticketID, actorID, reason, at)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.DB.GetTicketView(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.TicketVoid {
			return nil, apperr.ErrVoid
		}
		return nil, apperr.ErrInvalidState.WithMessage("a %s ticket cannot be voided", current.Status)
	}

	v.Status = models.TicketVoid
	v.VoidedAt = &at
	v.VoidedBy = actorID
	v.VoidReason = reason
	s.Logger.LogScan("VOIDED", ticketID, reason)
	return v, nil
}
