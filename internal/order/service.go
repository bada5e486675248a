package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/metrics"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order/db"
	"ms-marketplace/internal/payment"
	"ms-marketplace/internal/utils"
)

const (
	confirmLockTTL  = 30 * time.Second
	confirmLockWait = 5 * time.Second
	sweepBatch      = 500
)

// Holds is the Redis side of a reservation: a TTL key per held order and
// short-lived locks that serialize payment confirmation per reference.
type Holds interface {
	HoldReservation(ctx context.Context, orderID string, ttl time.Duration) error
	ReleaseHold(ctx context.Context, orderID string) error
	WaitLock(ctx context.Context, name string, ttl, wait time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// TicketIssuer creates tickets inside the caller's database transaction.
type TicketIssuer interface {
	Issue(ctx context.Context, tx bun.IDB, o *models.Order) ([]models.Ticket, error)
	TicketsForOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// CheckoutNotifier pushes paid orders to live organizer dashboards.
type CheckoutNotifier interface {
	EmitCheckout(organizerID, eventID string, data interface{})
}

type Options struct {
	Currency           string
	ReservationTTL     time.Duration
	MaxRetries         int
	PlatformFeePercent int64
	Topics             config.TopicConfig
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Currency:           cfg.Payment.Currency,
		ReservationTTL:     cfg.Payment.ReservationTTL,
		MaxRetries:         cfg.Payment.MaxRetries,
		PlatformFeePercent: cfg.Payment.PlatformFeePercent,
		Topics:             cfg.Kafka.Topics,
	}
}

type OrderService struct {
	DB        *db.DB
	Holds     Holds
	Gateway   payment.Gateway
	Issuer    TicketIssuer
	Users     UserLookup
	Publisher kafka.Publisher
	Notifier  CheckoutNotifier
	Audit     *audit.Recorder
	Logger    *logger.Logger
	Opts      Options
	now       func() time.Time
}

func NewOrderService(d *db.DB, holds Holds, gw payment.Gateway, issuer TicketIssuer, users UserLookup,
	pub kafka.Publisher, rec *audit.Recorder, log *logger.Logger, opts Options) *OrderService {
	return &OrderService{
		DB:        d,
		Holds:     holds,
		Gateway:   gw,
		Issuer:    issuer,
		Users:     users,
		Publisher: pub,
		Audit:     rec,
		Logger:    log,
		Opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ---------------- ORDERS ----------------

// CreateOrder reserves inventory and opens a checkout for it.
func (s *OrderService) CreateOrder(ctx context.Context, buyerID string, req models.PurchaseRequest) (*models.CheckoutResponse, error) {
	resp, order, err := s.createOrder(ctx, buyerID, req)
	entry := audit.Entry{
		Action:     "order.create",
		EntityType: "order",
		Err:        err,
		Diff:       map[string]interface{}{"eventId": req.EventID, "tierId": req.TierID, "quantity": req.Quantity},
	}
	if order != nil {
		entry.EntityID = order.ID
		entry.Diff["amount"] = order.Amount
	}
	s.Audit.Record(ctx, entry)

	if err != nil {
		switch {
		case apperr.KindOf(err) == apperr.KindConflict || apperr.KindOf(err) == apperr.KindValidation:
			metrics.OrderOutcome("rejected")
		default:
			metrics.OrderOutcome("error")
		}
		return nil, err
	}
	metrics.OrderOutcome("created")
	s.publish(ctx, s.Opts.Topics.OrderCreated, order, "")
	return resp, nil
}

func (s *OrderService) createOrder(ctx context.Context, buyerID string, req models.PurchaseRequest) (*models.CheckoutResponse, *models.Order, error) {
	if req.Quantity < 1 {
		return nil, nil, apperr.Validation("quantity must be at least 1")
	}

	event, err := s.DB.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	if event.Status != models.EventPublished {
		return nil, nil, apperr.Conflict("EVENT_NOT_ON_SALE", "event is not on sale")
	}
	if event.EventDate.Before(startOfDay(now)) {
		return nil, nil, apperr.Conflict("EVENT_ENDED", "event has already taken place")
	}

	tier, err := s.DB.GetTier(ctx, req.TierID)
	if err != nil {
		return nil, nil, err
	}
	if tier.EventID != event.ID {
		return nil, nil, apperr.Validation("ticket tier does not belong to this event")
	}

	if tier.MaxPerUser > 0 && req.Quantity > tier.MaxPerUser {
		return nil, nil, apperr.ErrLimitExceeded.WithMessage("at most %d tickets per user for %s", tier.MaxPerUser, tier.Name)
	}

	currency := event.Currency
	if currency == "" {
		currency = s.Opts.Currency
	}
	order := &models.Order{
		ID:                   uuid.NewString(),
		BuyerID:              buyerID,
		EventID:              event.ID,
		TierID:               tier.ID,
		Quantity:             req.Quantity,
		UnitPrice:            tier.Price,
		Amount:               tier.Price * int64(req.Quantity),
		Currency:             currency,
		Status:               models.OrderPending,
		Reference:            utils.GenerateReference("TXN"),
		MaxRetries:           s.Opts.MaxRetries,
		ReservationState:     models.ReservationHeld,
		ReservationExpiresAt: now.Add(s.Opts.ReservationTTL),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	txn := s.newTransaction(order, order.Reference, 0, now)

	err = s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		if err := checkBuyerLimit(ctx, tx, buyerID, tier, order.Quantity); err != nil {
			return err
		}
		ok, err := tx.ReserveTier(ctx, tier.ID, order.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrCapacityExceeded
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, nil, apperr.Internal(err)
		}
		s.Logger.LogOrder("REJECTED", req.TierID, err.Error())
		return nil, nil, err
	}
	s.Logger.LogOrder("RESERVED", order.ID, fmt.Sprintf("%d x %s held until %s", order.Quantity, tier.Name, order.ReservationExpiresAt.Format(time.RFC3339)))

	s.hold(ctx, order)

	checkout, err := s.openCheckout(ctx, order, txn, event, tier.Name)
	if err != nil {
		s.abandon(ctx, order, txn, "payment initialization failed")
		return nil, order, err
	}

	return &models.CheckoutResponse{
		OrderID:    order.ID,
		Reference:  checkout.Reference,
		PaymentURL: checkout.AuthorizationURL,
		Amount:     order.Amount,
		Currency:   order.Currency,
		ExpiresAt:  order.ReservationExpiresAt,
	}, order, nil
}

// checkBuyerLimit enforces owned + held + q <= maxPerUser. It must run inside
// the transaction that reserves q so concurrent checkouts by the same buyer
// see each other's orders.
func checkBuyerLimit(ctx context.Context, tx *db.DB, buyerID string, tier *models.TicketTier, q int) error {
	if tier.MaxPerUser <= 0 {
		return nil
	}
	if err := tx.LockBuyer(ctx, buyerID); err != nil {
		return err
	}
	owned, err := tx.PurchasedQuantity(ctx, buyerID, tier.ID)
	if err != nil {
		return err
	}
	if owned+q > tier.MaxPerUser {
		return apperr.ErrLimitExceeded.WithMessage("you already hold %d of %d allowed tickets for %s", owned, tier.MaxPerUser, tier.Name)
	}
	return nil
}

func (s *OrderService) newTransaction(o *models.Order, reference string, retry int, now time.Time) *models.Transaction {
	return &models.Transaction{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		EventID:    o.EventID,
		Reference:  reference,
		Gateway:    s.Gateway.Name(),
		Amount:     o.Amount,
		Currency:   o.Currency,
		Status:     models.TxInitiated,
		RetryCount: retry,
		MaxRetries: o.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// hold sets the Redis TTL key. Losing it only delays release until the next
// sweep, so failures are logged and ignored.
func (s *OrderService) hold(ctx context.Context, o *models.Order) {
	if err := s.Holds.HoldReservation(ctx, o.ID, o.ReservationExpiresAt.Sub(s.now())); err != nil {
		s.Logger.Warn("ORDER", fmt.Sprintf("Failed to set hold key for order %s: %v", o.ID, err))
	}
}

func (s *OrderService) releaseHold(ctx context.Context, orderID string) {
	if err := s.Holds.ReleaseHold(ctx, orderID); err != nil {
		s.Logger.Warn("ORDER", fmt.Sprintf("Failed to clear hold key for order %s: %v", orderID, err))
	}
}

// openCheckout asks the gateway for a hosted payment page and stores the
// reference it hands back.
func (s *OrderService) openCheckout(ctx context.Context, o *models.Order, txn *models.Transaction, event *models.Event, tierName string) (*payment.Checkout, error) {
	req := payment.CheckoutRequest{
		Reference:   txn.Reference,
		OrderID:     o.ID,
		Description: fmt.Sprintf("%s - %s", event.Title, tierName),
		UnitAmount:  o.UnitPrice,
		Quantity:    o.Quantity,
		Amount:      o.Amount,
		Currency:    o.Currency,
		ExpiresAt:   o.ReservationExpiresAt,
	}
	if buyer, err := s.Users.GetByID(ctx, o.BuyerID); err == nil {
		req.Email = buyer.Email
	}
	if organizer, err := s.Users.GetByID(ctx, event.OrganizerID); err == nil &&
		organizer.OrganizerProfile.PayoutActive && organizer.OrganizerProfile.SubaccountID != "" {
		req.SubaccountID = organizer.OrganizerProfile.SubaccountID
		req.PlatformFee = utils.PercentOf(o.Amount, s.Opts.PlatformFeePercent)
	}

	checkout, err := s.Gateway.Initialize(ctx, req)
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Checkout for order %s failed: %v", o.ID, err))
		return nil, err
	}

	if err := s.DB.UpdateTransactionCheckout(ctx, txn.ID, checkout.Reference, checkout.AuthorizationURL); err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.DB.UpdateOrderCheckout(ctx, o.ID, checkout.Reference, checkout.AuthorizationURL); err != nil {
		return nil, apperr.Internal(err)
	}
	txn.Reference, txn.AuthorizationURL = checkout.Reference, checkout.AuthorizationURL
	o.Reference, o.PaymentURL = checkout.Reference, checkout.AuthorizationURL
	return checkout, nil
}

// abandon undoes a reservation whose checkout could not be opened.
func (s *OrderService) abandon(ctx context.Context, o *models.Order, txn *models.Transaction, reason string) {
	ctx = context.WithoutCancel(ctx)
	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		if _, err := tx.FailTransaction(ctx, txn.ID, reason); err != nil {
			return err
		}
		if err := s.releaseReservation(ctx, tx, o); err != nil {
			return err
		}
		_, err := tx.MarkOrderFailed(ctx, o.ID, reason)
		return err
	})
	if err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to roll back order %s: %v", o.ID, err))
		return
	}
	s.releaseHold(ctx, o.ID)
	metrics.ReservationReleased("checkout_failed")
	s.Logger.LogOrder("ABANDONED", o.ID, reason)
}

// releaseReservation returns held inventory. It is a no-op when the
// reservation was already committed or released.
func (s *OrderService) releaseReservation(ctx context.Context, tx *db.DB, o *models.Order) error {
	ok, err := tx.ReleaseReservation(ctx, o.ID)
	if err != nil || !ok {
		return err
	}
	released, err := tx.ReleaseTier(ctx, o.TierID, o.Quantity)
	if err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("tier %s has fewer than %d reserved tickets", o.TierID, o.Quantity)
	}
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.OrderWithTickets, error) {
	o, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.Issuer.TicketsForOrder(ctx, o.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &models.OrderWithTickets{Order: *o, Tickets: tickets}, nil
}

// GetOrderForBuyer returns the order only when buyerID owns it.
func (s *OrderService) GetOrderForBuyer(ctx context.Context, orderID, buyerID string) (*models.OrderWithTickets, error) {
	out, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if out.Order.BuyerID != buyerID {
		return nil, apperr.NotFound("order")
	}
	return out, nil
}

func (s *OrderService) ListBuyerOrders(ctx context.Context, buyerID string, page utils.Page) (utils.Paginated, error) {
	orders, total, err := s.DB.ListOrdersByBuyer(ctx, buyerID, page.Limit, page.Offset())
	if err != nil {
		return utils.Paginated{}, apperr.Internal(err)
	}
	return utils.NewPaginated(orders, total, page), nil
}

func (s *OrderService) ListTransactions(ctx context.Context, f models.TransactionFilter, page utils.Page) (utils.Paginated, error) {
	txs, total, err := s.DB.ListTransactions(ctx, f, page.Limit, page.Offset())
	if err != nil {
		return utils.Paginated{}, apperr.Internal(err)
	}
	return utils.NewPaginated(txs, total, page), nil
}

func (s *OrderService) TransactionStats(ctx context.Context, f models.TransactionFilter) (*models.TransactionStats, error) {
	stats, err := s.DB.TransactionStats(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return stats, nil
}

func (s *OrderService) publish(ctx context.Context, topic string, o *models.Order, reason string) {
	if topic == "" || s.Publisher == nil {
		return
	}
	ev := models.OrderEvent{
		OrderID:    o.ID,
		EventID:    o.EventID,
		TierID:     o.TierID,
		BuyerID:    o.BuyerID,
		Quantity:   o.Quantity,
		Amount:     o.Amount,
		Status:     o.Status,
		Reason:     reason,
		OccurredAt: s.now(),
	}
	if err := kafka.PublishJSON(context.WithoutCancel(ctx), s.Publisher, topic, o.ID, ev); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s for order %s: %v", topic, o.ID, err))
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
