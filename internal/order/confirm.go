package order

import (
	"context"
	"errors"
	"fmt"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/metrics"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order/db"
	"ms-marketplace/internal/payment"
)

var (
	errUnfulfillable  = errors.New("capacity gone before payment settled")
	errAmountMismatch = apperr.New(apperr.KindConflict, "AMOUNT_MISMATCH", "payment amount does not match the order")
)

// ConfirmPayment settles the transaction behind reference. It is safe to call
// any number of times, from the buyer's redirect and from gateway webhooks
// alike: duplicates are serialized by a per-reference lock and a settled
// transaction returns the stored outcome.
func (s *OrderService) ConfirmPayment(ctx context.Context, reference string) (*models.OrderWithTickets, error) {
	out, txn, err := s.confirmPayment(ctx, reference)
	if err != nil {
		entry := audit.Entry{
			Action:     "payment.confirm",
			EntityType: "transaction",
			EntityID:   reference,
			Err:        err,
			Diff:       map[string]interface{}{"reference": reference},
		}
		if txn != nil {
			entry.EntityID = txn.ID
			entry.Diff["orderId"] = txn.OrderID
			entry.Diff["amount"] = txn.Amount
		}
		switch {
		case errors.Is(err, errAmountMismatch):
			entry.Severity = models.SeverityCritical
		case errors.Is(err, apperr.ErrCapacityExceeded) && txn != nil:
			entry.Diff["autoRefund"] = txn.Amount
		}
		s.Audit.Record(ctx, entry)
	}
	return out, err
}

func (s *OrderService) confirmPayment(ctx context.Context, reference string) (*models.OrderWithTickets, *models.Transaction, error) {
	txn, err := s.DB.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, nil, err
	}
	if txn.Settled() {
		out, err := s.GetOrder(ctx, txn.OrderID)
		return out, txn, err
	}

	lockName := "confirm:" + reference
	token, ok, err := s.Holds.WaitLock(ctx, lockName, confirmLockTTL, confirmLockWait)
	if err != nil {
		return nil, txn, apperr.Internal(err)
	}
	if !ok {
		return nil, txn, apperr.ErrBusy
	}
	defer func() {
		if err := s.Holds.ReleaseLock(context.WithoutCancel(ctx), lockName, token); err != nil {
			s.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to release %s: %v", lockName, err))
		}
	}()

	// Another caller may have settled it while we waited.
	current, err := s.DB.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, txn, err
	}
	txn = current
	if txn.Settled() {
		out, err := s.GetOrder(ctx, txn.OrderID)
		return out, txn, err
	}

	v, err := s.Gateway.Verify(ctx, reference)
	if err != nil {
		return nil, txn, err
	}
	if v.Amount != 0 && v.Amount != txn.Amount {
		s.Logger.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf("%s: paid %d, expected %d", reference, v.Amount, txn.Amount))
		return nil, txn, errAmountMismatch.WithMessage("payment amount does not match the order: paid %d, expected %d", v.Amount, txn.Amount)
	}

	var out *models.OrderWithTickets
	switch v.Status {
	case payment.StatusPaid:
		out, err = s.completePayment(ctx, txn, v)
	case payment.StatusFailed:
		out, err = s.failPayment(ctx, txn, v.FailureReason)
	default:
		out, err = s.GetOrder(ctx, txn.OrderID)
	}
	return out, txn, err
}

func (s *OrderService) completePayment(ctx context.Context, txn *models.Transaction, v *payment.Verification) (*models.OrderWithTickets, error) {
	now := s.now()
	var (
		order     *models.Order
		tickets   []models.Ticket
		duplicate bool
	)

	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		ok, err := tx.CompleteTransaction(ctx, txn.ID, v.PaymentID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInvalidState.WithMessage("transaction %s can no longer be completed", txn.Reference)
		}

		order, err = tx.GetOrder(ctx, txn.OrderID)
		if err != nil {
			return err
		}
		if order.Status == models.OrderCompleted {
			// Paid twice for the same order: keep the money on record, refund after commit.
			duplicate = true
			return tx.IncrementEventStats(ctx, order.EventID, txn.Amount, 0)
		}

		if err := s.commitInventory(ctx, tx, order); err != nil {
			return err
		}
		ok, err = tx.MarkOrderCompleted(ctx, order.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s changed state during completion", order.ID)
		}
		if _, err := tx.FailOpenTransactions(ctx, order.ID, "superseded by "+txn.Reference); err != nil {
			return err
		}
		if err := tx.IncrementEventStats(ctx, order.EventID, txn.Amount, int64(order.Quantity)); err != nil {
			return err
		}

		order.Status = models.OrderCompleted
		order.CompletedAt = &now
		tickets, err = s.Issuer.Issue(ctx, tx.Bun, order)
		return err
	})

	switch {
	case errors.Is(err, errUnfulfillable):
		return nil, s.settleUnfulfillable(ctx, txn, v)
	case err != nil:
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Internal(err)
		}
		return nil, err
	case duplicate:
		s.Logger.LogOrder("DUPLICATE_PAYMENT", order.ID, txn.Reference)
		if _, err := s.refund(ctx, txn, txn.Amount, "duplicate payment for a completed order", systemActor("payment-reconciler")); err != nil {
			s.Logger.Error("PAYMENT", fmt.Sprintf("Auto-refund of duplicate %s failed: %v", txn.Reference, err))
		}
		return s.GetOrder(ctx, order.ID)
	}

	s.releaseHold(ctx, order.ID)
	metrics.OrderOutcome("completed")
	metrics.TicketsIssued(len(tickets))
	s.Audit.Record(ctx, audit.Entry{
		Action:     "payment.confirm",
		EntityType: "order",
		EntityID:   order.ID,
		Diff:       map[string]interface{}{"reference": txn.Reference, "amount": txn.Amount, "tickets": len(tickets)},
	})
	s.Logger.LogOrder("COMPLETED", order.ID, fmt.Sprintf("%s paid, %d tickets issued", txn.Reference, len(tickets)))
	s.publish(ctx, s.Opts.Topics.OrderCompleted, order, "")
	s.notifyCheckout(ctx, order)

	return &models.OrderWithTickets{Order: *order, Tickets: tickets}, nil
}

func (s *OrderService) notifyCheckout(ctx context.Context, o *models.Order) {
	if s.Notifier == nil {
		return
	}
	ev, err := s.DB.GetEvent(ctx, o.EventID)
	if err != nil {
		s.Logger.Warn("SSE", fmt.Sprintf("Checkout notice for %s skipped: %v", o.ID, err))
		return
	}
	s.Notifier.EmitCheckout(ev.OrganizerID, ev.ID, models.CheckoutNotice{
		OrderID:     o.ID,
		EventID:     o.EventID,
		TierID:      o.TierID,
		Quantity:    o.Quantity,
		Amount:      o.Amount,
		Currency:    o.Currency,
		CompletedAt: *o.CompletedAt,
	})
}

// commitInventory converts the order's reservation into sold tickets. A
// reservation released by expiry is re-acquired with the same capacity check
// a new purchase would face.
func (s *OrderService) commitInventory(ctx context.Context, tx *db.DB, o *models.Order) error {
	switch o.ReservationState {
	case models.ReservationHeld:
		ok, err := tx.CommitReservation(ctx, o.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reservation of order %s changed state", o.ID)
		}
		ok, err = tx.CommitTier(ctx, o.TierID, o.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tier %s has fewer than %d reserved tickets", o.TierID, o.Quantity)
		}
	case models.ReservationReleased:
		ok, err := tx.SellTier(ctx, o.TierID, o.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return errUnfulfillable
		}
		if _, err := tx.MarkReservationCommitted(ctx, o.ID); err != nil {
			return err
		}
		s.Logger.LogOrder("REACQUIRED", o.ID, "late payment re-acquired released inventory")
	}
	o.ReservationState = models.ReservationCommitted
	return nil
}

// settleUnfulfillable records money that arrived after the inventory was
// gone, fails the order and refunds the buyer in full.
func (s *OrderService) settleUnfulfillable(ctx context.Context, txn *models.Transaction, v *payment.Verification) error {
	const reason = "tickets sold out before payment completed"
	now := s.now()
	var order *models.Order

	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		ok, err := tx.CompleteTransaction(ctx, txn.ID, v.PaymentID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInvalidState.WithMessage("transaction %s can no longer be completed", txn.Reference)
		}
		if err := tx.IncrementEventStats(ctx, txn.EventID, txn.Amount, 0); err != nil {
			return err
		}
		if order, err = tx.GetOrder(ctx, txn.OrderID); err != nil {
			return err
		}
		_, err = tx.MarkOrderFailed(ctx, order.ID, reason)
		return err
	})
	if err != nil {
		return apperr.Internal(err)
	}
	txn.Status = models.TxCompleted
	order.Status = models.OrderFailed

	metrics.OrderOutcome("unfulfillable")
	s.Logger.LogOrder("UNFULFILLABLE", order.ID, fmt.Sprintf("%s paid after capacity was gone, refunding", txn.Reference))
	s.publish(ctx, s.Opts.Topics.OrderFailed, order, reason)

	if _, err := s.refund(ctx, txn, txn.Amount, reason, systemActor("payment-reconciler")); err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Auto-refund of %s failed: %v", txn.Reference, err))
	}
	return apperr.ErrCapacityExceeded.WithMessage("%s; your payment has been refunded", reason)
}

func (s *OrderService) failPayment(ctx context.Context, txn *models.Transaction, reason string) (*models.OrderWithTickets, error) {
	if reason == "" {
		reason = "payment failed"
	}
	var order *models.Order
	released := false

	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		if _, err := tx.FailTransaction(ctx, txn.ID, reason); err != nil {
			return err
		}
		var err error
		if order, err = tx.GetOrder(ctx, txn.OrderID); err != nil {
			return err
		}
		// A newer attempt owns the order now; only this attempt fails.
		if order.Reference != txn.Reference || order.Status == models.OrderCompleted {
			return nil
		}
		released = order.ReservationState == models.ReservationHeld
		if err := s.releaseReservation(ctx, tx, order); err != nil {
			return err
		}
		_, err = tx.MarkOrderFailed(ctx, order.ID, reason)
		return err
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if released {
		s.releaseHold(ctx, order.ID)
		metrics.ReservationReleased("payment_failed")
	}
	metrics.OrderOutcome("failed")
	s.Audit.Record(ctx, audit.Entry{
		Action:     "payment.fail",
		EntityType: "order",
		EntityID:   order.ID,
		Severity:   models.SeverityWarning,
		Diff:       map[string]interface{}{"reference": txn.Reference, "reason": reason},
	})
	s.Logger.LogOrder("FAILED", order.ID, fmt.Sprintf("%s: %s", txn.Reference, reason))
	order.Status = models.OrderFailed
	s.publish(ctx, s.Opts.Topics.OrderFailed, order, reason)

	return s.GetOrder(ctx, order.ID)
}

// HandleWebhook verifies a gateway notification and confirms the payment it
// refers to. Unknown references are acknowledged so the gateway stops
// redelivering them.
func (s *OrderService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.Gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return apperr.ErrUnauthorized.WithMessage("invalid webhook signature")
		}
		return apperr.Validation("invalid webhook payload")
	}
	if ev.Reference == "" {
		s.Logger.Debug("WEBHOOK", fmt.Sprintf("Ignoring %s event %s", ev.Type, ev.ID))
		return nil
	}

	ctx = audit.WithActor(ctx, systemActor("payment-webhook"))
	_, err = s.ConfirmPayment(ctx, ev.Reference)
	switch {
	case err == nil:
		s.Logger.Info("WEBHOOK", fmt.Sprintf("Processed %s for %s", ev.Type, ev.Reference))
		return nil
	case apperr.KindOf(err) == apperr.KindNotFound:
		s.Logger.Warn("WEBHOOK", fmt.Sprintf("No transaction for reference %s", ev.Reference))
		return nil
	case errors.Is(err, apperr.ErrCapacityExceeded):
		return nil
	default:
		return err
	}
}

func systemActor(component string) audit.Actor {
	return audit.System(component)
}
