package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order/db"
	"ms-marketplace/internal/payment"
)

// Refund returns amount of a settled transaction to the buyer. Zero means the
// whole remaining balance. The refund is booked before the gateway is called
// so concurrent refunds can never exceed the captured amount; a gateway
// rejection reverses the booking.
func (s *OrderService) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*models.Refund, error) {
	txn, err := s.DB.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TxCompleted && txn.Status != models.TxPartiallyRefunded {
		return nil, apperr.ErrInvalidState.WithMessage("transaction %s is %s and cannot be refunded", txn.Reference, txn.Status)
	}
	remaining := txn.Amount - txn.TotalRefunded
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return nil, apperr.Validation("refund amount must be between 1 and %d", remaining)
	}

	actor, ok := audit.ActorFrom(ctx)
	if !ok {
		actor = audit.System("refunds")
	}
	return s.refund(ctx, txn, amount, reason, actor)
}

// RefundOrder refunds the order's settled transaction.
func (s *OrderService) RefundOrder(ctx context.Context, orderID string, amount int64, reason string) (*models.Refund, error) {
	txs, err := s.DB.TransactionsForOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	for i := range txs {
		if txs[i].Status == models.TxCompleted || txs[i].Status == models.TxPartiallyRefunded {
			return s.Refund(ctx, txs[i].ID, amount, reason)
		}
	}
	return nil, apperr.ErrInvalidState.WithMessage("order %s has no refundable payment", orderID)
}

// RetryTransaction re-runs confirmation for a transaction an admin believes
// was paid.
func (s *OrderService) RetryTransaction(ctx context.Context, transactionID string) (*models.OrderWithTickets, error) {
	txn, err := s.DB.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.ConfirmPayment(ctx, txn.Reference)
}

func (s *OrderService) refund(ctx context.Context, txn *models.Transaction, amount int64, reason string, actor audit.Actor) (*models.Refund, error) {
	r := &models.Refund{
		ID:            uuid.NewString(),
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		Amount:        amount,
		Reason:        reason,
		ActorID:       actor.ID,
		Status:        models.RefundPending,
		CreatedAt:     s.now(),
	}

	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		ok, err := tx.ApplyRefund(ctx, txn.ID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("REFUND_EXCEEDS_AMOUNT", "refund would exceed the amount paid")
		}
		if err := tx.CreateRefund(ctx, r); err != nil {
			return err
		}
		return tx.IncrementEventStats(ctx, txn.EventID, -amount, 0)
	})
	if err != nil {
		s.Audit.Record(ctx, audit.Entry{Actor: &actor, Action: "transaction.refund", EntityType: "transaction", EntityID: txn.ID, Err: err})
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Internal(err)
		}
		return nil, err
	}

	// The booking is committed; finish the gateway side even if the caller leaves.
	ctx = context.WithoutCancel(ctx)
	res, gwErr := s.Gateway.Refund(ctx, payment.RefundRequest{
		Reference: txn.Reference,
		PaymentID: txn.GatewayPaymentID,
		Amount:    amount,
		Reason:    reason,
	})
	if gwErr != nil {
		err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
			if err := tx.RevertRefund(ctx, txn.ID, amount); err != nil {
				return err
			}
			if err := tx.IncrementEventStats(ctx, txn.EventID, amount, 0); err != nil {
				return err
			}
			return tx.UpdateRefund(ctx, r.ID, models.RefundFailed, "")
		})
		if err != nil {
			s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to reverse refund %s after gateway error: %v", r.ID, err))
		}
		s.Audit.Record(ctx, audit.Entry{Actor: &actor, Action: "transaction.refund", EntityType: "transaction", EntityID: txn.ID, Err: gwErr})
		return nil, gwErr
	}

	if err := s.DB.UpdateRefund(ctx, r.ID, models.RefundSucceeded, res.ID); err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Refund %s succeeded at gateway but status update failed: %v", r.ID, err))
	}
	r.Status = models.RefundSucceeded
	r.GatewayRefundID = res.ID

	s.Audit.Record(ctx, audit.Entry{
		Actor:      &actor,
		Action:     "transaction.refund",
		EntityType: "transaction",
		EntityID:   txn.ID,
		Diff:       map[string]interface{}{"amount": amount, "reason": reason, "gatewayRefundId": res.ID},
	})
	s.Logger.LogOrder("REFUNDED", txn.OrderID, fmt.Sprintf("%d on %s (%s)", amount, txn.Reference, reason))
	return r, nil
}
