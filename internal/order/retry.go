package order

import (
	"context"
	"fmt"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order/db"
	"ms-marketplace/internal/utils"
)

// RetryPayment opens a fresh checkout for an unpaid order, re-acquiring its
// inventory if the original hold has lapsed.
func (s *OrderService) RetryPayment(ctx context.Context, orderID, buyerID string) (*models.CheckoutResponse, error) {
	resp, err := s.retryPayment(ctx, orderID, buyerID)
	s.Audit.Record(ctx, audit.Entry{Action: "payment.retry", EntityType: "order", EntityID: orderID, Err: err})
	return resp, err
}

func (s *OrderService) retryPayment(ctx context.Context, orderID, buyerID string) (*models.CheckoutResponse, error) {
	o, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if buyerID != "" && o.BuyerID != buyerID {
		return nil, apperr.NotFound("order")
	}
	if o.Status == models.OrderCompleted {
		return nil, apperr.ErrInvalidState.WithMessage("order is already paid")
	}
	if o.RetryCount >= o.MaxRetries {
		return nil, apperr.ErrRetryExhausted
	}

	event, err := s.DB.GetEvent(ctx, o.EventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventPublished {
		return nil, apperr.Conflict("EVENT_NOT_ON_SALE", "event is no longer on sale")
	}
	tier, err := s.DB.GetTier(ctx, o.TierID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(s.Opts.ReservationTTL)
	txn := s.newTransaction(o, utils.GenerateReference("TXN"), o.RetryCount+1, now)

	err = s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		ok, err := tx.IncrementRetry(ctx, o.ID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrRetryExhausted
		}

		switch o.ReservationState {
		case models.ReservationReleased:
			if err := checkBuyerLimit(ctx, tx, o.BuyerID, tier, o.Quantity); err != nil {
				return err
			}
			ok, err := tx.ReserveTier(ctx, o.TierID, o.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.ErrCapacityExceeded
			}
			if ok, err = tx.RenewReservation(ctx, o.ID, expires); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("reservation of order %s changed state", o.ID)
			}
		case models.ReservationHeld:
			if _, err := tx.ExtendReservation(ctx, o.ID, expires); err != nil {
				return err
			}
		}

		if _, err := tx.FailOpenTransactions(ctx, o.ID, "superseded by retry"); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		return tx.UpdateOrderCheckout(ctx, o.ID, txn.Reference, "")
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Internal(err)
		}
		return nil, err
	}

	o.Status = models.OrderPending
	o.RetryCount++
	o.ReservationState = models.ReservationHeld
	o.ReservationExpiresAt = expires
	s.hold(ctx, o)

	checkout, err := s.openCheckout(ctx, o, txn, event, tier.Name)
	if err != nil {
		s.abandon(ctx, o, txn, "payment initialization failed")
		return nil, err
	}
	s.Logger.LogOrder("RETRY", o.ID, fmt.Sprintf("attempt %d/%d with %s", o.RetryCount, o.MaxRetries, checkout.Reference))

	return &models.CheckoutResponse{
		OrderID:    o.ID,
		Reference:  checkout.Reference,
		PaymentURL: checkout.AuthorizationURL,
		Amount:     o.Amount,
		Currency:   o.Currency,
		ExpiresAt:  expires,
	}, nil
}
