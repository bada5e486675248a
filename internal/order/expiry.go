package order

import (
	"context"
	"fmt"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/audit"
	"ms-marketplace/internal/metrics"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order/db"
)

// Redis and the database clocks may disagree slightly about when a hold ends.
const expirySkew = 5 * time.Second

// ExpireReservations releases every held reservation whose expiry is not
// after now and reports how many were released.
func (s *OrderService) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	orders, err := s.DB.ExpiredReservations(ctx, now, sweepBatch)
	if err != nil {
		return 0, apperr.Internal(err)
	}

	released := 0
	for i := range orders {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		ok, err := s.release(ctx, &orders[i], "reservation expired", "expired", now)
		if err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("Failed to expire order %s: %v", orders[i].ID, err))
			continue
		}
		if ok {
			released++
		}
	}
	if released > 0 {
		s.Logger.Info("ORDER", fmt.Sprintf("Released %d expired reservations", released))
	}
	return released, nil
}

// ExpireOrder releases one order's reservation once its hold has lapsed. It is
// driven by Redis key expiry notifications.
func (s *OrderService) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	o, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.ReservationState != models.ReservationHeld {
		return false, nil
	}
	cutoff := s.now().Add(expirySkew)
	if o.ReservationExpiresAt.After(cutoff) {
		// The hold was renewed after this notification was queued.
		return false, nil
	}
	return s.release(ctx, o, "reservation expired", "expired", cutoff)
}

// ReleaseEventReservations frees all held inventory of an event, used when
// the event is cancelled.
func (s *OrderService) ReleaseEventReservations(ctx context.Context, eventID, reason string) (int, error) {
	orders, err := s.DB.HeldOrdersForEvent(ctx, eventID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	released := 0
	for i := range orders {
		ok, err := s.release(ctx, &orders[i], reason, "event_cancelled", time.Time{})
		if err != nil {
			return released, apperr.Internal(err)
		}
		if ok {
			released++
		}
	}
	return released, nil
}

// release frees o's held inventory. A non-zero expiredBy restricts it to holds
// that expired by then.
func (s *OrderService) release(ctx context.Context, o *models.Order, reason, metricReason string, expiredBy time.Time) (bool, error) {
	released := false
	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx *db.DB) error {
		var (
			ok  bool
			err error
		)
		if expiredBy.IsZero() {
			ok, err = tx.ReleaseReservation(ctx, o.ID)
		} else {
			ok, err = tx.ReleaseExpiredReservation(ctx, o.ID, expiredBy)
		}
		if err != nil || !ok {
			return err
		}
		ok, err = tx.ReleaseTier(ctx, o.TierID, o.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tier %s has fewer than %d reserved tickets", o.TierID, o.Quantity)
		}
		if _, err := tx.FailOpenTransactions(ctx, o.ID, reason); err != nil {
			return err
		}
		if o.Status == models.OrderPending {
			if _, err := tx.MarkOrderFailed(ctx, o.ID, reason); err != nil {
				return err
			}
		}
		released = true
		return nil
	})
	if err != nil || !released {
		return false, err
	}

	s.releaseHold(ctx, o.ID)
	metrics.ReservationReleased(metricReason)
	actor := audit.System("reservation-sweeper")
	s.Audit.Record(ctx, audit.Entry{
		Actor:      &actor,
		Action:     "reservation.release",
		EntityType: "order",
		EntityID:   o.ID,
		Diff:       map[string]interface{}{"tierId": o.TierID, "quantity": o.Quantity, "reason": reason},
	})
	s.Logger.LogOrder("RELEASED", o.ID, reason)
	o.Status = models.OrderFailed
	o.ReservationState = models.ReservationReleased
	s.publish(ctx, s.Opts.Topics.OrderFailed, o, reason)
	return true, nil
}

// RunSweeper calls ExpireReservations every interval until ctx is done.
func (s *OrderService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Logger.Info("ORDER", fmt.Sprintf("Reservation sweeper running every %s", interval))
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("ORDER", "Reservation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ExpireReservations(ctx, s.now()); err != nil && ctx.Err() == nil {
				s.Logger.Error("ORDER", fmt.Sprintf("Reservation sweep failed: %v", err))
			}
		}
	}
}
