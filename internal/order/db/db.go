package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
)

// DB holds the order, transaction and inventory queries. Every state change
// is a conditional UPDATE whose RowsAffected tells the caller whether it won.
type DB struct {
	Bun bun.IDB
}

// WithTx returns a DB bound to tx.
func (d *DB) WithTx(tx bun.IDB) *DB {
	return &DB{Bun: tx}
}

// RunInTx runs fn inside one database transaction.
func (d *DB) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx *DB) error) error {
	return d.Bun.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, d.WithTx(tx))
	})
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------- INVENTORY ----------------

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e := new(models.Event)
	err := d.Bun.NewSelect().Model(e).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event")
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

func (d *DB) GetTier(ctx context.Context, id string) (*models.TicketTier, error) {
	t := new(models.TicketTier)
	err := d.Bun.NewSelect().Model(t).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ticket tier")
	}
	if err != nil {
		return nil, fmt.Errorf("get tier %s: %w", id, err)
	}
	return t, nil
}

// ReserveTier holds q tickets if capacity allows. The check and the increment
// are one statement, so concurrent buyers can never oversell.
func (d *DB) ReserveTier(ctx context.Context, tierID string, q int) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.TicketTier)(nil)).
		Set("reserved = reserved + ?", q).
		Where("id = ?", tierID).
		Where("sold + reserved + ? <= quantity", q).
		Exec(ctx))
}

func (d *DB) ReleaseTier(ctx context.Context, tierID string, q int) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.TicketTier)(nil)).
		Set("reserved = reserved - ?", q).
		Where("id = ?", tierID).
		Where("reserved >= ?", q).
		Exec(ctx))
}

// CommitTier turns q reserved tickets into sold ones.
func (d *DB) CommitTier(ctx context.Context, tierID string, q int) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.TicketTier)(nil)).
		Set("reserved = reserved - ?", q).
		Set("sold = sold + ?", q).
		Where("id = ?", tierID).
		Where("reserved >= ?", q).
		Exec(ctx))
}

// SellTier sells q tickets without a prior hold, used when a late payment
// arrives after its reservation expired.
func (d *DB) SellTier(ctx context.Context, tierID string, q int) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.TicketTier)(nil)).
		Set("sold = sold + ?", q).
		Where("id = ?", tierID).
		Where("sold + reserved + ? <= quantity", q).
		Exec(ctx))
}

// IncrementEventStats applies a live delta to the derived event totals.
func (d *DB) IncrementEventStats(ctx context.Context, eventID string, revenue, tickets int64) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("total_revenue = total_revenue + ?", revenue).
		Set("tickets_sold = tickets_sold + ?", tickets).
		Set("stats_version = stats_version + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment stats for event %s: %w", eventID, err)
	}
	return nil
}

// ---------------- ORDERS ----------------

func (d *DB) CreateOrder(ctx context.Context, o *models.Order) error {
	if _, err := d.Bun.NewInsert().Model(o).Exec(ctx); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o := new(models.Order)
	err := d.Bun.NewSelect().Model(o).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order")
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (d *DB) ListOrdersByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]models.Order, int, error) {
	var orders []models.Order
	total, err := d.Bun.NewSelect().
		Model(&orders).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders for %s: %w", buyerID, err)
	}
	return orders, total, nil
}

// LockBuyer takes the buyer's user row lock for the rest of the transaction,
// serializing that buyer's checkouts. A no-op UPDATE locks the row on Postgres
// and takes the write lock on SQLite.
func (d *DB) LockBuyer(ctx context.Context, buyerID string) error {
	ok, err := affected(d.Bun.NewUpdate().
		Model((*models.User)(nil)).
		Set("updated_at = updated_at").
		Where("id = ?", buyerID).
		Exec(ctx))
	if err != nil {
		return fmt.Errorf("lock buyer %s: %w", buyerID, err)
	}
	if !ok {
		return apperr.NotFound("buyer")
	}
	return nil
}

// PurchasedQuantity counts tickets the buyer already owns or currently holds
// in tierID.
func (d *DB) PurchasedQuantity(ctx context.Context, buyerID, tierID string) (int, error) {
	var total sql.NullInt64
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		ColumnExpr("SUM(quantity)").
		Where("buyer_id = ?", buyerID).
		Where("tier_id = ?", tierID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("status = ?", models.OrderCompleted).
				WhereOr("status = ? AND reservation_state = ?", models.OrderPending, models.ReservationHeld)
		}).
		Scan(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("sum purchased quantity: %w", err)
	}
	return int(total.Int64), nil
}

func (d *DB) UpdateOrderCheckout(ctx context.Context, orderID, reference, url string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("reference = ?", reference).
		Set("payment_url = ?", url).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update order %s checkout: %w", orderID, err)
	}
	return nil
}

func (d *DB) setReservation(ctx context.Context, orderID, from, to string) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("reservation_state = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("reservation_state = ?", from).
		Exec(ctx))
}

func (d *DB) CommitReservation(ctx context.Context, orderID string) (bool, error) {
	return d.setReservation(ctx, orderID, models.ReservationHeld, models.ReservationCommitted)
}

func (d *DB) ReleaseReservation(ctx context.Context, orderID string) (bool, error) {
	return d.setReservation(ctx, orderID, models.ReservationHeld, models.ReservationReleased)
}

// ReleaseExpiredReservation releases a held reservation only while its expiry
// is not after cutoff, so a hold renewed since it was listed stays held.
func (d *DB) ReleaseExpiredReservation(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("reservation_state = ?", models.ReservationReleased).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("reservation_state = ?", models.ReservationHeld).
		Where("reservation_expires_at <= ?", cutoff).
		Exec(ctx))
}

// MarkReservationCommitted records a capacity re-acquired by SellTier.
func (d *DB) MarkReservationCommitted(ctx context.Context, orderID string) (bool, error) {
	return d.setReservation(ctx, orderID, models.ReservationReleased, models.ReservationCommitted)
}

// RenewReservation re-holds a released reservation for a payment retry.
func (d *DB) RenewReservation(ctx context.Context, orderID string, expiresAt time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("reservation_state = ?", models.ReservationHeld).
		Set("reservation_expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("reservation_state = ?", models.ReservationReleased).
		Exec(ctx))
}

// ExtendReservation pushes out the expiry of a still-held reservation.
func (d *DB) ExtendReservation(ctx context.Context, orderID string, expiresAt time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("reservation_expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("reservation_state = ?", models.ReservationHeld).
		Exec(ctx))
}

func (d *DB) MarkOrderCompleted(ctx context.Context, orderID string, now time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderCompleted).
		Set("failure_reason = ''").
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", orderID).
		Where("status IN (?)", bun.In([]string{models.OrderPending, models.OrderFailed})).
		Exec(ctx))
}

func (d *DB) MarkOrderFailed(ctx context.Context, orderID, reason string) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderFailed).
		Set("failure_reason = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("status IN (?)", bun.In([]string{models.OrderPending, models.OrderFailed})).
		Exec(ctx))
}

// IncrementRetry consumes one retry and puts the order back to pending.
func (d *DB) IncrementRetry(ctx context.Context, orderID string) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("retry_count = retry_count + 1").
		Set("status = ?", models.OrderPending).
		Set("failure_reason = ''").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("retry_count < max_retries").
		Where("status IN (?)", bun.In([]string{models.OrderPending, models.OrderFailed})).
		Exec(ctx))
}

// ExpiredReservations lists held reservations whose expiry is not after now.
func (d *DB) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("reservation_state = ?", models.ReservationHeld).
		Where("reservation_expires_at <= ?", now).
		Order("reservation_expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	return orders, nil
}

// HeldOrdersForEvent lists orders still holding inventory for eventID.
func (d *DB) HeldOrdersForEvent(ctx context.Context, eventID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("event_id = ?", eventID).
		Where("reservation_state = ?", models.ReservationHeld).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list held orders for event %s: %w", eventID, err)
	}
	return orders, nil
}

// ---------------- TRANSACTIONS ----------------

func (d *DB) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if _, err := d.Bun.NewInsert().Model(t).Exec(ctx); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (d *DB) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t := new(models.Transaction)
	err := d.Bun.NewSelect().Model(t).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("transaction")
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

func (d *DB) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	t := new(models.Transaction)
	err := d.Bun.NewSelect().Model(t).Where("reference = ?", reference).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("transaction")
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by reference: %w", err)
	}
	return t, nil
}

func (d *DB) TransactionsForOrder(ctx context.Context, orderID string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := d.Bun.NewSelect().
		Model(&txs).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions for order %s: %w", orderID, err)
	}
	return txs, nil
}

func (d *DB) UpdateTransactionCheckout(ctx context.Context, id, reference, url string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("reference = ?", reference).
		Set("authorization_url = ?", url).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update transaction %s checkout: %w", id, err)
	}
	return nil
}

// CompleteTransaction settles a transaction. A transaction failed by expiry
// can still complete when the money arrives late.
func (d *DB) CompleteTransaction(ctx context.Context, id, paymentID string, now time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("status = ?", models.TxCompleted).
		Set("gateway_payment_id = ?", paymentID).
		Set("failure_reason = ''").
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{models.TxInitiated, models.TxProcessing, models.TxFailed})).
		Exec(ctx))
}

func (d *DB) FailTransaction(ctx context.Context, id, reason string) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("status = ?", models.TxFailed).
		Set("failure_reason = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{models.TxInitiated, models.TxProcessing})).
		Exec(ctx))
}

// FailOpenTransactions fails every unsettled attempt of an order.
func (d *DB) FailOpenTransactions(ctx context.Context, orderID, reason string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("status = ?", models.TxFailed).
		Set("failure_reason = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("order_id = ?", orderID).
		Where("status IN (?)", bun.In([]string{models.TxInitiated, models.TxProcessing})).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("fail open transactions of %s: %w", orderID, err)
	}
	return res.RowsAffected()
}

// ApplyRefund adds amount to total_refunded unless that would exceed the
// captured amount.
func (d *DB) ApplyRefund(ctx context.Context, id string, amount int64) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("total_refunded = total_refunded + ?", amount).
		Set("status = CASE WHEN total_refunded + ? >= amount THEN ? ELSE ? END",
			amount, models.TxRefunded, models.TxPartiallyRefunded).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{models.TxCompleted, models.TxPartiallyRefunded})).
		Where("total_refunded + ? <= amount", amount).
		Exec(ctx))
}

// RevertRefund undoes ApplyRefund after the gateway rejected the refund.
func (d *DB) RevertRefund(ctx context.Context, id string, amount int64) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("total_refunded = total_refunded - ?", amount).
		Set("status = CASE WHEN total_refunded - ? = 0 THEN ? ELSE ? END",
			amount, models.TxCompleted, models.TxPartiallyRefunded).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("total_refunded >= ?", amount).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revert refund on %s: %w", id, err)
	}
	return nil
}

func (d *DB) CreateRefund(ctx context.Context, r *models.Refund) error {
	if _, err := d.Bun.NewInsert().Model(r).Exec(ctx); err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (d *DB) UpdateRefund(ctx context.Context, id, status, gatewayRefundID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Refund)(nil)).
		Set("status = ?", status).
		Set("gateway_refund_id = ?", gatewayRefundID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update refund %s: %w", id, err)
	}
	return nil
}

func (d *DB) RefundsForTransaction(ctx context.Context, txID string) ([]models.Refund, error) {
	var refunds []models.Refund
	err := d.Bun.NewSelect().
		Model(&refunds).
		Where("transaction_id = ?", txID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list refunds for %s: %w", txID, err)
	}
	return refunds, nil
}

func applyTransactionFilter(q *bun.SelectQuery, f models.TransactionFilter) *bun.SelectQuery {
	if f.Status != "" {
		q.Where("status = ?", f.Status)
	}
	if f.EventID != "" {
		q.Where("event_id = ?", f.EventID)
	}
	if f.BuyerID != "" {
		q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(reference) LIKE ?", like).WhereOr("LOWER(order_id) LIKE ?", like)
		})
	}
	return q
}

func (d *DB) ListTransactions(ctx context.Context, f models.TransactionFilter, limit, offset int) ([]models.Transaction, int, error) {
	var txs []models.Transaction
	q := applyTransactionFilter(d.Bun.NewSelect().Model(&txs), f)
	total, err := q.Order("created_at DESC").Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txs, total, nil
}

func (d *DB) TransactionStats(ctx context.Context, f models.TransactionFilter) (*models.TransactionStats, error) {
	var rows []struct {
		Status   string `bun:"status"`
		Count    int    `bun:"count"`
		Amount   int64  `bun:"amount"`
		Refunded int64  `bun:"refunded"`
	}
	q := applyTransactionFilter(d.Bun.NewSelect().Model((*models.Transaction)(nil)), f)
	err := q.Column("status").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(amount), 0) AS amount").
		ColumnExpr("COALESCE(SUM(total_refunded), 0) AS refunded").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("transaction stats: %w", err)
	}

	stats := &models.TransactionStats{}
	for _, r := range rows {
		stats.Total += r.Count
		switch r.Status {
		case models.TxCompleted:
			stats.CompletedCount += r.Count
			stats.TotalAmount += r.Amount
		case models.TxPartiallyRefunded, models.TxRefunded:
			stats.RefundedCount += r.Count
			stats.TotalAmount += r.Amount
			stats.TotalRefunded += r.Refunded
		case models.TxFailed:
			stats.FailedCount += r.Count
		default:
			stats.PendingCount += r.Count
		}
	}
	return stats, nil
}
