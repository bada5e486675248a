package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/models"
)

var settledStatuses = []string{models.TxCompleted, models.TxPartiallyRefunded, models.TxRefunded}

type DB struct {
	Bun bun.IDB
}

func (d *DB) WithTx(tx bun.IDB) *DB {
	return &DB{Bun: tx}
}

// InSnapshot runs fn in a read-only repeatable-read transaction so every
// figure it reads comes from the same point in time.
func (d *DB) InSnapshot(ctx context.Context, fn func(ctx context.Context, tx *DB) error) error {
	return d.Bun.RunInTx(ctx, database.SnapshotTxOptions(d.Bun), func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, d.WithTx(tx))
	})
}

func (d *DB) EventIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Event)(nil)).
		Column("id").
		Order("created_at ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	return ids, nil
}

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

// ExpectedTickets sums the quantities of the event's completed orders.
func (d *DB) ExpectedTickets(ctx context.Context, eventID string) (int64, error) {
	var n int64
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		ColumnExpr("COALESCE(SUM(quantity), 0)").
		Where("event_id = ?", eventID).
		Where("status = ?", models.OrderCompleted).
		Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("expected tickets for %s: %w", eventID, err)
	}
	return n, nil
}

func (d *DB) IssuedTickets(ctx context.Context, eventID string) (int64, error) {
	n, err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("issued tickets for %s: %w", eventID, err)
	}
	return int64(n), nil
}

// NetRevenue is what the event actually kept: settled payments less refunds.
func (d *DB) NetRevenue(ctx context.Context, eventID string) (int64, error) {
	var n int64
	err := d.Bun.NewSelect().
		Model((*models.Transaction)(nil)).
		ColumnExpr("COALESCE(SUM(amount - total_refunded), 0)").
		Where("event_id = ?", eventID).
		Where("status IN (?)", bun.In(settledStatuses)).
		Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("net revenue for %s: %w", eventID, err)
	}
	return n, nil
}

// OrdersMissingTickets lists completed orders holding fewer tickets than
// they paid for.
func (d *DB) OrdersMissingTickets(ctx context.Context, eventID string) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		TableExpr("orders AS o").
		ColumnExpr("o.id").
		Join("LEFT JOIN tickets AS t ON t.order_id = o.id").
		Where("o.event_id = ?", eventID).
		Where("o.status = ?", models.OrderCompleted).
		GroupExpr("o.id, o.quantity").
		Having("COUNT(t.id) < o.quantity").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("orders missing tickets for %s: %w", eventID, err)
	}
	return ids, nil
}

// WriteEventStats stores recomputed totals. The write only lands when no live
// update has touched the event since the snapshot was read and no newer
// recomputation has been stored.
func (d *DB) WriteEventStats(ctx context.Context, eventID string, revenue, sold, version int64, snapshotAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("total_revenue = ?", revenue).
		Set("tickets_sold = ?", sold).
		Set("stats_version = stats_version + 1").
		Set("stats_computed_at = ?", snapshotAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", eventID).
		Where("stats_version = ?", version).
		Where("stats_computed_at < ?", snapshotAt).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("write stats for %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Totals are platform-wide figures for the reconciliation dashboard.
type Totals struct {
	CompletedOrders   int   `bun:"completed_orders"`
	OrderRevenue      int64 `bun:"order_revenue"`
	ExpectedTickets   int64 `bun:"expected_tickets"`
	IssuedTickets     int64 `bun:"-"`
	SettledTxns       int   `bun:"-"`
	NetRevenue        int64 `bun:"-"`
	OrphanedTxns      int   `bun:"-"`
	StoredRevenue     int64 `bun:"-"`
	StoredTicketsSold int64 `bun:"-"`
}

func (d *DB) Totals(ctx context.Context) (*Totals, error) {
	t := new(Totals)
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		ColumnExpr("COUNT(*) AS completed_orders").
		ColumnExpr("COALESCE(SUM(amount), 0) AS order_revenue").
		ColumnExpr("COALESCE(SUM(quantity), 0) AS expected_tickets").
		Where("status = ?", models.OrderCompleted).
		Scan(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("order totals: %w", err)
	}

	n, err := d.Bun.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket totals: %w", err)
	}
	t.IssuedTickets = int64(n)

	var txns struct {
		Count int   `bun:"count"`
		Net   int64 `bun:"net"`
	}
	err = d.Bun.NewSelect().
		Model((*models.Transaction)(nil)).
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(amount - total_refunded), 0) AS net").
		Where("status IN (?)", bun.In(settledStatuses)).
		Scan(ctx, &txns)
	if err != nil {
		return nil, fmt.Errorf("transaction totals: %w", err)
	}
	t.SettledTxns, t.NetRevenue = txns.Count, txns.Net

	// Money kept against an order that never completed.
	t.OrphanedTxns, err = d.Bun.NewSelect().
		TableExpr("transactions AS tx").
		Join("JOIN orders AS o ON o.id = tx.order_id").
		Where("tx.status IN (?)", bun.In([]string{models.TxCompleted, models.TxPartiallyRefunded})).
		Where("o.status != ?", models.OrderCompleted).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("orphaned transactions: %w", err)
	}

	var events struct {
		Revenue int64 `bun:"revenue"`
		Sold    int64 `bun:"sold"`
	}
	err = d.Bun.NewSelect().
		Model((*models.Event)(nil)).
		ColumnExpr("COALESCE(SUM(total_revenue), 0) AS revenue").
		ColumnExpr("COALESCE(SUM(tickets_sold), 0) AS sold").
		Scan(ctx, &events)
	if err != nil {
		return nil, fmt.Errorf("event totals: %w", err)
	}
	t.StoredRevenue, t.StoredTicketsSold = events.Revenue, events.Sold
	return t, nil
}
