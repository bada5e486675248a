package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
)

type DB struct {
	Bun bun.IDB
}

func (d *DB) WithTx(tx bun.IDB) *DB {
	return &DB{Bun: tx}
}

func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *DB) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, d.WithTx(tx))
	})
}

// MarkOrderIssued claims issuance for a completed order. Only the caller that
// flips the flag may insert tickets.
func (d *DB) MarkOrderIssued(ctx context.Context, orderID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("issued = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("issued = ?", false).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark order %s issued: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
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

func (d *DB) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	if _, err := d.Bun.NewInsert().Model(&tickets).Exec(ctx); err != nil {
		return fmt.Errorf("insert %d tickets: %w", len(tickets), err)
	}
	return nil
}

// InsertMissingTickets skips rows whose (order_id, seq) already exists and
// reports how many were written.
func (d *DB) InsertMissingTickets(ctx context.Context, tickets []models.Ticket) (int, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewInsert().Model(&tickets).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("insert missing tickets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (d *DB) TicketsForOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

func (d *DB) CountForOrder(ctx context.Context, orderID string) (int, error) {
	return d.Bun.NewSelect().Model((*models.Ticket)(nil)).Where("order_id = ?", orderID).Count(ctx)
}

// TierName and HolderName fill the denormalized ticket columns at issuance.
func (d *DB) TierName(ctx context.Context, tierID string) (string, error) {
	var name string
	err := d.Bun.NewSelect().
		Model((*models.TicketTier)(nil)).
		Column("name").
		Where("id = ?", tierID).
		Scan(ctx, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.NotFound("ticket tier")
	}
	return name, err
}

func (d *DB) HolderName(ctx context.Context, userID string) (string, error) {
	var name string
	err := d.Bun.NewSelect().
		Model((*models.User)(nil)).
		Column("full_name").
		Where("id = ?", userID).
		Scan(ctx, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func (d *DB) viewQuery(views *[]models.TicketView) *bun.SelectQuery {
	return d.Bun.NewSelect().
		Model(views).
		ModelTableExpr("tickets AS t").
		ColumnExpr("t.*").
		ColumnExpr("e.title AS event_title").
		ColumnExpr("e.event_date AS event_date").
		ColumnExpr("e.venue_name AS venue_name").
		ColumnExpr("e.currency AS currency").
		ColumnExpr("e.organizer_id AS organizer_id").
		Join("JOIN events AS e ON e.id = t.event_id")
}

func (d *DB) GetTicketView(ctx context.Context, id string) (*models.TicketView, error) {
	var views []models.TicketView
	if err := d.viewQuery(&views).Where("t.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	if len(views) == 0 {
		return nil, apperr.NotFound("ticket")
	}
	return &views[0], nil
}

func (d *DB) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.TicketView, int, error) {
	var views []models.TicketView
	total, err := d.viewQuery(&views).
		Where("t.owner_id = ?", ownerID).
		Order("e.event_date ASC", "t.order_id", "t.seq").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets for %s: %w", ownerID, err)
	}
	return views, total, nil
}

// Void revokes a ticket that has not been used yet.
func (d *DB) Void(ctx context.Context, id, actorID, reason string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketVoid).
		Set("voided_at = ?", at).
		Set("voided_by = ?", actorID).
		Set("void_reason = ?", reason).
		Where("id = ?", id).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("void ticket %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
