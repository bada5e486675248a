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

// ---------------- TICKETS ----------------

func (d *DB) TicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	t := new(models.Ticket)
	err := d.Bun.NewSelect().Model(t).Where("code = ?", code).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("ticket by code: %w", err)
	}
	return t, nil
}

// MarkUsed is the check-in compare-and-swap. Exactly one concurrent caller
// sees true for a given ticket.
func (d *DB) MarkUsed(ctx context.Context, ticketID, validatorID string, at time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("used_at = ?", at).
		Set("validated_by = ?", validatorID).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketValid).
		Exec(ctx))
}

func (d *DB) TicketStatusCounts(ctx context.Context, eventID string) (map[string]int, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("ticket status counts for %s: %w", eventID, err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// ---------------- EVENTS ----------------

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

// ---------------- ASSIGNMENTS ----------------

func (d *DB) IsAssigned(ctx context.Context, validatorID, eventID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.ValidatorAssignment)(nil)).
		Where("validator_id = ?", validatorID).
		Where("event_id = ?", eventID).
		Exists(ctx)
}

// Assign is idempotent; an existing assignment is left as is.
func (d *DB) Assign(ctx context.Context, a *models.ValidatorAssignment) error {
	_, err := d.Bun.NewInsert().
		Model(a).
		On("CONFLICT (validator_id, event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("assign validator %s to %s: %w", a.ValidatorID, a.EventID, err)
	}
	return nil
}

func (d *DB) Unassign(ctx context.Context, validatorID, eventID string) (bool, error) {
	return affected(d.Bun.NewDelete().
		Model((*models.ValidatorAssignment)(nil)).
		Where("validator_id = ?", validatorID).
		Where("event_id = ?", eventID).
		Exec(ctx))
}

func (d *DB) ValidatorsForEvent(ctx context.Context, eventID string) ([]models.ValidatorView, error) {
	var out []models.ValidatorView
	err := d.Bun.NewSelect().
		Model(&out).
		ModelTableExpr("validator_assignments AS va").
		ColumnExpr("va.*").
		ColumnExpr("u.email AS email").
		ColumnExpr("u.full_name AS full_name").
		ColumnExpr("u.active AS active").
		Join("JOIN users AS u ON u.id = va.validator_id").
		Where("va.event_id = ?", eventID).
		Order("va.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("validators for %s: %w", eventID, err)
	}
	return out, nil
}

func (d *DB) AssignedEvents(ctx context.Context, validatorID string) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		ModelTableExpr("events AS e").
		ColumnExpr("e.*").
		Join("JOIN validator_assignments AS va ON va.event_id = e.id").
		Where("va.validator_id = ?", validatorID).
		Order("e.event_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("events for validator %s: %w", validatorID, err)
	}
	return events, nil
}
