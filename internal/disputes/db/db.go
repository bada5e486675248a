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

func (d *DB) Create(ctx context.Context, dsp *models.Dispute) error {
	if _, err := d.Bun.NewInsert().Model(dsp).Exec(ctx); err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (d *DB) Get(ctx context.Context, id string) (*models.Dispute, error) {
	dsp := new(models.Dispute)
	err := d.Bun.NewSelect().Model(dsp).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("dispute")
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute %s: %w", id, err)
	}
	return dsp, nil
}

func (d *DB) List(ctx context.Context, f models.DisputeFilter, limit, offset int) ([]models.Dispute, int, error) {
	var out []models.Dispute
	q := d.Bun.NewSelect().Model(&out)
	if f.Status != "" {
		q.Where("status = ?", f.Status)
	}
	if f.EventID != "" {
		q.Where("event_id = ?", f.EventID)
	}
	if f.UserID != "" {
		q.Where("user_id = ?", f.UserID)
	}
	if f.Priority != "" {
		q.Where("priority = ?", f.Priority)
	}
	total, err := q.Order("created_at DESC").Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list disputes: %w", err)
	}
	return out, total, nil
}

func (d *DB) StatusCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Dispute)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count disputes: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// OpenOlderThan counts open disputes created before cutoff.
func (d *DB) OpenOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := d.Bun.NewSelect().
		Model((*models.Dispute)(nil)).
		Where("status = ?", models.DisputeOpen).
		Where("created_at < ?", cutoff).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count urgent disputes: %w", err)
	}
	return n, nil
}

// SetStatus moves a dispute from `from` to `to`.
func (d *DB) SetStatus(ctx context.Context, id, from, to, priority string, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Dispute)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from)
	if priority != "" {
		q.Set("priority = ?", priority)
	}
	return affected(q.Exec(ctx))
}

// Close writes the final state of a dispute. It only succeeds while the
// dispute is still in status `from`, so a dispute is closed at most once.
func (d *DB) Close(ctx context.Context, dsp *models.Dispute, from string) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model(dsp).
		Column("status", "resolution_type", "resolution_amount", "resolution_notes",
			"rejection_reason", "handled_by", "resolved_at", "updated_at").
		WherePK().
		Where("status = ?", from).
		Exec(ctx))
}

// Reopen undoes Close when the refund behind a resolution fails.
func (d *DB) Reopen(ctx context.Context, id, to string, now time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Dispute)(nil)).
		Set("status = ?", to).
		Set("resolution_type = NULL").
		Set("resolution_amount = 0").
		Set("resolved_at = NULL").
		Set("handled_by = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.DisputeResolved).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reopen dispute %s: %w", id, err)
	}
	return nil
}

func (d *DB) SetRefund(ctx context.Context, id, refundID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Dispute)(nil)).
		Set("refund_id = ?", refundID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set refund of dispute %s: %w", id, err)
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

func (d *DB) EventExists(ctx context.Context, id string) (bool, error) {
	return d.Bun.NewSelect().Model((*models.Event)(nil)).Where("id = ?", id).Exists(ctx)
}
