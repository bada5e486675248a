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

func (d *DB) CreateEvent(ctx context.Context, e *models.Event) error {
	if _, err := d.Bun.NewInsert().Model(e).Exec(ctx); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (d *DB) CreateTiers(ctx context.Context, tiers []*models.TicketTier) error {
	if len(tiers) == 0 {
		return nil
	}
	if _, err := d.Bun.NewInsert().Model(&tiers).Exec(ctx); err != nil {
		return fmt.Errorf("insert tiers: %w", err)
	}
	return nil
}

// ReplaceTiers drops the event's tiers and inserts the new set. Only safe
// while nothing has been sold.
func (d *DB) ReplaceTiers(ctx context.Context, eventID string, tiers []*models.TicketTier) error {
	_, err := d.Bun.NewDelete().
		Model((*models.TicketTier)(nil)).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete tiers of %s: %w", eventID, err)
	}
	return d.CreateTiers(ctx, tiers)
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e := new(models.Event)
	err := d.Bun.NewSelect().
		Model(e).
		Relation("Tiers", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("price ASC", "created_at ASC")
		}).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event")
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

// UpdateDraft writes the named columns while the event is still a draft.
func (d *DB) UpdateDraft(ctx context.Context, e *models.Event, columns ...string) (bool, error) {
	columns = append(columns, "updated_at")
	return affected(d.Bun.NewUpdate().
		Model(e).
		Column(columns...).
		WherePK().
		Where("status = ?", models.EventDraft).
		Exec(ctx))
}

// SetStatus moves an event to `to` only if it is currently in one of `from`.
func (d *DB) SetStatus(ctx context.Context, id string, from []string, to string, now time.Time) (bool, error) {
	return affected(d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx))
}

func (d *DB) TierCount(ctx context.Context, eventID string) (int, error) {
	n, err := d.Bun.NewSelect().
		Model((*models.TicketTier)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count tiers of %s: %w", eventID, err)
	}
	return n, nil
}

func (d *DB) ListEvents(ctx context.Context, f models.EventFilter, limit, offset int) ([]models.Event, int, error) {
	var events []models.Event
	q := d.Bun.NewSelect().
		Model(&events).
		Relation("Tiers", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("price ASC")
		})

	if f.Status != "" {
		q.Where("?TableAlias.status = ?", f.Status)
	}
	if f.OrganizerID != "" {
		q.Where("?TableAlias.organizer_id = ?", f.OrganizerID)
	}
	if f.Category != "" {
		q.Where("LOWER(?TableAlias.category) = ?", strings.ToLower(f.Category))
	}
	if f.City != "" {
		q.Where("LOWER(?TableAlias.venue_city) = ?", strings.ToLower(f.City))
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(?TableAlias.title) LIKE ?", like).
				WhereOr("LOWER(?TableAlias.artist) LIKE ?", like).
				WhereOr("LOWER(?TableAlias.venue_name) LIKE ?", like)
		})
	}

	order := "?TableAlias.event_date ASC"
	if f.OrganizerID != "" {
		order = "?TableAlias.created_at DESC"
	}
	total, err := q.OrderExpr(order).Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return events, total, nil
}

// PastPublished returns published events whose date is before cutoff.
func (d *DB) PastPublished(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Event)(nil)).
		Column("id").
		Where("status = ?", models.EventPublished).
		Where("event_date < ?", cutoff).
		Order("event_date ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list past events: %w", err)
	}
	return ids, nil
}
