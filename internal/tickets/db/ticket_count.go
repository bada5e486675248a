package db

import (
	"context"
	"fmt"
	"time"

	"ms-marketplace/internal/models"
)

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (d *DB) GetTotalTicketsCount(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
}

// IncrementTicketCount adds n to the event's counter for the day of at. Two
// consumers racing on a fresh day both try the insert; the loser falls back to
// the update.
func (d *DB) IncrementTicketCount(ctx context.Context, eventID string, at time.Time, n int) error {
	date := Day(at)

	bumped, err := d.bumpTicketCount(ctx, eventID, date, n)
	if err != nil || bumped {
		return err
	}

	row := &models.TicketCount{EventID: eventID, Date: date, Count: n}
	_, insertErr := d.Bun.NewInsert().Model(row).Exec(ctx)
	if insertErr == nil {
		return nil
	}

	bumped, err = d.bumpTicketCount(ctx, eventID, date, n)
	if err != nil {
		return err
	}
	if !bumped {
		return fmt.Errorf("insert ticket count for %s: %w", eventID, insertErr)
	}
	return nil
}

func (d *DB) bumpTicketCount(ctx context.Context, eventID string, date time.Time, n int) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketCount)(nil)).
		Set("count = count + ?", n).
		Where("event_id = ?", eventID).
		Where("date = ?", date).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("increment ticket count for %s: %w", eventID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetTicketCountsForEvent returns the event's daily counters, oldest first.
func (d *DB) GetTicketCountsForEvent(ctx context.Context, eventID string) ([]models.TicketCount, error) {
	var counts []models.TicketCount
	err := d.Bun.NewSelect().
		Model(&counts).
		Where("event_id = ?", eventID).
		Order("date ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticket counts for %s: %w", eventID, err)
	}
	return counts, nil
}
