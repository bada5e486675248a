package analytics

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
	"ms-marketplace/internal/utils"
)

// DB runs the aggregate queries behind the dashboards. Every query takes a set
// of event ids so single-event, organizer and batch views share them.
type DB struct {
	bun bun.IDB
}

func NewDB(db bun.IDB) *DB {
	return &DB{bun: db}
}

type orderTotals struct {
	Orders  int   `bun:"orders"`
	Gross   int64 `bun:"gross"`
	Tickets int64 `bun:"tickets"`
}

// OrderTotals sums the completed orders of the given events.
func (db *DB) OrderTotals(ctx context.Context, eventIDs []string) (orderTotals, error) {
	var t orderTotals
	err := db.bun.NewRaw(`
		SELECT COUNT(*) AS orders,
			COALESCE(SUM(amount), 0) AS gross,
			COALESCE(SUM(quantity), 0) AS tickets
		FROM orders
		WHERE event_id IN (?) AND status = ?`,
		bun.In(eventIDs), models.OrderCompleted).Scan(ctx, &t)
	if err != nil {
		return t, fmt.Errorf("order totals: %w", err)
	}
	return t, nil
}

func (db *DB) Refunded(ctx context.Context, eventIDs []string) (int64, error) {
	var total int64
	err := db.bun.NewRaw(
		"SELECT COALESCE(SUM(total_refunded), 0) FROM transactions WHERE event_id IN (?)",
		bun.In(eventIDs)).Scan(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("refunded total: %w", err)
	}
	return total, nil
}

func (db *DB) CheckedIn(ctx context.Context, eventIDs []string) (int, error) {
	var n int
	err := db.bun.NewRaw(
		"SELECT COUNT(*) FROM tickets WHERE event_id IN (?) AND status = ?",
		bun.In(eventIDs), models.TicketUsed).Scan(ctx, &n)
	if err != nil {
		return 0, fmt.Errorf("checked-in count: %w", err)
	}
	return n, nil
}

// DailySales buckets completed orders by the UTC day they were paid.
func (db *DB) DailySales(ctx context.Context, eventIDs []string) ([]DailySalesMetrics, error) {
	var orders []models.Order
	err := db.bun.NewSelect().
		Model(&orders).
		Column("amount", "quantity", "completed_at").
		Where("event_id IN (?)", bun.In(eventIDs)).
		Where("status = ?", models.OrderCompleted).
		Where("completed_at IS NOT NULL").
		Order("completed_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("daily sales: %w", err)
	}

	out := []DailySalesMetrics{}
	for _, o := range orders {
		day := o.CompletedAt.UTC().Format("2006-01-02")
		if n := len(out); n == 0 || out[n-1].Date != day {
			out = append(out, DailySalesMetrics{Date: day})
		}
		d := &out[len(out)-1]
		d.Revenue += o.Amount
		d.TicketsSold += o.Quantity
		d.Orders++
	}
	return out, nil
}

// SalesByTier reports every tier of the events, including tiers with no sales.
func (db *DB) SalesByTier(ctx context.Context, eventIDs []string) ([]TierSalesMetrics, error) {
	var rows []TierSalesMetrics
	err := db.bun.NewRaw(`
		SELECT t.id AS tier_id,
			t.event_id AS event_id,
			t.name AS tier_name,
			t.price AS price,
			t.quantity AS capacity,
			t.sold AS tickets_sold,
			t.reserved AS reserved,
			COALESCE(SUM(o.amount), 0) AS revenue
		FROM ticket_tiers t
		LEFT JOIN orders o ON o.tier_id = t.id AND o.status = ?
		WHERE t.event_id IN (?)
		GROUP BY t.id, t.event_id, t.name, t.price, t.quantity, t.sold, t.reserved
		ORDER BY t.price ASC`,
		models.OrderCompleted, bun.In(eventIDs)).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("sales by tier: %w", err)
	}
	for i := range rows {
		rows[i].SellThrough = utils.Rate(int64(rows[i].TicketsSold), int64(rows[i].Capacity))
	}
	return rows, nil
}

func (db *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	e := new(models.Event)
	err := db.bun.NewSelect().Model(e).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("event")
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

func (db *DB) EventsByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error) {
	var events []models.Event
	err := db.bun.NewSelect().
		Model(&events).
		Where("organizer_id = ?", organizerID).
		Order("event_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("events of organizer %s: %w", organizerID, err)
	}
	return events, nil
}

// OwnedEventIDs filters ids down to the ones organizerID owns.
func (db *DB) OwnedEventIDs(ctx context.Context, ids []string, organizerID string) ([]string, error) {
	var owned []string
	err := db.bun.NewSelect().
		Model((*models.Event)(nil)).
		Column("id").
		Where("id IN (?)", bun.In(ids)).
		Where("organizer_id = ?", organizerID).
		Scan(ctx, &owned)
	if err != nil {
		return nil, fmt.Errorf("owned events: %w", err)
	}
	return owned, nil
}

// EventOrders pages through an event's orders.
func (db *DB) EventOrders(ctx context.Context, eventID string, opts EventOrderOptions) ([]models.Order, int, error) {
	var orders []models.Order
	q := db.bun.NewSelect().Model(&orders).Where("event_id = ?", eventID)
	if opts.Status != "" {
		q.Where("status = ?", opts.Status)
	}

	direction := "DESC"
	if !opts.SortDesc {
		direction = "ASC"
	}
	switch OrderSortField(strings.ToLower(opts.SortBy)) {
	case OrderSortByAmount:
		q.Order("amount " + direction)
	default:
		q.Order("created_at " + direction)
	}

	total, err := q.Limit(opts.Limit).Offset(opts.Offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("orders of event %s: %w", eventID, err)
	}
	return orders, total, nil
}

type countRow struct {
	Key   string `bun:"grp"`
	Count int    `bun:"count"`
}

// CountBy groups a table by one column.
func (db *DB) CountBy(ctx context.Context, table, column string) (map[string]int, error) {
	var rows []countRow
	err := db.bun.NewRaw("SELECT ? AS grp, COUNT(*) AS count FROM ? GROUP BY ?",
		bun.Ident(column), bun.Ident(table), bun.Ident(column)).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count %s by %s: %w", table, column, err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

type platformTotals struct {
	Gross    int64 `bun:"gross"`
	Refunded int64 `bun:"refunded"`
	Issued   int   `bun:"issued"`
	Used     int   `bun:"used"`
	Pending  int   `bun:"pending_organizers"`
	Urgent   int   `bun:"urgent_disputes"`
}

func (db *DB) PlatformTotals(ctx context.Context, urgentBefore time.Time) (platformTotals, error) {
	var t platformTotals
	err := db.bun.NewRaw(`
		SELECT
			(SELECT COALESCE(SUM(amount), 0) FROM orders WHERE status = ?) AS gross,
			(SELECT COALESCE(SUM(total_refunded), 0) FROM transactions) AS refunded,
			(SELECT COUNT(*) FROM tickets) AS issued,
			(SELECT COUNT(*) FROM tickets WHERE status = ?) AS used,
			(SELECT COUNT(*) FROM users WHERE role = ? AND org_platform_status = ?) AS pending_organizers,
			(SELECT COUNT(*) FROM disputes WHERE status = ? AND created_at < ?) AS urgent_disputes`,
		models.OrderCompleted, models.TicketUsed, models.RoleOrganizer, models.PlatformPending,
		models.DisputeOpen, urgentBefore).Scan(ctx, &t)
	if err != nil {
		return t, fmt.Errorf("platform totals: %w", err)
	}
	return t, nil
}
