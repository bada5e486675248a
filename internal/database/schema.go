package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-marketplace/internal/models"
)

// Models lists every table in creation order.
var Models = []interface{}{
	(*models.User)(nil),
	(*models.Event)(nil),
	(*models.TicketTier)(nil),
	(*models.Order)(nil),
	(*models.Transaction)(nil),
	(*models.Refund)(nil),
	(*models.Ticket)(nil),
	(*models.TicketCount)(nil),
	(*models.ValidatorAssignment)(nil),
	(*models.Dispute)(nil),
	(*models.AuditLogEntry)(nil),
}

type index struct {
	model   interface{}
	name    string
	columns []string
}

var indexes = []index{
	{(*models.TicketTier)(nil), "idx_ticket_tiers_event", []string{"event_id"}},
	{(*models.Order)(nil), "idx_orders_buyer_tier", []string{"buyer_id", "tier_id"}},
	{(*models.Order)(nil), "idx_orders_event_status", []string{"event_id", "status"}},
	{(*models.Order)(nil), "idx_orders_reservation", []string{"reservation_state", "reservation_expires_at"}},
	{(*models.Transaction)(nil), "idx_transactions_order", []string{"order_id"}},
	{(*models.Transaction)(nil), "idx_transactions_event_status", []string{"event_id", "status"}},
	{(*models.Ticket)(nil), "idx_tickets_owner", []string{"owner_id"}},
	{(*models.Ticket)(nil), "idx_tickets_event_status", []string{"event_id", "status"}},
	{(*models.AuditLogEntry)(nil), "idx_audit_logs_entity", []string{"entity_type", "entity_id"}},
	{(*models.AuditLogEntry)(nil), "idx_audit_logs_created", []string{"created_at"}},
	{(*models.Dispute)(nil), "idx_disputes_status", []string{"status"}},
}

// CreateSchema creates tables and indexes straight from the models. Production
// schemas go through the SQL migrations; this is for tests and local setups.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, m := range Models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// DropSchema drops every table, newest first.
func DropSchema(ctx context.Context, db bun.IDB) error {
	for i := len(Models) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(Models[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", Models[i], err)
		}
	}
	return nil
}
