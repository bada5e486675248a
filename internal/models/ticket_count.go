package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketCount is the number of tickets issued for an event on one UTC day.
type TicketCount struct {
	bun.BaseModel `bun:"table:ticket_counts"`

	ID      int64     `bun:"id,pk,autoincrement" json:"-"`
	EventID string    `bun:"event_id,notnull,unique:event_day" json:"eventId"`
	Date    time.Time `bun:"date,notnull,unique:event_day" json:"date"`
	Count   int       `bun:"count,notnull" json:"count"`
}

// OrderEvent is the payload published on the order topics.
type OrderEvent struct {
	OrderID    string    `json:"orderId"`
	EventID    string    `json:"eventId"`
	TierID     string    `json:"tierId"`
	BuyerID    string    `json:"buyerId"`
	Quantity   int       `json:"quantity"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
