package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TicketValid = "valid"
	TicketUsed  = "used"
	TicketVoid  = "void"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID              string     `bun:"id,pk" json:"id"`
	Code            string     `bun:"code,unique,notnull" json:"code"`
	OrderID         string     `bun:"order_id,notnull,unique:order_seq" json:"orderId"`
	Seq             int        `bun:"seq,notnull,unique:order_seq" json:"seq"`
	EventID         string     `bun:"event_id,notnull" json:"eventId"`
	TierID          string     `bun:"tier_id,notnull" json:"tierId"`
	TierName        string     `bun:"tier_name" json:"tierName"`
	OwnerID         string     `bun:"owner_id,notnull" json:"ownerId"`
	HolderName      string     `bun:"holder_name" json:"holderName"`
	PriceAtPurchase int64      `bun:"price_at_purchase,notnull" json:"priceAtPurchase"`
	Status          string     `bun:"status,notnull" json:"status"`
	IssuedAt        time.Time  `bun:"issued_at,notnull" json:"issuedAt"`
	UsedAt          *time.Time `bun:"used_at" json:"usedAt,omitempty"`
	ValidatedBy     string     `bun:"validated_by" json:"validatedBy,omitempty"`
	VoidedAt        *time.Time `bun:"voided_at" json:"voidedAt,omitempty"`
	VoidedBy        string     `bun:"voided_by" json:"voidedBy,omitempty"`
	VoidReason      string     `bun:"void_reason" json:"voidReason,omitempty"`
}

// TicketView is a ticket joined with the event fields the buyer needs.
type TicketView struct {
	Ticket
	EventTitle  string    `bun:"event_title" json:"eventTitle"`
	EventDate   time.Time `bun:"event_date" json:"eventDate"`
	VenueName   string    `bun:"venue_name" json:"venueName"`
	Currency    string    `bun:"currency" json:"currency"`
	OrganizerID string    `bun:"organizer_id" json:"-"`
	QRPayload   string    `bun:"-" json:"qrPayload,omitempty"`
}

type VoidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
