package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
)

// Reservation states track the inventory hold independently of payment status.
const (
	ReservationHeld      = "held"
	ReservationCommitted = "committed"
	ReservationReleased  = "released"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID                   string     `bun:"id,pk" json:"id"`
	BuyerID              string     `bun:"buyer_id,notnull" json:"buyerId"`
	EventID              string     `bun:"event_id,notnull" json:"eventId"`
	TierID               string     `bun:"tier_id,notnull" json:"tierId"`
	Quantity             int        `bun:"quantity,notnull" json:"quantity"`
	UnitPrice            int64      `bun:"unit_price,notnull" json:"unitPrice"`
	Amount               int64      `bun:"amount,notnull" json:"amount"`
	Currency             string     `bun:"currency,notnull" json:"currency"`
	Status               string     `bun:"status,notnull" json:"paymentStatus"`
	Reference            string     `bun:"reference" json:"reference"`
	PaymentURL           string     `bun:"payment_url" json:"paymentUrl,omitempty"`
	RetryCount           int        `bun:"retry_count,notnull" json:"retryCount"`
	MaxRetries           int        `bun:"max_retries,notnull" json:"maxRetries"`
	ReservationState     string     `bun:"reservation_state,notnull" json:"reservationState"`
	ReservationExpiresAt time.Time  `bun:"reservation_expires_at,notnull" json:"reservationExpiresAt"`
	Issued               bool       `bun:"issued,notnull" json:"issued"`
	FailureReason        string     `bun:"failure_reason" json:"failureReason,omitempty"`
	CompletedAt          *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	CreatedAt            time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
}

type PurchaseRequest struct {
	EventID  string `json:"eventId" validate:"required"`
	TierID   string `json:"tierId" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1,max=50"`
}

type VerifyRequest struct {
	Reference string `json:"reference" validate:"required"`
}

// CheckoutResponse is returned by purchase and retry.
type CheckoutResponse struct {
	OrderID    string    `json:"orderId"`
	Reference  string    `json:"reference"`
	PaymentURL string    `json:"paymentUrl"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type OrderWithTickets struct {
	Order   Order    `json:"order"`
	Tickets []Ticket `json:"tickets"`
}

// CheckoutNotice is the live-sales event sent to organizer dashboards.
type CheckoutNotice struct {
	OrderID     string    `json:"orderId"`
	EventID     string    `json:"eventId"`
	TierID      string    `json:"tierId"`
	Quantity    int       `json:"quantity"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	CompletedAt time.Time `json:"completedAt"`
}
