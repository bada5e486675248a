package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TxInitiated         = "initiated"
	TxProcessing        = "processing"
	TxCompleted         = "completed"
	TxFailed            = "failed"
	TxRefunded          = "refunded"
	TxPartiallyRefunded = "partially_refunded"
)

// Transaction is one payment-gateway attempt for an order.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	ID               string     `bun:"id,pk" json:"id"`
	OrderID          string     `bun:"order_id,notnull" json:"orderId"`
	BuyerID          string     `bun:"buyer_id,notnull" json:"buyerId"`
	EventID          string     `bun:"event_id,notnull" json:"eventId"`
	Reference        string     `bun:"reference,unique,notnull" json:"reference"`
	Gateway          string     `bun:"gateway,notnull" json:"gateway"`
	GatewayPaymentID string     `bun:"gateway_payment_id" json:"gatewayPaymentId,omitempty"`
	AuthorizationURL string     `bun:"authorization_url" json:"authorizationUrl,omitempty"`
	Amount           int64      `bun:"amount,notnull" json:"amount"`
	Currency         string     `bun:"currency,notnull" json:"currency"`
	Status           string     `bun:"status,notnull" json:"status"`
	RetryCount       int        `bun:"retry_count,notnull" json:"retryCount"`
	MaxRetries       int        `bun:"max_retries,notnull" json:"maxRetries"`
	TotalRefunded    int64      `bun:"total_refunded,notnull" json:"totalRefunded"`
	FailureReason    string     `bun:"failure_reason" json:"failureReason,omitempty"`
	CompletedAt      *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	CreatedAt        time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
}

func (t *Transaction) Settled() bool {
	switch t.Status {
	case TxCompleted, TxPartiallyRefunded, TxRefunded:
		return true
	}
	return false
}

const (
	RefundPending   = "pending"
	RefundSucceeded = "succeeded"
	RefundFailed    = "failed"
)

type Refund struct {
	bun.BaseModel `bun:"table:refunds"`

	ID              string    `bun:"id,pk" json:"id"`
	TransactionID   string    `bun:"transaction_id,notnull" json:"transactionId"`
	OrderID         string    `bun:"order_id,notnull" json:"orderId"`
	Amount          int64     `bun:"amount,notnull" json:"amount"`
	Reason          string    `bun:"reason" json:"reason"`
	ActorID         string    `bun:"actor_id" json:"actorId"`
	Status          string    `bun:"status,notnull" json:"status"`
	GatewayRefundID string    `bun:"gateway_refund_id" json:"gatewayRefundId,omitempty"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"createdAt"`
}

type TransactionFilter struct {
	Status  string
	EventID string
	BuyerID string
	Search  string
}

type TransactionStats struct {
	Total          int   `json:"total"`
	CompletedCount int   `json:"completedCount"`
	FailedCount    int   `json:"failedCount"`
	PendingCount   int   `json:"pendingCount"`
	RefundedCount  int   `json:"refundedCount"`
	TotalAmount    int64 `json:"totalAmount"`
	TotalRefunded  int64 `json:"totalRefunded"`
}

type RefundRequest struct {
	Amount int64  `json:"amount" validate:"min=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}
