package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	DisputeOpen          = "open"
	DisputeInvestigating = "investigating"
	DisputePendingUser   = "pending_user"
	DisputeResolved      = "resolved"
	DisputeRejected      = "rejected"
	DisputeEscalated     = "escalated"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	ResolutionFullRefund    = "full_refund"
	ResolutionPartialRefund = "partial_refund"
	ResolutionReplacement   = "replacement"
	ResolutionCredit        = "credit"
	ResolutionNone          = "none"
)

type Dispute struct {
	bun.BaseModel `bun:"table:disputes"`

	ID               string     `bun:"id,pk" json:"id"`
	UserID           string     `bun:"user_id,notnull" json:"userId"`
	EventID          string     `bun:"event_id,notnull" json:"eventId"`
	OrderID          string     `bun:"order_id" json:"orderId,omitempty"`
	Reason           string     `bun:"reason,notnull" json:"reason"`
	Description      string     `bun:"description" json:"description"`
	Amount           int64      `bun:"amount,notnull" json:"amount"`
	Status           string     `bun:"status,notnull" json:"status"`
	Priority         string     `bun:"priority,notnull" json:"priority"`
	RefundID         string     `bun:"refund_id" json:"refundId,omitempty"`
	ResolutionType   string     `bun:"resolution_type" json:"resolutionType,omitempty"`
	ResolutionAmount int64      `bun:"resolution_amount,notnull" json:"resolutionAmount"`
	ResolutionNotes  string     `bun:"resolution_notes" json:"resolutionNotes,omitempty"`
	RejectionReason  string     `bun:"rejection_reason" json:"rejectionReason,omitempty"`
	HandledBy        string     `bun:"handled_by" json:"handledBy,omitempty"`
	ResolvedAt       *time.Time `bun:"resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt        time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
}

func (d *Dispute) Terminal() bool {
	return d.Status == DisputeResolved || d.Status == DisputeRejected
}

type CreateDisputeRequest struct {
	EventID     string `json:"eventId" validate:"required"`
	OrderID     string `json:"orderId"`
	Reason      string `json:"reason" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Amount      int64  `json:"amount" validate:"min=0"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

type ResolveDisputeRequest struct {
	ResolutionType string `json:"resolutionType" validate:"required,oneof=full_refund partial_refund replacement credit none"`
	RefundAmount   int64  `json:"refundAmount" validate:"min=0"`
	Notes          string `json:"notes" validate:"max=5000"`
}

func (r ResolveDisputeRequest) Refunds() bool {
	return r.ResolutionType == ResolutionFullRefund || r.ResolutionType == ResolutionPartialRefund
}

type UpdateDisputeRequest struct {
	Status   string `json:"status" validate:"required,oneof=investigating pending_user escalated"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

type RejectDisputeRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type DisputeFilter struct {
	Status   string
	EventID  string
	UserID   string
	Priority string
}

type DisputeStats struct {
	OpenCount          int `json:"openCount"`
	InvestigatingCount int `json:"investigatingCount"`
	PendingUserCount   int `json:"pendingUserCount"`
	EscalatedCount     int `json:"escalatedCount"`
	ResolvedCount      int `json:"resolvedCount"`
	RejectedCount      int `json:"rejectedCount"`
	UrgentDisputes     int `json:"urgentDisputes"`
	Total              int `json:"total"`
}
