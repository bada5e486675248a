package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ValidatorAssignment struct {
	bun.BaseModel `bun:"table:validator_assignments"`

	ID          string    `bun:"id,pk" json:"id"`
	ValidatorID string    `bun:"validator_id,notnull,unique:validator_event" json:"validatorId"`
	EventID     string    `bun:"event_id,notnull,unique:validator_event" json:"eventId"`
	AssignedBy  string    `bun:"assigned_by" json:"assignedBy"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"createdAt"`
}

type ScanRequest struct {
	Code    string `json:"code" validate:"required,max=512"`
	EventID string `json:"eventId" validate:"required"`
}

const (
	ScanValid       = "VALID"
	ScanAlreadyUsed = "ALREADY_USED"
	ScanWrongEvent  = "WRONG_EVENT"
	ScanVoid        = "VOID"
	ScanNotFound    = "NOT_FOUND"
)

type ScanTicket struct {
	ID         string     `json:"id"`
	HolderName string     `json:"holderName"`
	TierName   string     `json:"tierName"`
	EventID    string     `json:"eventId"`
	UsedAt     *time.Time `json:"usedAt,omitempty"`
}

// ScanResult is returned flat, not inside the response envelope, so scanner
// clients can read status and ticket from both accepted and rejected scans.
type ScanResult struct {
	Success   bool        `json:"success"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Ticket    *ScanTicket `json:"ticket,omitempty"`
	ScannedAt time.Time   `json:"scannedAt"`
}

type EventCheckinStats struct {
	EventID     string  `json:"eventId"`
	Total       int     `json:"total"`
	CheckedIn   int     `json:"checkedIn"`
	Pending     int     `json:"pending"`
	Voided      int     `json:"voided"`
	CheckInRate float64 `json:"checkInRate"`
}

type AssignValidatorRequest struct {
	EventID string `json:"eventId" validate:"required"`
}

// ValidatorView is an assigned validator as listed for an event.
type ValidatorView struct {
	ValidatorAssignment
	Email    string `bun:"email" json:"email"`
	FullName string `bun:"full_name" json:"fullName"`
	Active   bool   `bun:"active" json:"active"`
}

type CheckIn struct {
	TicketID    string    `json:"ticketId"`
	EventID     string    `json:"eventId"`
	Status      string    `json:"status"`
	HolderName  string    `json:"holderName,omitempty"`
	TierName    string    `json:"tierName,omitempty"`
	ValidatorID string    `json:"validatorId"`
	ScannedAt   time.Time `json:"scannedAt"`
}
