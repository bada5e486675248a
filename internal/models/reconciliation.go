package models

import "time"

const (
	MismatchTicketCount = "TICKET_COUNT"
	MismatchRevenue     = "REVENUE"
	MismatchTicketsSold = "TICKETS_SOLD"
)

// EventSnapshot is what reconciliation reads for one event inside a single
// consistent snapshot.
type EventSnapshot struct {
	EventID           string    `json:"eventId"`
	Title             string    `json:"title"`
	ExpectedTickets   int64     `json:"expectedTickets"`
	IssuedTickets     int64     `json:"issuedTickets"`
	StoredTicketsSold int64     `json:"storedTicketsSold"`
	ExpectedRevenue   int64     `json:"expectedRevenue"`
	StoredRevenue     int64     `json:"storedRevenue"`
	StatsVersion      int64     `json:"-"`
	TakenAt           time.Time `json:"takenAt"`
}

type Mismatch struct {
	Type        string `json:"type"`
	EntityType  string `json:"entityType"`
	EntityID    string `json:"entityId"`
	Entity      string `json:"entity"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Expected    int64  `json:"expected"`
	Actual      int64  `json:"actual"`
	Discrepancy int64  `json:"discrepancy"`
	Fixed       bool   `json:"fixed"`
	FixNote     string `json:"fixNote,omitempty"`
}

type ReconciliationReport struct {
	StartedAt     time.Time  `json:"startedAt"`
	AutoFix       bool       `json:"autoFix"`
	EventsChecked int        `json:"eventsChecked"`
	EventsFixed   int        `json:"eventsFixed"`
	TicketsIssued int        `json:"ticketsIssued"`
	Mismatches    []Mismatch `json:"mismatches"`
	Duration      string     `json:"duration"`
	DurationMs    int64      `json:"durationMs"`
}

type ReconciliationSummary struct {
	Orders struct {
		Total           int   `json:"total"`
		Revenue         int64 `json:"revenue"`
		TicketsExpected int64 `json:"ticketsExpected"`
	} `json:"orders"`
	Tickets struct {
		Actual      int64 `json:"actual"`
		Discrepancy int64 `json:"discrepancy"`
		IsHealthy   bool  `json:"isHealthy"`
	} `json:"tickets"`
	Transactions struct {
		Total       int   `json:"total"`
		Net         int64 `json:"net"`
		Orphaned    int   `json:"orphaned"`
		Discrepancy int64 `json:"discrepancy"`
		IsHealthy   bool  `json:"isHealthy"`
	} `json:"transactions"`
	Health struct {
		TicketsHealthy      bool `json:"ticketsHealthy"`
		RevenueHealthy      bool `json:"revenueHealthy"`
		TransactionsHealthy bool `json:"transactionsHealthy"`
	} `json:"health"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type FixRequest struct {
	Type     string `json:"type" validate:"required,oneof=TICKET_COUNT REVENUE TICKETS_SOLD"`
	EntityID string `json:"entityId" validate:"required"`
}

type FixResult struct {
	Fixed    bool      `json:"fixed"`
	Message  string    `json:"message"`
	Mismatch *Mismatch `json:"mismatch,omitempty"`
}

type RunRequest struct {
	AutoFix  *bool    `json:"autoFix"`
	EventIDs []string `json:"eventIds"`
}
