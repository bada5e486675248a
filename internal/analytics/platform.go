package analytics

import (
	"context"
	"time"

	"ms-marketplace/internal/apperr"
)

// UrgentDisputeAge is how long a dispute may stay open before it counts as urgent.
const UrgentDisputeAge = 48 * time.Hour

// PlatformStats feeds the admin dashboard.
type PlatformStats struct {
	Users struct {
		Total  int            `json:"total"`
		ByRole map[string]int `json:"byRole"`
	} `json:"users"`
	Events struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"byStatus"`
	} `json:"events"`
	Orders struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"byStatus"`
		Revenue  int64          `json:"revenue"`
		Refunded int64          `json:"refunded"`
		Net      int64          `json:"net"`
	} `json:"orders"`
	Tickets struct {
		Issued    int `json:"issued"`
		CheckedIn int `json:"checkedIn"`
	} `json:"tickets"`
	Disputes struct {
		ByStatus map[string]int `json:"byStatus"`
		Urgent   int            `json:"urgent"`
	} `json:"disputes"`
	PendingApprovals struct {
		Organizers int `json:"organizers"`
	} `json:"pendingApprovals"`
	GeneratedAt time.Time `json:"generatedAt"`
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func (s *Service) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	now := s.now()
	out := &PlatformStats{GeneratedAt: now}

	var err error
	if out.Users.ByRole, err = s.db.CountBy(ctx, "users", "role"); err != nil {
		return nil, apperr.Internal(err)
	}
	if out.Events.ByStatus, err = s.db.CountBy(ctx, "events", "status"); err != nil {
		return nil, apperr.Internal(err)
	}
	if out.Orders.ByStatus, err = s.db.CountBy(ctx, "orders", "status"); err != nil {
		return nil, apperr.Internal(err)
	}
	if out.Disputes.ByStatus, err = s.db.CountBy(ctx, "disputes", "status"); err != nil {
		return nil, apperr.Internal(err)
	}
	totals, err := s.db.PlatformTotals(ctx, now.Add(-UrgentDisputeAge))
	if err != nil {
		return nil, apperr.Internal(err)
	}

	out.Users.Total = sum(out.Users.ByRole)
	out.Events.Total = sum(out.Events.ByStatus)
	out.Orders.Total = sum(out.Orders.ByStatus)
	out.Orders.Revenue = totals.Gross
	out.Orders.Refunded = totals.Refunded
	out.Orders.Net = totals.Gross - totals.Refunded
	out.Tickets.Issued = totals.Issued
	out.Tickets.CheckedIn = totals.Used
	out.Disputes.Urgent = totals.Urgent
	out.PendingApprovals.Organizers = totals.Pending
	return out, nil
}
