package analytics

import (
	"context"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
)

// EventSummary is one row of the organizer dashboard.
type EventSummary struct {
	EventID      string    `json:"eventId"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	EventDate    time.Time `json:"eventDate"`
	TotalRevenue int64     `json:"totalRevenue"`
	TicketsSold  int64     `json:"ticketsSold"`
}

// OrganizerAnalytics aggregates every event of one organizer.
type OrganizerAnalytics struct {
	OrganizerID      string              `json:"organizerId"`
	TotalEvents      int                 `json:"totalEvents"`
	EventsByStatus   map[string]int      `json:"eventsByStatus"`
	GrossRevenue     int64               `json:"grossRevenue"`
	RefundedAmount   int64               `json:"refundedAmount"`
	NetRevenue       int64               `json:"netRevenue"`
	TotalOrders      int                 `json:"totalOrders"`
	TotalTicketsSold int64               `json:"totalTicketsSold"`
	CheckedIn        int                 `json:"checkedIn"`
	DailySales       []DailySalesMetrics `json:"dailySales"`
	Events           []EventSummary      `json:"events"`
}

// BatchEventAnalytics represents aggregated analytics data for multiple events
type BatchEventAnalytics struct {
	EventIDs         []string            `json:"eventIds"`
	GrossRevenue     int64               `json:"grossRevenue"`
	RefundedAmount   int64               `json:"refundedAmount"`
	NetRevenue       int64               `json:"netRevenue"`
	TotalOrders      int                 `json:"totalOrders"`
	TotalTicketsSold int64               `json:"totalTicketsSold"`
	DailySales       []DailySalesMetrics `json:"dailySales"`
	SalesByTier      []TierSalesMetrics  `json:"salesByTier"`
}

// GetOrganizerAnalytics summarises all events owned by organizerID.
func (s *Service) GetOrganizerAnalytics(ctx context.Context, organizerID string) (*OrganizerAnalytics, error) {
	events, err := s.db.EventsByOrganizer(ctx, organizerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	out := &OrganizerAnalytics{
		OrganizerID:    organizerID,
		TotalEvents:    len(events),
		EventsByStatus: map[string]int{},
		DailySales:     []DailySalesMetrics{},
		Events:         make([]EventSummary, 0, len(events)),
	}
	if len(events) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
		out.EventsByStatus[e.Status]++
		out.Events = append(out.Events, EventSummary{
			EventID:      e.ID,
			Title:        e.Title,
			Status:       e.Status,
			EventDate:    e.EventDate,
			TotalRevenue: e.TotalRevenue,
			TicketsSold:  e.TicketsSold,
		})
	}

	totals, err := s.db.OrderTotals(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	refunded, err := s.db.Refunded(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	checkedIn, err := s.db.CheckedIn(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	daily, err := s.db.DailySales(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	out.GrossRevenue = totals.Gross
	out.RefundedAmount = refunded
	out.NetRevenue = totals.Gross - refunded
	out.TotalOrders = totals.Orders
	out.TotalTicketsSold = totals.Tickets
	out.CheckedIn = checkedIn
	out.DailySales = daily
	return out, nil
}

// GetBatchEventAnalytics aggregates several events into one view. Organizers
// only get figures for the events they own; ids they do not own are dropped.
func (s *Service) GetBatchEventAnalytics(ctx context.Context, eventIDs []string, v Viewer) (*BatchEventAnalytics, error) {
	ids := eventIDs
	if v.Role != models.RoleAdmin && len(ids) > 0 {
		owned, err := s.db.OwnedEventIDs(ctx, ids, v.UserID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		ids = owned
	}

	out := &BatchEventAnalytics{
		EventIDs:    ids,
		DailySales:  []DailySalesMetrics{},
		SalesByTier: []TierSalesMetrics{},
	}
	if len(ids) == 0 {
		out.EventIDs = []string{}
		return out, nil
	}

	totals, err := s.db.OrderTotals(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	refunded, err := s.db.Refunded(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if out.DailySales, err = s.db.DailySales(ctx, ids); err != nil {
		return nil, apperr.Internal(err)
	}
	if out.SalesByTier, err = s.db.SalesByTier(ctx, ids); err != nil {
		return nil, apperr.Internal(err)
	}

	out.GrossRevenue = totals.Gross
	out.RefundedAmount = refunded
	out.NetRevenue = totals.Gross - refunded
	out.TotalOrders = totals.Orders
	out.TotalTicketsSold = totals.Tickets
	return out, nil
}
