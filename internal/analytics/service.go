package analytics

import (
	"context"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

// Service handles analytics operations
type Service struct {
	db  *DB
	now func() time.Time
}

// NewService creates a new analytics service
func NewService(db *DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EventAnalytics represents aggregated analytics data for an event. Amounts
// are in minor units of the event currency.
type EventAnalytics struct {
	EventID          string              `json:"eventId"`
	Title            string              `json:"title"`
	Currency         string              `json:"currency"`
	Status           string              `json:"status"`
	GrossRevenue     int64               `json:"grossRevenue"`
	RefundedAmount   int64               `json:"refundedAmount"`
	NetRevenue       int64               `json:"netRevenue"`
	FormattedRevenue string              `json:"formattedRevenue"`
	TotalOrders      int                 `json:"totalOrders"`
	TotalTicketsSold int64               `json:"totalTicketsSold"`
	CheckedIn        int                 `json:"checkedIn"`
	CheckInRate      float64             `json:"checkInRate"`
	DailySales       []DailySalesMetrics `json:"dailySales"`
	SalesByTier      []TierSalesMetrics  `json:"salesByTier"`
}

// TierSalesMetrics contains sales metrics for a specific tier
type TierSalesMetrics struct {
	TierID      string  `bun:"tier_id" json:"tierId"`
	EventID     string  `bun:"event_id" json:"eventId"`
	TierName    string  `bun:"tier_name" json:"tierName"`
	Price       int64   `bun:"price" json:"price"`
	Capacity    int     `bun:"capacity" json:"capacity"`
	TicketsSold int     `bun:"tickets_sold" json:"ticketsSold"`
	Reserved    int     `bun:"reserved" json:"reserved"`
	Revenue     int64   `bun:"revenue" json:"revenue"`
	SellThrough float64 `bun:"-" json:"sellThrough"`
}

// DailySalesMetrics contains metrics for a single day
type DailySalesMetrics struct {
	Date        string `json:"date"`
	Revenue     int64  `json:"revenue"`
	TicketsSold int    `json:"ticketsSold"`
	Orders      int    `json:"orders"`
}

// OrderSortField defines the valid fields for sorting orders
type OrderSortField string

const (
	OrderSortByAmount    OrderSortField = "amount"
	OrderSortByCreatedAt OrderSortField = "created_at"
)

type EventOrderOptions struct {
	Status   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// Viewer is the caller asking for analytics.
type Viewer struct {
	UserID string
	Role   string
}

// authorize allows admins and the event's organizer.
func (s *Service) authorize(ctx context.Context, eventID string, v Viewer) (*models.Event, error) {
	e, err := s.db.GetEvent(ctx, eventID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if v.Role != models.RoleAdmin && e.OrganizerID != v.UserID {
		return nil, apperr.Forbidden("not the organizer of this event")
	}
	return e, nil
}

// GetEventAnalytics returns revenue analytics for a specific event
func (s *Service) GetEventAnalytics(ctx context.Context, eventID string, v Viewer) (*EventAnalytics, error) {
	e, err := s.authorize(ctx, eventID, v)
	if err != nil {
		return nil, err
	}

	ids := []string{eventID}
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
	tiers, err := s.db.SalesByTier(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	net := totals.Gross - refunded
	return &EventAnalytics{
		EventID:          e.ID,
		Title:            e.Title,
		Currency:         e.Currency,
		Status:           e.Status,
		GrossRevenue:     totals.Gross,
		RefundedAmount:   refunded,
		NetRevenue:       net,
		FormattedRevenue: utils.FormatMinor(net, e.Currency),
		TotalOrders:      totals.Orders,
		TotalTicketsSold: totals.Tickets,
		CheckedIn:        checkedIn,
		CheckInRate:      utils.Rate(int64(checkedIn), totals.Tickets),
		DailySales:       daily,
		SalesByTier:      tiers,
	}, nil
}

// GetEventOrders returns one page of an event's orders.
func (s *Service) GetEventOrders(ctx context.Context, eventID string, v Viewer, opts EventOrderOptions, page utils.Page) (utils.Paginated, error) {
	if _, err := s.authorize(ctx, eventID, v); err != nil {
		return utils.Paginated{}, err
	}
	opts.Limit = page.Limit
	opts.Offset = page.Offset()
	orders, total, err := s.db.EventOrders(ctx, eventID, opts)
	if err != nil {
		return utils.Paginated{}, apperr.Internal(err)
	}
	return utils.NewPaginated(orders, total, page), nil
}
