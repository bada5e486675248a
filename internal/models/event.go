package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	EventDraft     = "draft"
	EventPublished = "published"
	EventCancelled = "cancelled"
	EventCompleted = "completed"
)

type Venue struct {
	Name    string `bun:"name" json:"name"`
	Address string `bun:"address" json:"address"`
	City    string `bun:"city" json:"city"`
	State   string `bun:"state" json:"state"`
	Country string `bun:"country" json:"country"`
}

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `bun:"id,pk" json:"id"`
	OrganizerID string    `bun:"organizer_id,notnull" json:"organizerId"`
	Title       string    `bun:"title,notnull" json:"title"`
	Description string    `bun:"description" json:"description"`
	Category    string    `bun:"category" json:"category"`
	Artist      string    `bun:"artist" json:"artist,omitempty"`
	Venue       Venue     `bun:"embed:venue_" json:"venue"`
	EventDate   time.Time `bun:"event_date,notnull" json:"eventDate"`
	BannerImage string    `bun:"banner_image" json:"bannerImage,omitempty"`
	Currency    string    `bun:"currency,notnull" json:"currency"`
	Status      string    `bun:"status,notnull" json:"status"`

	// Derived totals. Live traffic adjusts them incrementally and bumps
	// StatsVersion; reconciliation overwrites them only when the version it
	// read is still current.
	TotalRevenue    int64     `bun:"total_revenue,notnull" json:"totalRevenue"`
	TicketsSold     int64     `bun:"tickets_sold,notnull" json:"ticketsSold"`
	StatsVersion    int64     `bun:"stats_version,notnull" json:"-"`
	StatsComputedAt time.Time `bun:"stats_computed_at,notnull" json:"-"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updatedAt"`

	Tiers []*TicketTier `bun:"rel:has-many,join:id=event_id" json:"ticketTiers,omitempty"`
}

type TicketTier struct {
	bun.BaseModel `bun:"table:ticket_tiers"`

	ID          string    `bun:"id,pk" json:"id"`
	EventID     string    `bun:"event_id,notnull" json:"eventId"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description string    `bun:"description" json:"description,omitempty"`
	Price       int64     `bun:"price,notnull" json:"price"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	Sold        int       `bun:"sold,notnull" json:"sold"`
	Reserved    int       `bun:"reserved,notnull" json:"reserved"`
	MaxPerUser  int       `bun:"max_per_user,notnull" json:"maxPerUser"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"createdAt"`
}

func (t *TicketTier) Available() int {
	return t.Quantity - t.Sold - t.Reserved
}

// CanTransition reports whether an event may move from one status to another.
// Cancellation is terminal and completed events cannot be cancelled.
func CanTransition(from, to string) bool {
	switch from {
	case EventDraft:
		return to == EventPublished || to == EventCancelled
	case EventPublished:
		return to == EventCompleted || to == EventCancelled
	default:
		return false
	}
}

type TierInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
	Price       int64  `json:"price" validate:"min=0"`
	Quantity    int    `json:"quantity" validate:"min=1"`
	MaxPerUser  int    `json:"maxPerUser" validate:"min=0"`
}

type VenueInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=300"`
	City    string `json:"city" validate:"required,max=100"`
	State   string `json:"state" validate:"max=100"`
	Country string `json:"country" validate:"max=100"`
}

func (v VenueInput) Venue() Venue {
	return Venue{Name: v.Name, Address: v.Address, City: v.City, State: v.State, Country: v.Country}
}

type CreateEventRequest struct {
	Title       string      `json:"title" validate:"required,max=200"`
	Description string      `json:"description" validate:"max=10000"`
	Category    string      `json:"category" validate:"max=50"`
	Artist      string      `json:"artist" validate:"max=200"`
	Venue       VenueInput  `json:"venue"`
	EventDate   time.Time   `json:"eventDate" validate:"required"`
	BannerImage string      `json:"bannerImage" validate:"max=500"`
	Currency    string      `json:"currency" validate:"omitempty,len=3"`
	Tiers       []TierInput `json:"ticketTiers" validate:"max=20,dive"`
}

// UpdateEventRequest changes only the fields that are set. A non-nil Tiers
// replaces every tier of the event.
type UpdateEventRequest struct {
	Title       *string     `json:"title" validate:"omitempty,max=200"`
	Description *string     `json:"description" validate:"omitempty,max=10000"`
	Category    *string     `json:"category" validate:"omitempty,max=50"`
	Artist      *string     `json:"artist" validate:"omitempty,max=200"`
	Venue       *VenueInput `json:"venue"`
	EventDate   *time.Time  `json:"eventDate"`
	BannerImage *string     `json:"bannerImage" validate:"omitempty,max=500"`
	Tiers       []TierInput `json:"ticketTiers" validate:"omitempty,max=20,dive"`
}

type EventFilter struct {
	Search      string
	Category    string
	City        string
	Status      string
	OrganizerID string
}
