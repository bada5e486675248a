package tickets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
)

// TicketCountDBLayer is the storage behind the daily issued-ticket counters.
type TicketCountDBLayer interface {
	IncrementTicketCount(ctx context.Context, eventID string, at time.Time, n int) error
	GetTicketCountsForEvent(ctx context.Context, eventID string) ([]models.TicketCount, error)
	GetTotalTicketsCount(ctx context.Context) (int, error)
}

// TicketCountService keeps per-event daily sales counters fed from the
// order-completed topic.
type TicketCountService struct {
	DB     TicketCountDBLayer
	Logger *logger.Logger
}

func NewTicketCountService(d TicketCountDBLayer, log *logger.Logger) *TicketCountService {
	return &TicketCountService{DB: d, Logger: log}
}

func (s *TicketCountService) IncrementTicketCount(ctx context.Context, eventID string, at time.Time, n int) error {
	return s.DB.IncrementTicketCount(ctx, eventID, at, n)
}

func (s *TicketCountService) GetTicketCountsForEvent(ctx context.Context, eventID string) ([]models.TicketCount, error) {
	return s.DB.GetTicketCountsForEvent(ctx, eventID)
}

func (s *TicketCountService) GetTotalTicketsCount(ctx context.Context) (int, error) {
	return s.DB.GetTotalTicketsCount(ctx)
}

// HandleOrderCompleted is the Kafka handler for completed orders. Malformed
// messages are logged and skipped so one bad record cannot stall the group.
func (s *TicketCountService) HandleOrderCompleted(ctx context.Context, msg kafkago.Message) error {
	var ev models.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Skipping malformed order event at offset %d: %v", msg.Offset, err))
		return nil
	}
	if ev.EventID == "" || ev.Quantity <= 0 || ev.Status != models.OrderCompleted {
		return nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = msg.Time
	}
	if err := s.DB.IncrementTicketCount(ctx, ev.EventID, at, ev.Quantity); err != nil {
		return fmt.Errorf("count tickets for order %s: %w", ev.OrderID, err)
	}
	s.Logger.LogKafka("CONSUMED", msg.Topic, fmt.Sprintf("order %s: +%d tickets for event %s", ev.OrderID, ev.Quantity, ev.EventID))
	return nil
}
