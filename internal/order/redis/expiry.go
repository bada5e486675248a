package redis

import (
	"context"
	"fmt"
	"strings"
)

// EnableExpiryEvents turns on expired-key notifications. Managed Redis
// offerings often forbid CONFIG SET, so failure is only logged.
func (r *Redis) EnableExpiryEvents(ctx context.Context) {
	if err := r.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		r.Logger.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
		return
	}
	val, err := r.Client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil || len(val) < 2 {
		return
	}
	if s, _ := val[1].(string); !strings.Contains(s, "x") || !strings.Contains(s, "E") {
		r.Logger.Warn("REDIS", "Keyspace notifications not configured for expiry events, relying on the sweeper")
	}
}

// SubscribeExpiries calls onExpire with the order id of every hold key that
// expires, until ctx is cancelled. Notifications are best effort; the
// reservation sweeper covers anything missed here.
func (r *Redis) SubscribeExpiries(ctx context.Context, onExpire func(ctx context.Context, orderID string)) {
	channel := fmt.Sprintf("__keyevent@%d__:expired", r.Client.Options().DB)
	pubsub := r.Client.PSubscribe(ctx, channel)
	defer pubsub.Close()
	r.Logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			orderID, ok := HoldKeyOrderID(msg.Payload)
			if !ok {
				continue
			}
			r.Logger.Debug("REDIS", fmt.Sprintf("Hold expired for order %s", orderID))
			onExpire(ctx, orderID)
		}
	}
}
