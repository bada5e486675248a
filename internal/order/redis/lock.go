package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-marketplace/internal/logger"
)

const (
	holdPrefix = "hold:"
	lockPrefix = "lock:"
)

// compare-and-delete so a lock that expired and was re-acquired by someone
// else is never released by the previous owner.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{Client: client, Logger: log}
}

func HoldKey(orderID string) string {
	return holdPrefix + orderID
}

// HoldKeyOrderID extracts the order id from an expired hold key.
func HoldKeyOrderID(key string) (string, bool) {
	if !strings.HasPrefix(key, holdPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, holdPrefix), true
}

// HoldReservation marks an order's reservation as live for ttl. When the key
// expires the keyspace subscriber releases the reservation.
func (r *Redis) HoldReservation(ctx context.Context, orderID string, ttl time.Duration) error {
	if err := r.Client.Set(ctx, HoldKey(orderID), orderID, ttl).Err(); err != nil {
		return fmt.Errorf("set hold for order %s: %w", orderID, err)
	}
	r.Logger.Debug("REDIS", fmt.Sprintf("Hold set for order %s (ttl %s)", orderID, ttl))
	return nil
}

func (r *Redis) ReleaseHold(ctx context.Context, orderID string) error {
	if err := r.Client.Del(ctx, HoldKey(orderID)).Err(); err != nil {
		return fmt.Errorf("release hold for order %s: %w", orderID, err)
	}
	return nil
}

func (r *Redis) HoldTTL(ctx context.Context, orderID string) (time.Duration, error) {
	return r.Client.TTL(ctx, HoldKey(orderID)).Result()
}

// AcquireLock takes a short-lived mutex on name. The returned token must be
// passed to ReleaseLock.
func (r *Redis) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockPrefix+name, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return token, ok, nil
}

// WaitLock polls AcquireLock until it succeeds, wait elapses or ctx ends.
func (r *Redis) WaitLock(ctx context.Context, name string, ttl, wait time.Duration) (string, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		token, ok, err := r.AcquireLock(ctx, name, ttl)
		if err != nil || ok {
			return token, ok, err
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (r *Redis) ReleaseLock(ctx context.Context, name, token string) error {
	if err := unlockScript.Run(ctx, r.Client, []string{lockPrefix + name}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
