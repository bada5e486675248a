package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const refreshKeyPrefix = "refresh:"

// RefreshStore tracks live refresh token ids in Redis. A refresh token is
// valid only while its id is present, and consuming it deletes the id, so each
// token can be exchanged exactly once.
type RefreshStore struct {
	Client *redis.Client
}

func NewRefreshStore(client *redis.Client) *RefreshStore {
	return &RefreshStore{Client: client}
}

func (s *RefreshStore) Save(ctx context.Context, id, userID string, ttl time.Duration) error {
	if err := s.Client.Set(ctx, refreshKeyPrefix+id, userID, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// Consume atomically removes id and reports the user it belonged to.
func (s *RefreshStore) Consume(ctx context.Context, id string) (string, bool, error) {
	userID, err := s.Client.GetDel(ctx, refreshKeyPrefix+id).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume refresh token: %w", err)
	}
	return userID, true, nil
}

func (s *RefreshStore) Revoke(ctx context.Context, id string) error {
	if err := s.Client.Del(ctx, refreshKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
