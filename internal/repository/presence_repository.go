package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"presence-service/pkg/models"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix  = "presence:snapshot:"
	updatesChannel     = "presence_updates"
	rateLimitKeyPrefix = "rate_limit:"
)

// PresenceRepository is the redis side of the presence service: the short
// lived snapshot cache, the cross-instance update channel, and the rate
// limit counters.
type PresenceRepository interface {
	CachedSnapshot(ctx context.Context, tenantID string) ([]models.UserPresence, bool, error)
	CacheSnapshot(ctx context.Context, tenantID string, users []models.UserPresence, ttl time.Duration) error
	PublishUpdate(ctx context.Context, update models.StatusUpdate) error
	SubscribeUpdates(ctx context.Context) (<-chan models.StatusUpdate, error)
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Close() error
}

// updateEnvelope rides the pub/sub channel. The instance tag lets each
// subscriber skip updates it published itself; those were already fanned
// out locally.
type updateEnvelope struct {
	Instance string              `json:"instance"`
	Update   models.StatusUpdate `json:"update"`
}

type presenceRepository struct {
	client     *redis.Client
	instanceID string
	pubsub     *redis.PubSub
}

func NewPresenceRepository(client *redis.Client, instanceID string) PresenceRepository {
	return &presenceRepository{client: client, instanceID: instanceID}
}

func (r *presenceRepository) CachedSnapshot(ctx context.Context, tenantID string) ([]models.UserPresence, bool, error) {
	data, err := r.client.Get(ctx, snapshotKeyPrefix+tenantID).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached snapshot: %w", err)
	}

	var users []models.UserPresence
	if err := json.Unmarshal([]byte(data), &users); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached snapshot: %w", err)
	}
	return users, true, nil
}

func (r *presenceRepository) CacheSnapshot(ctx context.Context, tenantID string, users []models.UserPresence, ttl time.Duration) error {
	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, snapshotKeyPrefix+tenantID, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

func (r *presenceRepository) PublishUpdate(ctx context.Context, update models.StatusUpdate) error {
	payload, err := json.Marshal(updateEnvelope{Instance: r.instanceID, Update: update})
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	if err := r.client.Publish(ctx, updatesChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish status update: %w", err)
	}
	return nil
}

func (r *presenceRepository) SubscribeUpdates(ctx context.Context) (<-chan models.StatusUpdate, error) {
	if r.pubsub == nil {
		r.pubsub = r.client.Subscribe(ctx, updatesChannel)
	}

	ch := make(chan models.StatusUpdate)
	go func() {
		defer close(ch)
		for msg := range r.pubsub.Channel() {
			var envelope updateEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				slog.Error("Failed to unmarshal status update", "error", err)
				continue
			}
			if envelope.Instance == r.instanceID {
				continue
			}
			select {
			case ch <- envelope.Update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// CheckRateLimit counts requests in a fixed window via INCR, setting the
// expiry on the first hit.
func (r *presenceRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, rateLimitKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, rateLimitKeyPrefix+key, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func (r *presenceRepository) Close() error {
	if r.pubsub != nil {
		return r.pubsub.Close()
	}
	return nil
}
