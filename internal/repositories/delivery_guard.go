package repositories

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeliveryGuard claims keys with SETNX so a redelivered trigger is processed once.
type RedisDeliveryGuard struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func NewRedisDeliveryGuard(client *redis.Client, ttl time.Duration) *RedisDeliveryGuard {
	return &RedisDeliveryGuard{Client: client, Prefix: "chat:dispatch:", TTL: ttl}
}

// Claim returns false when key was already claimed and has not expired.
func (g *RedisDeliveryGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.Client.SetNX(ctx, g.Prefix+key, time.Now().UTC().Format(time.RFC3339), g.TTL).Result()
}

// Release drops a claim so the next delivery retries.
func (g *RedisDeliveryGuard) Release(ctx context.Context, key string) error {
	return g.Client.Del(ctx, g.Prefix+key).Err()
}
