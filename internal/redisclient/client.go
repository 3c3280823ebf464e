package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const deliveryKeyPrefix = "invoice:emailed:"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps an existing go-redis client
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimDelivery marks the document version identified by key as being
// emailed. It returns false when another delivery already holds the claim.
func (c *Client) ClaimDelivery(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, deliveryKeyPrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery failed: %w", err)
	}
	return ok, nil
}

// ReleaseDelivery drops a claim so a later redelivery can retry the email
func (c *Client) ReleaseDelivery(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, deliveryKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release delivery failed: %w", err)
	}
	return nil
}
