package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewUniversalClient builds a single-node or cluster client
func NewUniversalClient(addrs []string, password string, clusterMode bool) redis.UniversalClient {
	if clusterMode {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          addrs,
			Password:       password,
			MaxRetries:     3,
			PoolSize:       50,
			MinIdleConns:   5,
			PoolTimeout:    30 * time.Second,
			MaxRedirects:   8,
			ReadOnly:       false,
			RouteByLatency: true,
		})
	}

	addr := "localhost:6379"
	if len(addrs) > 0 {
		addr = addrs[0]
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		PoolSize: 10,
	})
}

// CacheClient caches derived read views. Each listing keeps an index set
// of its view keys so one change event can drop all of them. Keys carry
// the listing id as a hash tag so a listing's keys share a cluster slot.
type CacheClient struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

func NewCacheClient(client redis.UniversalClient, ttl time.Duration, keyPrefix string) *CacheClient {
	return &CacheClient{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// GetView decodes the cached view into dest. Found is false on a miss.
func (c *CacheClient) GetView(ctx context.Context, listingID, view string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, c.viewKey(listingID, view)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get view from cache: %w", err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Str("view", view).Msg("Failed to unmarshal cached view")
		return false, fmt.Errorf("failed to unmarshal cached view: %w", err)
	}

	log.Debug().Str("listing_id", listingID).Str("view", view).Msg("Cache hit for view")
	return true, nil
}

// SetView stores value and records its key in the listing's index
func (c *CacheClient) SetView(ctx context.Context, listingID, view string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}

	key := c.viewKey(listingID, view)
	index := c.indexKey(listingID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, index, key)
		// The index outlives its newest member.
		pipe.Expire(ctx, index, c.ttl*2)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set view in cache: %w", err)
	}
	return nil
}

// InvalidateListing deletes every cached view of the listing
func (c *CacheClient) InvalidateListing(ctx context.Context, listingID string) error {
	index := c.indexKey(listingID)

	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("failed to read view index: %w", err)
	}

	if err := c.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		return fmt.Errorf("failed to delete views from cache: %w", err)
	}

	log.Debug().Str("listing_id", listingID).Int("views", len(keys)).Msg("Deleted cached views")
	return nil
}

// Ping checks if Redis is available
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CacheClient) Close() error {
	return c.client.Close()
}

func (c *CacheClient) viewKey(listingID, view string) string {
	return fmt.Sprintf("%sview:{%s}:%s", c.keyPrefix, listingID, view)
}

func (c *CacheClient) indexKey(listingID string) string {
	return fmt.Sprintf("%sviews:{%s}", c.keyPrefix, listingID)
}
