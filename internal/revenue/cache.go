package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	reportVersionKey = "revenue:version"
	// InvalidationChannel carries version bumps between processes.
	InvalidationChannel = "revenue.bump"
)

// Cache stores rendered reports in Redis under a global version. Bumping the
// version orphans every cached report at once; TTL reclaims the old keys.
// A nil Cache or one without a client degrades to always loading.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache builds the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current report version, seeding it on first use.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, reportVersionKey).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		// SETNX so two cold processes agree on the seed.
		if err := c.client.SetNX(ctx, reportVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, reportVersionKey).Int64()
	case err != nil:
		return 0, err
	case ver <= 0:
		if err := c.client.Set(ctx, reportVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	default:
		return ver, nil
	}
}

// Key joins parts and appends the current version.
func (c *Cache) Key(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(append([]string{"revenue", "report"}, parts...), ":")
	if !c.enabled() {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// Fetch decodes the cached value at key into dest, or runs loader and stores
// its result. hit reports whether the value came from Redis.
func (c *Cache) Fetch(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) (hit bool, err error) {
	if loader == nil {
		return false, errors.New("revenue cache: loader required")
	}
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return true, json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return false, err
		}
	}

	value, err := loader(ctx)
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	if c.enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return false, err
		}
	}
	return false, json.Unmarshal(raw, dest)
}

// Bump increments the version and announces it on InvalidationChannel.
func (c *Cache) Bump(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Incr(ctx, reportVersionKey).Result()
	if err != nil {
		return 0, err
	}
	if err := c.client.Publish(ctx, InvalidationChannel, strconv.FormatInt(ver, 10)).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}

// Listen relays version bumps published by other processes to onBump until
// ctx is cancelled. It returns once the subscription is confirmed.
func (c *Cache) Listen(ctx context.Context, onBump func(version int64)) error {
	if !c.enabled() {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, InvalidationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}
