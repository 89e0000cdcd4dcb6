package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type countValue struct {
	total  int64
	capped bool
}

// CountCache stores search totals in redis, or in process memory when no
// redis client is available.
type CountCache struct {
	client *redis.Client
	local  Cache[string, countValue]
}

func NewCountCache(client *redis.Client) *CountCache {
	return &CountCache{
		client: client,
		local:  NewTTLCache[string, countValue](),
	}
}

func (c *CountCache) GetCount(ctx context.Context, key string) (int64, bool, bool, error) {
	if c.client == nil {
		v, ok := c.local.Get(key)
		return v.total, v.capped, ok, nil
	}

	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	total, capped, err := decodeCount(raw)
	if err != nil {
		return 0, false, false, err
	}
	return total, capped, true, nil
}

func (c *CountCache) SetCount(ctx context.Context, key string, total int64, capped bool, ttl time.Duration) error {
	if c.client == nil {
		c.local.Set(key, countValue{total: total, capped: capped}, ttl)
		return nil
	}
	return c.client.Set(ctx, key, encodeCount(total, capped), ttl).Err()
}

func encodeCount(total int64, capped bool) string {
	return strconv.FormatInt(total, 10) + ":" + strconv.FormatBool(capped)
}

func decodeCount(raw string) (int64, bool, error) {
	totalPart, cappedPart, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, false, errors.New("cache: malformed count value")
	}
	total, err := strconv.ParseInt(totalPart, 10, 64)
	if err != nil {
		return 0, false, err
	}
	capped, err := strconv.ParseBool(cappedPart)
	if err != nil {
		return 0, false, err
	}
	return total, capped, nil
}
