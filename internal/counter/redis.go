package counter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the key and arms its TTL on first use, returning
// the count together with the remaining TTL so one round trip decides the
// window. The TTL re-arm guards against keys left without expiry.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
if ttl < 0 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore is the distributed counter store. Windows are anchored at the
// first increment of a key and enforced by Redis key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore. prefix namespaces keys so several
// deployments can share one Redis.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

// Increment counts one request against key in its current window.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Result, error) {
	if s == nil || s.client == nil {
		return Result{}, fmt.Errorf("redis counter: not initialized")
	}
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	res, errEval := incrScript.Run(ctx, s.client, []string{s.buildKey(key)}, secs).Result()
	if errEval != nil {
		return Result{}, fmt.Errorf("redis counter: %w", errEval)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("redis counter: unexpected response %T", res)
	}
	count, okCount := toInt64(values[0])
	ttl, okTTL := toInt64(values[1])
	if !okCount || !okTTL {
		return Result{}, fmt.Errorf("redis counter: unexpected element types in %v", values)
	}
	if ttl < 0 {
		ttl = secs
	}
	return Result{Count: count, TTL: time.Duration(ttl) * time.Second}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
