package countstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisWindowPrefix string = "window/"
var redisValuePrefix string = "value/"

// Sliding window over a sorted set: members are "<millis>-<nonce>:<amount>", scored by hit time in milliseconds.
//
// Runs atomically on the redis side, so a single increment-and-count is consistent even with multiple processes sharing the store.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local amount = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if amount > 0 then
	redis.call('ZADD', key, now, ARGV[4] .. ':' .. amount)
end
local total = 0
for _, m in ipairs(redis.call('ZRANGE', key, 0, -1)) do
	total = total + tonumber(string.match(m, ':(%d+)$'))
end
redis.call('PEXPIRE', key, window)
return total
`)

type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	rcs := RedisCountStore{
		Client: rdb,
	}
	return &rcs, nil
}

func (s *RedisCountStore) IncrementWindow(ctx context.Context, key string, amount int, window time.Duration) (int, error) {
	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d-%016x", now, rand.Uint64())
	total, err := windowScript.Run(ctx, s.Client, []string{redisWindowPrefix + key}, now, window.Milliseconds(), amount, member).Int()
	if err != nil {
		return 0, fmt.Errorf("incrementing window %s: %w", key, err)
	}
	return total, nil
}

func (s *RedisCountStore) GetSet(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	key = redisValuePrefix + key

	// swap and refresh expiry in a single round-trip
	multi := s.Client.TxPipeline()
	prev := multi.GetSet(ctx, key, val)
	multi.Expire(ctx, key, ttl)
	_, err := multi.Exec(ctx)
	if err != nil && err != redis.Nil {
		return 0, err
	}

	v, err := prev.Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return v, nil
}
