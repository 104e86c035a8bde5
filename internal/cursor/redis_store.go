package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 90 * 24 * time.Hour

// markSeen sets the marker only when the new value is later. Markers
// are unix microseconds.
var markSeen = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local current = tonumber(raw or '0')
local incoming = tonumber(ARGV[1])
if incoming > current then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return ARGV[1]
end
if not raw then
	return '0'
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return raw
`)

// RedisStore keeps read markers in Redis so they survive restarts and
// are shared between API instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "murmur:seen:",
		ttl:    defaultTTL,
	}
}

func (s *RedisStore) key(userID, stream string) string {
	return s.prefix + key(userID, stream)
}

func (s *RedisStore) Seen(ctx context.Context, userID, stream string) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.key(userID, stream)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read marker: %w", err)
	}
	return parseMicros(raw)
}

func (s *RedisStore) MarkSeen(ctx context.Context, userID, stream string, at time.Time) (time.Time, error) {
	micros := strconv.FormatInt(at.UTC().UnixMicro(), 10)
	ttl := strconv.FormatInt(s.ttl.Milliseconds(), 10)
	raw, err := markSeen.Run(ctx, s.client, []string{s.key(userID, stream)}, micros, ttl).Text()
	if err != nil {
		return time.Time{}, fmt.Errorf("mark seen: %w", err)
	}
	return parseMicros(raw)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseMicros(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse marker %q: %w", raw, err)
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(n).UTC(), nil
}
