package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the sorted-set key used when none is configured.
const DefaultKey = "linechat:online"

// RedisPublisher keeps online identities in a Redis sorted set scored by the
// claim time in milliseconds, so ZRANGE returns them in join order. A hash
// next to it records the owner token of every name.
type RedisPublisher struct {
	client redis.UniversalClient
	key    string
}

// NewRedisPublisher creates a publisher writing to key through client.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	pub := presence.NewRedisPublisher(client, presence.DefaultKey)
func NewRedisPublisher(client redis.UniversalClient, key string) *RedisPublisher {
	if key == "" {
		key = DefaultKey
	}

	return &RedisPublisher{client: client, key: key}
}

// Dial connects to the Redis server at addr and checks it answers PING.
//
// Parameters:
//   - ctx: Bounds the PING
//   - addr: "host:port" of the Redis server
//   - key: Sorted-set key; empty selects DefaultKey
//
// Returns:
//   - The publisher, or an error if Redis is unreachable
func Dial(ctx context.Context, addr string, key string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return NewRedisPublisher(client, key), nil
}

// Key returns the sorted-set key.
func (p *RedisPublisher) Key() string {
	return p.key
}

// OwnersKey returns the hash key mapping each online name to its owner token.
func (p *RedisPublisher) OwnersKey() string {
	return p.key + ":owners"
}

// Joined implements Publisher. The sorted-set entry and the owner hash are
// written in one transaction.
func (p *RedisPublisher) Joined(ctx context.Context, name, owner string, at time.Time) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, p.key, redis.Z{Score: float64(at.UnixMilli()), Member: name})
		pipe.HSet(ctx, p.OwnersKey(), name, owner)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis zadd %s: %w", p.key, err)
	}

	return nil
}

// leftScript removes a name only while the owner hash still names the
// departing owner.
var leftScript = redis.NewScript(`
if redis.call("HGET", KEYS[2], ARGV[1]) == ARGV[2] then
	redis.call("HDEL", KEYS[2], ARGV[1])
	redis.call("ZREM", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// Left implements Publisher.
func (p *RedisPublisher) Left(ctx context.Context, name, owner string) error {
	if err := leftScript.Run(ctx, p.client, []string{p.key, p.OwnersKey()}, name, owner).Err(); err != nil {
		return fmt.Errorf("redis zrem %s: %w", p.key, err)
	}

	return nil
}

// Reset implements Publisher.
func (p *RedisPublisher) Reset(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key, p.OwnersKey()).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", p.key, err)
	}

	return nil
}

// Online returns the mirrored identities in join order.
func (p *RedisPublisher) Online(ctx context.Context) ([]string, error) {
	names, err := p.client.ZRange(ctx, p.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange %s: %w", p.key, err)
	}

	return names, nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
