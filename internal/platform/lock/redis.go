package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Deletes the key only while it still holds our token, so an expired lock
// re-acquired by someone else is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker backed by SET NX with a TTL. The TTL bounds how long a
// crashed holder can block others.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger zerolog.Logger
}

// RedisOption customizes a Redis locker.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix (default "claimsync:lock:").
func WithPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// WithRetryInterval sets how often a contended lock is retried.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.retry = d }
}

// WithLogger attaches a logger for release failures.
func WithLogger(l zerolog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l.With().Str("component", "lock").Logger() }
}

// NewRedis returns a distributed Locker using client.
func NewRedis(client *redis.Client, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "claimsync:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Lock polls SET NX until it wins or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	k := r.prefix + key

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("lock release failed")
		}
	}, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
