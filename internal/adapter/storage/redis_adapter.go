package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	retryKeyPrefix       = "retry:"
)

// Deletes the lock only while it still holds the caller's token.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return "", false, errors.Wrapf(err, "acquire lock %s", name)
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

func (r *RedisAdapter) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	deleted, err := releaseLockScript.Run(ctx, r.client, []string{name}, token).Int()
	if err != nil {
		return false, errors.Wrapf(err, "release lock %s", name)
	}

	return deleted == 1, nil
}

func (r *RedisAdapter) GetResult(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, idempotencyKeyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get idempotency result")
	}

	return payload, true, nil
}

func (r *RedisAdapter) SaveResult(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	err := r.client.Set(ctx, idempotencyKeyPrefix+fingerprint, payload, ttl).Err()
	return errors.Wrap(err, "save idempotency result")
}

func (r *RedisAdapter) IncrementRetry(ctx context.Context, orderID string, ttl time.Duration) (int, error) {
	key := retryKeyPrefix + orderID

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "increment retry for order %s", orderID)
	}

	return int(incr.Val()), nil
}

func (r *RedisAdapter) ClearRetry(ctx context.Context, orderID string) error {
	err := r.client.Del(ctx, retryKeyPrefix+orderID).Err()
	return errors.Wrapf(err, "clear retry for order %s", orderID)
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
