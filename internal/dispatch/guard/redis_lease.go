package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLeasePrefix = "dispatch:lease:driver:"

// RedisLeaseStore implements LeaseStore on Redis SETNX semantics. A TTL is
// attached to every lease to avoid stale locks surviving a crashed instance.
type RedisLeaseStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisLeaseStore constructs the lease helper.
func NewRedisLeaseStore(client redis.Cmdable, prefix string) *RedisLeaseStore {
	if prefix == "" {
		prefix = defaultLeasePrefix
	}
	return &RedisLeaseStore{client: client, keyPrefix: prefix}
}

// TryAcquire attempts to take the lease using SET NX EX.
func (r *RedisLeaseStore) TryAcquire(ctx context.Context, driverID, bookingID uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	ok, err := r.client.SetNX(ctx, r.keyPrefix+driverID.String(), bookingID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release removes the lease key.
func (r *RedisLeaseStore) Release(ctx context.Context, driverID uuid.UUID) error {
	if err := r.client.Del(ctx, r.keyPrefix+driverID.String()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
