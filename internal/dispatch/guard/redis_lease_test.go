package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLeaseAcquireAndRelease(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisLeaseStore(client, "")
	ctx := context.Background()

	driverID := uuid.New()
	bookingA := uuid.New()
	bookingB := uuid.New()

	ok, err := store.TryAcquire(ctx, driverID, bookingA, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryAcquire(ctx, driverID, bookingB, time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Release(ctx, driverID))

	ok, err = store.TryAcquire(ctx, driverID, bookingB, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLeaseExpires(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisLeaseStore(client, "")
	ctx := context.Background()

	driverID := uuid.New()
	ok, err := store.TryAcquire(ctx, driverID, uuid.New(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = store.TryAcquire(ctx, driverID, uuid.New(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}
