package locator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ridehail/internal/booking/domain"
)

const defaultGeoKey = "dispatch:driver:locs"

var errInvalidGeoResult = errors.New("invalid geo search result")

// RedisGeoLocator keeps a GEO index of available drivers as a read-only
// projection of the driver store. Reservation removes the member, release
// and location updates re-add it, always after the primary commit.
type RedisGeoLocator struct {
	client  redis.Cmdable
	key     string
	drivers domain.DriverRepository
}

// NewRedisGeoLocator constructs a Redis-backed locator. The driver
// repository resolves ids found in the index back to full records.
func NewRedisGeoLocator(client redis.Cmdable, key string, drivers domain.DriverRepository) *RedisGeoLocator {
	if key == "" {
		key = defaultGeoKey
	}
	return &RedisGeoLocator{client: client, key: key, drivers: drivers}
}

// Track adds or moves a driver in the index.
func (l *RedisGeoLocator) Track(ctx context.Context, driverID uuid.UUID, p domain.GeoPoint) error {
	err := l.client.GeoAdd(ctx, l.key, &redis.GeoLocation{
		Name:      driverID.String(),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis geoadd: %w", err)
	}
	return nil
}

// Untrack removes a driver from the index, typically on reservation.
func (l *RedisGeoLocator) Untrack(ctx context.Context, driverID uuid.UUID) error {
	if err := l.client.ZRem(ctx, l.key, driverID.String()).Err(); err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	return nil
}

// FindNearby queries the GEO index sorted by distance and resolves each hit
// against the store of record, dropping drivers that are no longer available.
func (l *RedisGeoLocator) FindNearby(ctx context.Context, center domain.GeoPoint, radiusMiles float64) ([]Candidate, error) {
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusMiles,
			RadiusUnit: "mi",
			Sort:       "ASC",
		},
		WithDist: true,
	}
	results, err := l.client.GeoSearchLocation(ctx, l.key, query).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}

	var out []Candidate
	for _, res := range results {
		id, err := uuid.Parse(res.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errInvalidGeoResult, res.Name)
		}
		driver, err := l.drivers.GetDriverByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if driver.Status != domain.DriverAvailable {
			continue
		}
		out = append(out, Candidate{Driver: driver, DistanceMiles: res.Dist})
	}
	return out, nil
}
