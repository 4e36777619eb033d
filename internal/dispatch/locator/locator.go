package locator

import (
	"context"
	"math"
	"sort"

	"github.com/example/ridehail/internal/booking/domain"
)

// Candidate is an available driver paired with its distance from the
// search center.
type Candidate struct {
	Driver        domain.Driver
	DistanceMiles float64
}

// Locator finds currently-available drivers around a center point.
// Implementations return candidates sorted by ascending distance; an empty
// result is a nil slice, not an error.
type Locator interface {
	FindNearby(ctx context.Context, center domain.GeoPoint, radiusMiles float64) ([]Candidate, error)
}

const earthRadiusMiles = 3958.8

// HaversineMiles returns the great-circle distance in miles between two
// points in decimal degrees.
func HaversineMiles(a, b domain.GeoPoint) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	rLat1 := radians(a.Lat)
	rLat2 := radians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMiles * c
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// RepositoryLocator scans the driver store of record. Fine for a single
// process; the Redis variant serves the multi-instance deployment.
type RepositoryLocator struct {
	drivers domain.DriverRepository
}

// NewRepositoryLocator constructs a locator over the driver repository.
func NewRepositoryLocator(drivers domain.DriverRepository) *RepositoryLocator {
	return &RepositoryLocator{drivers: drivers}
}

// FindNearby filters the available pool by radius and sorts by distance.
func (l *RepositoryLocator) FindNearby(ctx context.Context, center domain.GeoPoint, radiusMiles float64) ([]Candidate, error) {
	available, err := l.drivers.AvailableDrivers(ctx)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, d := range available {
		dist := HaversineMiles(center, d.Location)
		if dist <= radiusMiles {
			out = append(out, Candidate{Driver: d, DistanceMiles: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMiles < out[j].DistanceMiles })
	return out, nil
}
