package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/booking/domain"
)

// LeaseStore is an optional cross-process lock taken before touching the
// store of record. It is protection against two service instances racing on
// the same driver; the primary store remains the single writer of record.
type LeaseStore interface {
	TryAcquire(ctx context.Context, driverID, bookingID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, driverID uuid.UUID) error
}

// GeoIndex mirrors the available-driver pool into a search projection.
// Updates happen after the store of record commits; a nil index means the
// pool alone backs searches.
type GeoIndex interface {
	Untrack(ctx context.Context, driverID uuid.UUID) error
	Track(ctx context.Context, driverID uuid.UUID, p domain.GeoPoint) error
}

// Guard performs the atomic driver reservation for a booking. Reserve is the
// sole arbiter of accept races: exactly one of two concurrent calls for the
// same driver, or the same booking, succeeds.
type Guard struct {
	bookings domain.BookingRepository
	drivers  domain.DriverRepository
	lease    LeaseStore
	geo      GeoIndex
	leaseTTL time.Duration
	clock    domain.Clock
}

// New constructs a Guard. lease and geo may be nil for single-instance
// deployments without Redis.
func New(bookings domain.BookingRepository, drivers domain.DriverRepository, lease LeaseStore, geo GeoIndex, leaseTTL time.Duration, clock domain.Clock) *Guard {
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Second
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Guard{bookings: bookings, drivers: drivers, lease: lease, geo: geo, leaseTTL: leaseTTL, clock: clock}
}

// Reserve binds driverID to bookingID: driver available -> unavailable, then
// booking pending -> confirmed with the driver set, as two check-and-set
// steps with rollback. A lost race on either step yields ErrConflict and no
// net mutation.
func (g *Guard) Reserve(ctx context.Context, bookingID, driverID uuid.UUID) (domain.Booking, error) {
	if g.lease != nil {
		acquired, err := g.lease.TryAcquire(ctx, driverID, bookingID, g.leaseTTL)
		if err != nil {
			return domain.Booking{}, fmt.Errorf("acquire lease: %w", err)
		}
		if !acquired {
			return domain.Booking{}, domain.ErrConflict
		}
		defer func() { _ = g.lease.Release(ctx, driverID) }()
	}

	driver, err := g.drivers.ReserveDriver(ctx, driverID)
	if err != nil {
		return domain.Booking{}, err
	}

	confirmed, err := g.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if b.Status != domain.StatusPending || b.DriverID != nil {
			return domain.ErrConflict
		}
		id := driver.ID
		b.DriverID = &id
		b.Status = domain.StatusConfirmed
		b.SearchActive = false
		return nil
	})
	if err != nil {
		// the driver flip must not survive a lost booking race
		if relErr := g.drivers.ReleaseDriver(ctx, driverID); relErr != nil {
			return domain.Booking{}, errors.Join(err, relErr)
		}
		return domain.Booking{}, err
	}
	if g.geo != nil {
		// reserved drivers must stop surfacing in geo searches; the pool
		// status is still re-checked on every hit, so a failed removal
		// only costs wasted lookups
		_ = g.geo.Untrack(ctx, driverID)
	}
	return confirmed, nil
}

// Release returns a driver to the available pool. Invoked on cancellation of
// a confirmed booking and on accepted driver cancellations.
func (g *Guard) Release(ctx context.Context, driverID uuid.UUID) error {
	if g.lease != nil {
		_ = g.lease.Release(ctx, driverID)
	}
	if err := g.drivers.ReleaseDriver(ctx, driverID); err != nil {
		return err
	}
	if g.geo != nil {
		if d, err := g.drivers.GetDriverByID(ctx, driverID); err == nil {
			_ = g.geo.Track(ctx, d.ID, d.Location)
		}
	}
	return nil
}
