package guard_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/ridehail/internal/booking/domain"
	"github.com/example/ridehail/internal/booking/repository"
	"github.com/example/ridehail/internal/dispatch/guard"
)

func newFixture(t *testing.T) (*guard.Guard, *repository.MemoryBookingRepository, *repository.MemoryDriverRepository) {
	t.Helper()
	bookings := repository.NewMemoryBookingRepository()
	drivers := repository.NewMemoryDriverRepository()
	return guard.New(bookings, drivers, nil, nil, 0, nil), bookings, drivers
}

func seedPending(t *testing.T, bookings *repository.MemoryBookingRepository) domain.Booking {
	t.Helper()
	b := domain.Booking{ID: uuid.New(), PassengerID: uuid.New(), Status: domain.StatusPending, SearchActive: true, Version: 1}
	created, err := bookings.CreateBooking(context.Background(), b)
	require.NoError(t, err)
	return created
}

func seedAvailable(t *testing.T, drivers *repository.MemoryDriverRepository) uuid.UUID {
	t.Helper()
	d, err := drivers.UpsertDriver(context.Background(), domain.Driver{ID: uuid.New()})
	require.NoError(t, err)
	return d.ID
}

func TestReserveConfirmsBooking(t *testing.T) {
	g, bookings, drivers := newFixture(t)
	booking := seedPending(t, bookings)
	driverID := seedAvailable(t, drivers)

	confirmed, err := g.Reserve(context.Background(), booking.ID, driverID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusConfirmed, confirmed.Status)
	require.Equal(t, driverID, *confirmed.DriverID)
	require.False(t, confirmed.SearchActive)

	d, err := drivers.GetDriverByID(context.Background(), driverID)
	require.NoError(t, err)
	require.Equal(t, domain.DriverUnavailable, d.Status)
}

func TestReserveSameDriverTwoBookingsOneWinner(t *testing.T) {
	g, bookings, drivers := newFixture(t)
	bookingA := seedPending(t, bookings)
	bookingB := seedPending(t, bookings)
	driverID := seedAvailable(t, drivers)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{bookingA.ID, bookingB.ID} {
		wg.Add(1)
		go func(i int, bookingID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = g.Reserve(context.Background(), bookingID, driverID)
		}(i, id)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, domain.ErrConflict)
		}
	}
	require.Equal(t, 1, winners)
}

func TestReserveOnConfirmedBookingRollsBackDriver(t *testing.T) {
	g, bookings, drivers := newFixture(t)
	booking := seedPending(t, bookings)
	first := seedAvailable(t, drivers)
	second := seedAvailable(t, drivers)

	_, err := g.Reserve(context.Background(), booking.ID, first)
	require.NoError(t, err)

	// booking already confirmed; the second driver flip must be undone
	_, err = g.Reserve(context.Background(), booking.ID, second)
	require.ErrorIs(t, err, domain.ErrConflict)

	d, err := drivers.GetDriverByID(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, domain.DriverAvailable, d.Status)
}

func TestReserveUnknownDriver(t *testing.T) {
	g, bookings, _ := newFixture(t)
	booking := seedPending(t, bookings)
	_, err := g.Reserve(context.Background(), booking.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

type captureGeoIndex struct {
	mu        sync.Mutex
	untracked []uuid.UUID
	tracked   []uuid.UUID
}

func (c *captureGeoIndex) Untrack(_ context.Context, driverID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.untracked = append(c.untracked, driverID)
	return nil
}

func (c *captureGeoIndex) Track(_ context.Context, driverID uuid.UUID, _ domain.GeoPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = append(c.tracked, driverID)
	return nil
}

func TestReserveAndReleaseMaintainGeoIndex(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	drivers := repository.NewMemoryDriverRepository()
	geo := &captureGeoIndex{}
	g := guard.New(bookings, drivers, nil, geo, 0, nil)

	booking := seedPending(t, bookings)
	driverID := seedAvailable(t, drivers)

	_, err := g.Reserve(context.Background(), booking.ID, driverID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{driverID}, geo.untracked)
	require.Empty(t, geo.tracked)

	require.NoError(t, g.Release(context.Background(), driverID))
	require.Equal(t, []uuid.UUID{driverID}, geo.tracked)
}

func TestReserveLostRaceLeavesGeoIndexAlone(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	drivers := repository.NewMemoryDriverRepository()
	geo := &captureGeoIndex{}
	g := guard.New(bookings, drivers, nil, geo, 0, nil)

	booking := seedPending(t, bookings)
	first := seedAvailable(t, drivers)
	second := seedAvailable(t, drivers)

	_, err := g.Reserve(context.Background(), booking.ID, first)
	require.NoError(t, err)

	_, err = g.Reserve(context.Background(), booking.ID, second)
	require.ErrorIs(t, err, domain.ErrConflict)
	require.NotContains(t, geo.untracked, second)
}

func TestReleaseReturnsDriver(t *testing.T) {
	g, bookings, drivers := newFixture(t)
	booking := seedPending(t, bookings)
	driverID := seedAvailable(t, drivers)

	_, err := g.Reserve(context.Background(), booking.ID, driverID)
	require.NoError(t, err)
	require.NoError(t, g.Release(context.Background(), driverID))

	d, err := drivers.GetDriverByID(context.Background(), driverID)
	require.NoError(t, err)
	require.Equal(t, domain.DriverAvailable, d.Status)
}
