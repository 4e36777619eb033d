package search_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/ridehail/internal/booking/domain"
	"github.com/example/ridehail/internal/booking/repository"
	"github.com/example/ridehail/internal/dispatch/locator"
	"github.com/example/ridehail/internal/dispatch/search"
)

type stubLocator struct {
	mu         sync.Mutex
	candidates []locator.Candidate
}

func (s *stubLocator) set(c []locator.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = c
}

func (s *stubLocator) FindNearby(context.Context, domain.GeoPoint, float64) ([]locator.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates, nil
}

type capturePort struct {
	mu     sync.Mutex
	events []domain.EventType
}

func (c *capturePort) EmitToParty(_ context.Context, _ uuid.UUID, event domain.EventType, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturePort) Broadcast(_ context.Context, event domain.EventType, _ any) error {
	return c.EmitToParty(context.Background(), uuid.Nil, event, nil)
}

func (c *capturePort) recorded() []domain.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.EventType(nil), c.events...)
}

func fastConfig() search.Config {
	return search.Config{PollInterval: 10 * time.Millisecond, Deadline: 100 * time.Millisecond, RadiusMiles: 3}
}

func seedPending(t *testing.T, bookings *repository.MemoryBookingRepository) domain.Booking {
	t.Helper()
	b := domain.Booking{
		ID:          uuid.New(),
		PassengerID: uuid.New(),
		Pickup:      domain.GeoPoint{Lat: -15.41, Lng: 28.28},
		Status:      domain.StatusPending,
		Version:     1,
	}
	created, err := bookings.CreateBooking(context.Background(), b)
	require.NoError(t, err)
	return created
}

func TestSearchFindsDriverOnLaterPoll(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	loc := &stubLocator{}
	port := &capturePort{}
	scheduler := search.NewScheduler(loc, bookings, port, nil, fastConfig())

	booking := seedPending(t, bookings)
	outcomes, err := scheduler.Start(context.Background(), booking.ID, 0)
	require.NoError(t, err)

	// no candidates on the first probe; one appears before the deadline
	driver := domain.Driver{ID: uuid.New(), Status: domain.DriverAvailable}
	time.AfterFunc(20*time.Millisecond, func() {
		loc.set([]locator.Candidate{{Driver: driver, DistanceMiles: 1.2}})
	})

	select {
	case outcome := <-outcomes:
		require.False(t, outcome.TimedOut)
		require.False(t, outcome.Cancelled)
		require.Len(t, outcome.Drivers, 1)
		require.Equal(t, driver.ID, outcome.Drivers[0].Driver.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a found outcome")
	}

	require.Equal(t, []domain.EventType{domain.EventDriversAvailable}, port.recorded())

	stored, err := bookings.GetBookingByID(context.Background(), booking.ID)
	require.NoError(t, err)
	require.False(t, stored.SearchActive)
}

func TestSearchTimesOutExactlyOnce(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	loc := &stubLocator{}
	port := &capturePort{}
	scheduler := search.NewScheduler(loc, bookings, port, nil, fastConfig())

	booking := seedPending(t, bookings)
	outcomes, err := scheduler.Start(context.Background(), booking.ID, 0)
	require.NoError(t, err)

	select {
	case outcome := <-outcomes:
		require.True(t, outcome.TimedOut)
	case <-time.After(time.Second):
		t.Fatal("expected a timeout outcome")
	}

	// a late candidate must not produce a second outcome or event
	loc.set([]locator.Candidate{{Driver: domain.Driver{ID: uuid.New()}, DistanceMiles: 0.5}})
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, []domain.EventType{domain.EventNoDriversAvailable}, port.recorded())
	select {
	case _, open := <-outcomes:
		require.False(t, open, "no second outcome expected")
	default:
	}

	stored, err := bookings.GetBookingByID(context.Background(), booking.ID)
	require.NoError(t, err)
	require.False(t, stored.SearchActive)
	require.False(t, scheduler.Active(booking.ID))
}

func TestSearchCancelSuppressesEvents(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	loc := &stubLocator{}
	port := &capturePort{}
	scheduler := search.NewScheduler(loc, bookings, port, nil, search.Config{
		PollInterval: 10 * time.Millisecond,
		Deadline:     time.Minute,
		RadiusMiles:  3,
	})

	booking := seedPending(t, bookings)
	outcomes, err := scheduler.Start(context.Background(), booking.ID, 0)
	require.NoError(t, err)

	scheduler.Cancel(context.Background(), booking.ID)

	select {
	case outcome := <-outcomes:
		require.True(t, outcome.Cancelled)
	case <-time.After(time.Second):
		t.Fatal("expected a cancelled outcome")
	}
	require.Empty(t, port.recorded())
}

func TestSearchStartRequiresPendingBooking(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	scheduler := search.NewScheduler(&stubLocator{}, bookings, nil, nil, fastConfig())

	booking := seedPending(t, bookings)
	_, err := bookings.UpdateBooking(context.Background(), booking.ID, func(b *domain.Booking) error {
		b.Status = domain.StatusCancelled
		return nil
	})
	require.NoError(t, err)

	_, err = scheduler.Start(context.Background(), booking.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSearchStartTwiceRejected(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	scheduler := search.NewScheduler(&stubLocator{}, bookings, nil, nil, search.Config{
		PollInterval: 10 * time.Millisecond,
		Deadline:     time.Minute,
		RadiusMiles:  3,
	})

	booking := seedPending(t, bookings)
	_, err := scheduler.Start(context.Background(), booking.ID, 0)
	require.NoError(t, err)

	_, err = scheduler.Start(context.Background(), booking.ID, 0)
	require.ErrorIs(t, err, domain.ErrAlreadySearching)

	scheduler.Cancel(context.Background(), booking.ID)
}

func TestSearchConcurrentStartsAdmitOneRun(t *testing.T) {
	bookings := repository.NewMemoryBookingRepository()
	scheduler := search.NewScheduler(&stubLocator{}, bookings, nil, nil, search.Config{
		PollInterval: 10 * time.Millisecond,
		Deadline:     time.Minute,
		RadiusMiles:  3,
	})

	booking := seedPending(t, bookings)

	const starters = 8
	var wg sync.WaitGroup
	errs := make([]error, starters)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = scheduler.Start(context.Background(), booking.ID, 0)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, domain.ErrAlreadySearching)
		}
	}
	require.Equal(t, 1, winners)
	require.True(t, scheduler.Active(booking.ID))

	scheduler.Cancel(context.Background(), booking.ID)
}
