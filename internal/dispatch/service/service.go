package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ridehail/internal/booking/domain"
	"github.com/example/ridehail/internal/dispatch/guard"
	"github.com/example/ridehail/internal/dispatch/search"
	"github.com/example/ridehail/internal/notify"
)

// Service composes the state machine, locator search, assignment guard, and
// notification port into the public dispatch operations. All state changes
// go through the repositories' atomic updates; the service never writes
// fields directly.
type Service struct {
	bookings  domain.BookingRepository
	drivers   domain.DriverRepository
	guard     *guard.Guard
	scheduler *search.Scheduler
	port      notify.Port
	journal   domain.EventJournal
	clock     domain.Clock
	logger    *zap.Logger

	// how long a driver cancellation request stays acceptable
	cancellationWindow time.Duration
}

// Config carries service tunables.
type Config struct {
	DriverCancellationWindow time.Duration
}

// New constructs a Service with the required collaborators.
func New(bookings domain.BookingRepository, drivers domain.DriverRepository, g *guard.Guard, scheduler *search.Scheduler, port notify.Port, journal domain.EventJournal, clock domain.Clock, logger *zap.Logger, cfg Config) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if port == nil {
		port = notify.Nop{}
	}
	window := cfg.DriverCancellationWindow
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &Service{
		bookings:           bookings,
		drivers:            drivers,
		guard:              g,
		scheduler:          scheduler,
		port:               port,
		journal:            journal,
		clock:              clock,
		logger:             logger,
		cancellationWindow: window,
	}
}

// BookingRequest is the input to RequestBooking. Pickup and dropoff are
// pointers so a missing location is distinguishable from coordinate zero.
type BookingRequest struct {
	PassengerID uuid.UUID
	Pickup      *domain.GeoPoint
	Dropoff     *domain.GeoPoint
	ThirdStop   *domain.GeoPoint
	Price       float64
}

// RequestBooking creates a pending booking.
func (s *Service) RequestBooking(ctx context.Context, req BookingRequest) (domain.Booking, error) {
	if req.PassengerID == uuid.Nil || req.Pickup == nil || req.Dropoff == nil {
		return domain.Booking{}, fmt.Errorf("%w: passenger, pickup, and dropoff are required", domain.ErrValidation)
	}
	if req.Price < 0 {
		return domain.Booking{}, fmt.Errorf("%w: price must be non-negative", domain.ErrValidation)
	}

	booking := domain.Booking{
		ID:          uuid.New(),
		PassengerID: req.PassengerID,
		Pickup:      *req.Pickup,
		Dropoff:     *req.Dropoff,
		ThirdStop:   req.ThirdStop,
		Price:       req.Price,
		Status:      domain.StatusPending,
		CreatedAt:   s.clock.Now(),
		Version:     1,
	}
	created, err := s.bookings.CreateBooking(ctx, booking)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	s.record(ctx, created.ID, domain.EventBookingRequestReceived, map[string]any{
		"passenger_id": created.PassengerID.String(),
	})
	s.emitToParty(ctx, created.PassengerID, domain.EventBookingRequestReceived, notify.BookingPayload{BookingID: created.ID})
	return created, nil
}

// GetBooking retrieves a booking by id.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.bookings.GetBookingByID(ctx, id)
}

// SearchDrivers starts a bounded search run for the booking and returns the
// run's single-shot outcome channel. The driversAvailable or
// noDriversAvailable event is emitted by the run itself.
func (s *Service) SearchDrivers(ctx context.Context, bookingID uuid.UUID, radiusMiles float64) (<-chan search.Outcome, error) {
	return s.scheduler.Start(ctx, bookingID, radiusMiles)
}

// SelectDriver reserves the driver for the booking via the assignment guard.
// A lost race surfaces as ErrConflict, which callers present as "driver no
// longer available, pick another".
func (s *Service) SelectDriver(ctx context.Context, bookingID, driverID uuid.UUID) (domain.Booking, error) {
	confirmed, err := s.guard.Reserve(ctx, bookingID, driverID)
	if err != nil {
		return domain.Booking{}, err
	}

	driver, err := s.drivers.GetDriverByID(ctx, driverID)
	if err != nil {
		// the reservation already committed; report the confirm regardless
		s.logger.Warn("confirmed driver lookup failed", zap.Error(err))
	}

	s.record(ctx, bookingID, domain.EventBookingConfirmed, map[string]any{"driver_id": driverID.String()})
	payload := notify.BookingConfirmedPayload{
		BookingID: bookingID,
		Driver:    notify.DriverSummary{ID: driverID, Vehicle: driver.Vehicle},
	}
	s.emitToParty(ctx, confirmed.PassengerID, domain.EventBookingConfirmed, payload)
	s.emitToParty(ctx, driverID, domain.EventBookingConfirmed, payload)
	return confirmed, nil
}

// CancelBooking performs the user-initiated cancellation. Permitted from
// pending or confirmed; an assigned driver is released.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	// a driver reference only lives on confirmed, ongoing, or completed
	// bookings; the cancelled record must not retain one
	var releasedDriver *uuid.UUID
	cancelled, err := s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if !b.Status.CanTransitionTo(domain.StatusCancelled) {
			return domain.ErrInvalidTransition
		}
		releasedDriver = b.DriverID
		b.DriverID = nil
		b.Status = domain.StatusCancelled
		b.SearchActive = false
		b.DriverCancellationRequested = false
		b.CancellationRequestedAt = nil
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.scheduler.Cancel(ctx, bookingID)

	if releasedDriver != nil {
		if err := s.guard.Release(ctx, *releasedDriver); err != nil {
			s.logger.Error("release driver on cancel failed",
				zap.String("driver_id", releasedDriver.String()), zap.Error(err))
		}
	}

	s.record(ctx, bookingID, domain.EventBookingCancelled, nil)
	s.emitToParty(ctx, cancelled.PassengerID, domain.EventBookingCancelled, notify.BookingPayload{BookingID: bookingID})
	if releasedDriver != nil {
		s.emitToParty(ctx, *releasedDriver, domain.EventBookingCancelled, notify.BookingPayload{BookingID: bookingID})
	}
	return cancelled, nil
}

// RequestDriverCancellation flags the booking; the status does not change
// until the passenger accepts.
func (s *Service) RequestDriverCancellation(ctx context.Context, bookingID, driverID uuid.UUID) (domain.Booking, error) {
	now := s.clock.Now()
	return s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if b.Status != domain.StatusConfirmed {
			return domain.ErrInvalidTransition
		}
		if b.DriverID == nil || *b.DriverID != driverID {
			return domain.ErrInvalidTransition
		}
		b.DriverCancellationRequested = true
		b.CancellationRequestedAt = &now
		return nil
	})
}

// AcceptDriverCancellation releases the driver, puts the booking back into
// pending, and starts a fresh search run. A request older than the
// cancellation window has expired and is rejected.
func (s *Service) AcceptDriverCancellation(ctx context.Context, bookingID, driverID uuid.UUID) (domain.Booking, <-chan search.Outcome, error) {
	now := s.clock.Now()
	updated, err := s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if !b.DriverCancellationRequested || b.DriverID == nil || *b.DriverID != driverID {
			return domain.ErrInvalidTransition
		}
		if b.CancellationRequestedAt != nil && now.Sub(*b.CancellationRequestedAt) > s.cancellationWindow {
			return domain.ErrInvalidTransition
		}
		b.DriverID = nil
		b.DriverCancellationRequested = false
		b.CancellationRequestedAt = nil
		b.Status = domain.StatusPending
		return nil
	})
	if err != nil {
		return domain.Booking{}, nil, err
	}

	if err := s.guard.Release(ctx, driverID); err != nil {
		s.logger.Error("release driver on accepted cancellation failed",
			zap.String("driver_id", driverID.String()), zap.Error(err))
	}

	outcome, err := s.scheduler.Start(ctx, bookingID, 0)
	if err != nil {
		return updated, nil, fmt.Errorf("restart search: %w", err)
	}
	return updated, outcome, nil
}

// DriverArrivedAtPickup marks arrival at the pickup point.
func (s *Service) DriverArrivedAtPickup(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	updated, err := s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if b.Status != domain.StatusConfirmed || b.DriverID == nil {
			return domain.ErrInvalidTransition
		}
		b.DriverArrivedAtPickup = true
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.record(ctx, bookingID, domain.EventDriverArrivedAtPickup, nil)
	s.emitToParty(ctx, updated.PassengerID, domain.EventDriverArrivedAtPickup, notify.BookingPayload{BookingID: bookingID})
	return updated, nil
}

// StartRide transitions confirmed -> ongoing once the driver has arrived.
func (s *Service) StartRide(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	updated, err := s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if b.Status != domain.StatusConfirmed || !b.DriverArrivedAtPickup {
			return domain.ErrInvalidTransition
		}
		b.Status = domain.StatusOngoing
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.record(ctx, bookingID, domain.EventRideStarted, nil)
	s.emitToParty(ctx, updated.PassengerID, domain.EventRideStarted, notify.BookingPayload{BookingID: bookingID})
	return updated, nil
}

// EndRide transitions ongoing -> completed.
func (s *Service) EndRide(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	updated, err := s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if b.Status != domain.StatusOngoing {
			return domain.ErrInvalidTransition
		}
		b.DriverArrivedAtDropoff = true
		b.Status = domain.StatusCompleted
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.record(ctx, bookingID, domain.EventRideEnded, nil)
	s.emitToParty(ctx, updated.PassengerID, domain.EventRideEnded, notify.BookingPayload{BookingID: bookingID})
	return updated, nil
}

func (s *Service) record(ctx context.Context, bookingID uuid.UUID, event domain.EventType, payload map[string]any) {
	if s.journal == nil {
		return
	}
	err := s.journal.AppendEvent(ctx, domain.BookingEvent{
		BookingID: bookingID,
		Type:      event,
		Payload:   payload,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Error("append journal event failed", zap.String("event", string(event)), zap.Error(err))
	}
}

func (s *Service) emitToParty(ctx context.Context, partyID uuid.UUID, event domain.EventType, payload any) {
	if err := s.port.EmitToParty(ctx, partyID, event, payload); err != nil {
		s.logger.Warn("emit event failed", zap.String("event", string(event)), zap.Error(err))
	}
}
