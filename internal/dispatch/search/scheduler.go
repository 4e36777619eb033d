package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ridehail/internal/booking/domain"
	"github.com/example/ridehail/internal/dispatch/locator"
	"github.com/example/ridehail/internal/notify"
)

var errRunStale = errors.New("search run no longer owns the booking")

// Config holds the tunables of one search run.
type Config struct {
	PollInterval time.Duration
	Deadline     time.Duration
	RadiusMiles  float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = time.Minute
	}
	if c.RadiusMiles <= 0 {
		c.RadiusMiles = 3
	}
	return c
}

// Outcome is the single terminal result of a search run. Found and timeout
// are mutually exclusive; a cancelled run reports neither.
type Outcome struct {
	BookingID uuid.UUID
	Drivers   []locator.Candidate
	TimedOut  bool
	Cancelled bool
}

type run struct {
	bookingID uuid.UUID
	passenger uuid.UUID
	center    domain.GeoPoint
	cfg       Config
	cancel    context.CancelFunc
	once      sync.Once
	outcome   chan Outcome
	started   time.Time
}

// Scheduler owns the bounded polling searches, one active run per booking.
// A run probes the locator immediately and then every poll interval until a
// candidate appears, the deadline fires, or the booking stops being
// searchable; exactly one outcome is delivered per run.
type Scheduler struct {
	locator  locator.Locator
	bookings domain.BookingRepository
	port     notify.Port
	logger   *zap.Logger
	defaults Config

	mu   sync.Mutex
	runs map[uuid.UUID]*run
}

// NewScheduler constructs a Scheduler.
func NewScheduler(loc locator.Locator, bookings domain.BookingRepository, port notify.Port, logger *zap.Logger, defaults Config) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if port == nil {
		port = notify.Nop{}
	}
	return &Scheduler{
		locator:  loc,
		bookings: bookings,
		port:     port,
		logger:   logger,
		defaults: defaults.withDefaults(),
		runs:     make(map[uuid.UUID]*run),
	}
}

// Start raises the booking's searchActive flag and launches a run. It
// returns a single-shot outcome channel; the caller may wait on it or rely
// on the emitted events alone. Returns ErrAlreadySearching when a run is
// still active for the booking and ErrInvalidTransition when the booking is
// not pending.
func (s *Scheduler) Start(ctx context.Context, bookingID uuid.UUID, radiusMiles float64) (<-chan Outcome, error) {
	cfg := s.defaults
	if radiusMiles > 0 {
		cfg.RadiusMiles = radiusMiles
	}

	s.mu.Lock()
	if _, active := s.runs[bookingID]; active {
		s.mu.Unlock()
		return nil, domain.ErrAlreadySearching
	}
	s.mu.Unlock()

	booking, err := s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		if b.Status != domain.StatusPending {
			return domain.ErrInvalidTransition
		}
		if b.SearchActive {
			return domain.ErrAlreadySearching
		}
		b.SearchActive = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	// the run outlives the request context; it is bounded by its own
	// deadline and by Cancel
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		bookingID: bookingID,
		passenger: booking.PassengerID,
		center:    booking.Pickup,
		cfg:       cfg,
		cancel:    cancel,
		outcome:   make(chan Outcome, 1),
		started:   time.Now(),
	}

	// the searchActive flag flip above admits exactly one caller, so the
	// slot is free here
	s.mu.Lock()
	s.runs[bookingID] = r
	s.mu.Unlock()

	searchesStarted.Inc()
	go s.loop(runCtx, r)
	return r.outcome, nil
}

// Cancel stops the active run for a booking, if any, without emitting
// events. The searchActive flag is lowered by the caller's own transition
// (cancelBooking, confirm) or here for safety.
func (s *Scheduler) Cancel(ctx context.Context, bookingID uuid.UUID) {
	s.mu.Lock()
	r, ok := s.runs[bookingID]
	s.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	_, _ = s.bookings.UpdateBooking(ctx, bookingID, func(b *domain.Booking) error {
		b.SearchActive = false
		return nil
	})
}

// Active reports whether a run currently owns the booking.
func (s *Scheduler) Active(bookingID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[bookingID]
	return ok
}

func (s *Scheduler) loop(ctx context.Context, r *run) {
	defer func() {
		s.mu.Lock()
		if s.runs[r.bookingID] == r {
			delete(s.runs, r.bookingID)
		}
		s.mu.Unlock()
	}()

	deadline := time.NewTimer(r.cfg.Deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	if done := s.probe(ctx, r); done {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.finishCancelled(r)
			return
		case <-deadline.C:
			s.finishTimeout(ctx, r)
			return
		case <-ticker.C:
			if done := s.probe(ctx, r); done {
				return
			}
		}
	}
}

// probe runs one locator sweep. It reports true when the run reached a
// terminal state (found or lost ownership). Locator errors are logged and
// retried on the next tick.
func (s *Scheduler) probe(ctx context.Context, r *run) bool {
	booking, err := s.bookings.GetBookingByID(ctx, r.bookingID)
	if err != nil {
		s.logger.Warn("search probe: booking lookup failed",
			zap.String("booking_id", r.bookingID.String()), zap.Error(err))
		return false
	}
	if !booking.SearchActive || booking.Status != domain.StatusPending {
		s.finishCancelled(r)
		return true
	}

	candidates, err := s.locator.FindNearby(ctx, r.center, r.cfg.RadiusMiles)
	if err != nil {
		s.logger.Warn("search probe: locator failed",
			zap.String("booking_id", r.bookingID.String()), zap.Error(err))
		return false
	}
	if len(candidates) == 0 {
		return false
	}

	// claim the outcome against racing cancellation or confirmation
	_, err = s.bookings.UpdateBooking(ctx, r.bookingID, func(b *domain.Booking) error {
		if !b.SearchActive || b.Status != domain.StatusPending {
			return errRunStale
		}
		b.SearchActive = false
		return nil
	})
	if err != nil {
		s.finishCancelled(r)
		return true
	}

	r.once.Do(func() {
		searchOutcomes.WithLabelValues("found").Inc()
		searchDuration.WithLabelValues("found").Observe(time.Since(r.started).Seconds())
		payload := notify.DriversAvailablePayload{BookingID: r.bookingID, Drivers: summaries(candidates)}
		if err := s.port.EmitToParty(ctx, r.passenger, domain.EventDriversAvailable, payload); err != nil {
			s.logger.Warn("emit driversAvailable failed", zap.Error(err))
		}
		r.outcome <- Outcome{BookingID: r.bookingID, Drivers: candidates}
	})
	return true
}

func (s *Scheduler) finishTimeout(ctx context.Context, r *run) {
	// lower the flag unless another path already owns the booking
	_, err := s.bookings.UpdateBooking(ctx, r.bookingID, func(b *domain.Booking) error {
		if !b.SearchActive || b.Status != domain.StatusPending {
			return errRunStale
		}
		b.SearchActive = false
		return nil
	})
	if err != nil {
		s.finishCancelled(r)
		return
	}
	r.once.Do(func() {
		searchOutcomes.WithLabelValues("timeout").Inc()
		searchDuration.WithLabelValues("timeout").Observe(time.Since(r.started).Seconds())
		if err := s.port.EmitToParty(ctx, r.passenger, domain.EventNoDriversAvailable, notify.BookingPayload{BookingID: r.bookingID}); err != nil {
			s.logger.Warn("emit noDriversAvailable failed", zap.Error(err))
		}
		r.outcome <- Outcome{BookingID: r.bookingID, TimedOut: true}
	})
}

func (s *Scheduler) finishCancelled(r *run) {
	r.once.Do(func() {
		searchOutcomes.WithLabelValues("cancelled").Inc()
		r.outcome <- Outcome{BookingID: r.bookingID, Cancelled: true}
	})
}

func summaries(candidates []locator.Candidate) []notify.DriverSummary {
	out := make([]notify.DriverSummary, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, notify.DriverSummary{
			ID:            c.Driver.ID,
			Vehicle:       c.Driver.Vehicle,
			DistanceMiles: c.DistanceMiles,
		})
	}
	return out
}
