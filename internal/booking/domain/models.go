package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusOngoing   BookingStatus = "ONGOING"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// Error taxonomy surfaced by the dispatch core. Handlers map these to
// user-facing responses; anything not matching one of them is an
// infrastructure failure.
var (
	ErrValidation        = errors.New("required field missing or malformed")
	ErrNotFound          = errors.New("booking or driver not found")
	ErrInvalidTransition = errors.New("operation not permitted in current state")
	ErrConflict          = errors.New("driver no longer available")
	ErrSearchTimeout     = errors.New("no drivers found")
	ErrAlreadySearching  = errors.New("a driver search is already running for this booking")
)

var allowedTransitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusOngoing, StatusPending, StatusCancelled},
	StatusOngoing:   {StatusCompleted},
}

// CanTransitionTo reports whether the status flow permits moving to next.
// The confirmed -> pending edge exists only for accepted driver
// cancellations, which put the booking back into search.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further mutation is allowed.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Booking struct {
	ID          uuid.UUID
	PassengerID uuid.UUID
	DriverID    *uuid.UUID
	Pickup      GeoPoint
	Dropoff     GeoPoint
	ThirdStop   *GeoPoint
	Price       float64
	Status      BookingStatus

	DriverArrivedAtPickup       bool
	DriverArrivedAtDropoff      bool
	DriverCancellationRequested bool
	SearchActive                bool

	CancellationRequestedAt *time.Time
	CreatedAt               time.Time
	Version                 int64
}

type DriverStatus string

const (
	DriverAvailable   DriverStatus = "AVAILABLE"
	DriverUnavailable DriverStatus = "UNAVAILABLE"
)

type Vehicle struct {
	RegistrationNumber string `json:"registration_number"`
	Brand              string `json:"brand"`
	Model              string `json:"model"`
	Seats              int    `json:"seats"`
	Color              string `json:"color"`
	Category           string `json:"category"`
}

type Driver struct {
	ID       uuid.UUID
	Location GeoPoint
	Status   DriverStatus
	Vehicle  Vehicle
	Updated  time.Time
	Version  int64
}

type EventType string

const (
	EventBookingRequestReceived EventType = "bookingRequestReceived"
	EventDriversAvailable       EventType = "driversAvailable"
	EventNoDriversAvailable     EventType = "noDriversAvailable"
	EventBookingConfirmed       EventType = "bookingConfirmed"
	EventBookingCancelled       EventType = "bookingCancelled"
	EventDriverArrivedAtPickup  EventType = "driverArrivedAtPickup"
	EventRideStarted            EventType = "rideStarted"
	EventRideEnded              EventType = "rideEnded"
)

// BookingEvent is the journal entry persisted for every lifecycle change.
type BookingEvent struct {
	ID        int64
	BookingID uuid.UUID
	Type      EventType
	Payload   map[string]any
	CreatedAt time.Time
}

// BookingRepository is the store of record for bookings. UpdateBooking applies
// mutate atomically: the callback runs under the store's exclusivity, and a
// rejected callback leaves the record untouched.
type BookingRepository interface {
	CreateBooking(ctx context.Context, b Booking) (Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (Booking, error)
	UpdateBooking(ctx context.Context, id uuid.UUID, mutate func(*Booking) error) (Booking, error)
}

// DriverRepository is the store of record for drivers. ReserveDriver and
// ReleaseDriver are the only paths that flip availability.
type DriverRepository interface {
	UpsertDriver(ctx context.Context, d Driver) (Driver, error)
	GetDriverByID(ctx context.Context, id uuid.UUID) (Driver, error)
	// ReserveDriver atomically flips status from available to unavailable.
	// It returns ErrConflict when the driver is already taken.
	ReserveDriver(ctx context.Context, id uuid.UUID) (Driver, error)
	ReleaseDriver(ctx context.Context, id uuid.UUID) error
	// AvailableDrivers returns a snapshot of drivers with available status.
	AvailableDrivers(ctx context.Context) ([]Driver, error)
}

// EventJournal records booking lifecycle events for the relay to publish.
type EventJournal interface {
	AppendEvent(ctx context.Context, event BookingEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
