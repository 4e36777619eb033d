package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/booking/domain"
)

// Port delivers named events to connected parties. The dispatch core never
// constructs its own transport; a Port is injected and owned by process-wide
// lifecycle. Emitting to a party with no live connection is a no-op.
type Port interface {
	EmitToParty(ctx context.Context, partyID uuid.UUID, event domain.EventType, payload any) error
	Broadcast(ctx context.Context, event domain.EventType, payload any) error
}

// DriverSummary is the driver shape carried by driversAvailable and
// bookingConfirmed payloads.
type DriverSummary struct {
	ID            uuid.UUID      `json:"id"`
	Vehicle       domain.Vehicle `json:"vehicle"`
	DistanceMiles float64        `json:"distance_miles,omitempty"`
}

// DriversAvailablePayload accompanies the driversAvailable event.
type DriversAvailablePayload struct {
	BookingID uuid.UUID       `json:"booking_id"`
	Drivers   []DriverSummary `json:"drivers"`
}

// BookingPayload is the minimal payload for lifecycle events keyed on the
// booking alone (noDriversAvailable, bookingCancelled, driverArrivedAtPickup,
// rideStarted, rideEnded).
type BookingPayload struct {
	BookingID uuid.UUID `json:"booking_id"`
}

// BookingConfirmedPayload accompanies the bookingConfirmed event.
type BookingConfirmedPayload struct {
	BookingID uuid.UUID     `json:"booking_id"`
	Driver    DriverSummary `json:"driver"`
}

// Fanout delivers each event to every configured port.
type Fanout []Port

// EmitToParty forwards to all ports, keeping the first error.
func (f Fanout) EmitToParty(ctx context.Context, partyID uuid.UUID, event domain.EventType, payload any) error {
	var first error
	for _, p := range f {
		if err := p.EmitToParty(ctx, partyID, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Broadcast forwards to all ports, keeping the first error.
func (f Fanout) Broadcast(ctx context.Context, event domain.EventType, payload any) error {
	var first error
	for _, p := range f {
		if err := p.Broadcast(ctx, event, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards every event. Used when no transport is configured.
type Nop struct{}

func (Nop) EmitToParty(context.Context, uuid.UUID, domain.EventType, any) error { return nil }
func (Nop) Broadcast(context.Context, domain.EventType, any) error              { return nil }
