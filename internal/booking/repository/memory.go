package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/booking/domain"
)

// MemoryBookingRepository keeps bookings in process memory. Every mutation
// runs under one lock, so a multi-field update (driver + status) is observed
// atomically by readers.
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]domain.Booking
	events   []domain.BookingEvent
}

// NewMemoryBookingRepository constructs an empty repository.
func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{bookings: make(map[uuid.UUID]domain.Booking)}
}

// CreateBooking stores the booking and returns it.
func (m *MemoryBookingRepository) CreateBooking(_ context.Context, b domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return b, nil
}

// GetBookingByID retrieves a booking.
func (m *MemoryBookingRepository) GetBookingByID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

// UpdateBooking applies mutate under the lock. If mutate returns an error the
// stored record is untouched; otherwise the version is bumped and the new
// record is stored in one step.
func (m *MemoryBookingRepository) UpdateBooking(_ context.Context, id uuid.UUID, mutate func(*domain.Booking) error) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	updated := existing
	if err := mutate(&updated); err != nil {
		return domain.Booking{}, err
	}
	updated.Version = existing.Version + 1
	m.bookings[id] = updated
	return updated, nil
}

// AppendEvent appends to the in-memory journal.
func (m *MemoryBookingRepository) AppendEvent(_ context.Context, event domain.BookingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

// Events returns journal entries (for tests).
func (m *MemoryBookingRepository) Events() []domain.BookingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BookingEvent(nil), m.events...)
}
