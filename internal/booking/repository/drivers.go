package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/booking/domain"
)

// MemoryDriverRepository is the driver store of record. The reserve/release
// check-and-set happens under the repository lock, which makes it the sole
// arbiter when two bookings target the same driver.
type MemoryDriverRepository struct {
	mu      sync.RWMutex
	drivers map[uuid.UUID]domain.Driver
}

// NewMemoryDriverRepository constructs an empty repository.
func NewMemoryDriverRepository() *MemoryDriverRepository {
	return &MemoryDriverRepository{drivers: make(map[uuid.UUID]domain.Driver)}
}

// UpsertDriver stores the driver record, stamping the update time.
func (m *MemoryDriverRepository) UpsertDriver(_ context.Context, d domain.Driver) (domain.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.drivers[d.ID]; ok {
		d.Version = existing.Version + 1
		// availability is owned by reserve/release, not location updates
		d.Status = existing.Status
	}
	if d.Status == "" {
		d.Status = domain.DriverAvailable
	}
	d.Updated = time.Now().UTC()
	m.drivers[d.ID] = d
	return d, nil
}

// GetDriverByID retrieves a driver.
func (m *MemoryDriverRepository) GetDriverByID(_ context.Context, id uuid.UUID) (domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return domain.Driver{}, domain.ErrNotFound
	}
	return d, nil
}

// ReserveDriver flips an available driver to unavailable in one atomic step.
func (m *MemoryDriverRepository) ReserveDriver(_ context.Context, id uuid.UUID) (domain.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return domain.Driver{}, domain.ErrNotFound
	}
	if d.Status != domain.DriverAvailable {
		return domain.Driver{}, domain.ErrConflict
	}
	d.Status = domain.DriverUnavailable
	d.Version++
	m.drivers[id] = d
	return d, nil
}

// ReleaseDriver returns the driver to the available pool.
func (m *MemoryDriverRepository) ReleaseDriver(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = domain.DriverAvailable
	d.Version++
	m.drivers[id] = d
	return nil
}

// AvailableDrivers returns a snapshot of the available pool.
func (m *MemoryDriverRepository) AvailableDrivers(_ context.Context) ([]domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.Status == domain.DriverAvailable {
			out = append(out, d)
		}
	}
	return out, nil
}
