package location

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/booking/domain"
)

// Snapshot is the latest known position report for a driver.
type Snapshot struct {
	DriverID uuid.UUID
	Point    domain.GeoPoint
	Speed    float64
	Accuracy float64
	Updated  time.Time
}

// Tracker receives position updates as they stream in. The Redis GEO
// locator implements this so nearby-driver search sees fresh positions.
type Tracker interface {
	Track(ctx context.Context, driverID uuid.UUID, point domain.GeoPoint) error
}

// StreamObserver stores latest driver location snapshots, registers the
// driver in the pool, and forwards positions to an optional tracker. A
// driver's first ping is also its registration: the pool entry is created
// Available and later pings only move it.
type StreamObserver struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]Snapshot
	drivers   domain.DriverRepository
	tracker   Tracker
}

// NewStreamObserver constructs the observer. tracker may be nil.
func NewStreamObserver(drivers domain.DriverRepository, tracker Tracker) *StreamObserver {
	return &StreamObserver{snapshots: make(map[uuid.UUID]Snapshot), drivers: drivers, tracker: tracker}
}

// Update stores snapshot data, upserts the driver into the pool, and
// forwards the point to the tracker.
func (o *StreamObserver) Update(ctx context.Context, driverID uuid.UUID, point domain.GeoPoint, speed, accuracy float64) {
	o.mu.Lock()
	o.snapshots[driverID] = Snapshot{
		DriverID: driverID,
		Point:    point,
		Speed:    speed,
		Accuracy: accuracy,
		Updated:  time.Now().UTC(),
	}
	drivers, tracker := o.drivers, o.tracker
	o.mu.Unlock()
	if drivers != nil {
		_, _ = drivers.UpsertDriver(ctx, domain.Driver{ID: driverID, Location: point})
	}
	if tracker != nil {
		_ = tracker.Track(ctx, driverID, point)
	}
}

// Snapshot returns the stored snapshot.
func (o *StreamObserver) Snapshot(_ context.Context, driverID uuid.UUID) (Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap, ok := o.snapshots[driverID]
	return snap, ok
}

// All returns all snapshots.
func (o *StreamObserver) All() []Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res := make([]Snapshot, 0, len(o.snapshots))
	for _, snap := range o.snapshots {
		res = append(res, snap)
	}
	return res
}
