package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/ridehail/internal/booking/domain"
	"github.com/example/ridehail/internal/dispatch/service"
	"github.com/example/ridehail/internal/notify"
)

// HTTP exposes the dispatch operations.
type HTTP struct {
	svc *service.Service
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service) *HTTP {
	return &HTTP{svc: svc}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Post("/v1/bookings", h.requestBooking)
	r.Get("/v1/bookings/{id}", h.getBooking)
	r.Post("/v1/bookings/{id}/search", h.searchDrivers)
	r.Post("/v1/bookings/{id}/select", h.selectDriver)
	r.Post("/v1/bookings/{id}/cancel", h.cancelBooking)
	r.Post("/v1/bookings/{id}/driver-cancellation", h.requestDriverCancellation)
	r.Post("/v1/bookings/{id}/driver-cancellation/accept", h.acceptDriverCancellation)
	r.Post("/v1/bookings/{id}/arrived-at-pickup", h.driverArrivedAtPickup)
	r.Post("/v1/bookings/{id}/start", h.startRide)
	r.Post("/v1/bookings/{id}/end", h.endRide)
	return r
}

type requestBookingPayload struct {
	PassengerID string           `json:"passenger_id"`
	Pickup      *domain.GeoPoint `json:"pickup"`
	Dropoff     *domain.GeoPoint `json:"dropoff"`
	ThirdStop   *domain.GeoPoint `json:"third_stop,omitempty"`
	Price       float64          `json:"price"`
}

type bookingResponse struct {
	ID                          uuid.UUID            `json:"id"`
	PassengerID                 uuid.UUID            `json:"passenger_id"`
	DriverID                    *uuid.UUID           `json:"driver_id,omitempty"`
	Pickup                      domain.GeoPoint      `json:"pickup"`
	Dropoff                     domain.GeoPoint      `json:"dropoff"`
	ThirdStop                   *domain.GeoPoint     `json:"third_stop,omitempty"`
	Price                       float64              `json:"price"`
	Status                      domain.BookingStatus `json:"status"`
	DriverArrivedAtPickup       bool                 `json:"driver_arrived_at_pickup"`
	DriverArrivedAtDropoff      bool                 `json:"driver_arrived_at_dropoff"`
	DriverCancellationRequested bool                 `json:"driver_cancellation_requested"`
	SearchActive                bool                 `json:"search_active"`
	CreatedAt                   time.Time            `json:"created_at"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:                          b.ID,
		PassengerID:                 b.PassengerID,
		DriverID:                    b.DriverID,
		Pickup:                      b.Pickup,
		Dropoff:                     b.Dropoff,
		ThirdStop:                   b.ThirdStop,
		Price:                       b.Price,
		Status:                      b.Status,
		DriverArrivedAtPickup:       b.DriverArrivedAtPickup,
		DriverArrivedAtDropoff:      b.DriverArrivedAtDropoff,
		DriverCancellationRequested: b.DriverCancellationRequested,
		SearchActive:                b.SearchActive,
		CreatedAt:                   b.CreatedAt,
	}
}

func (h *HTTP) requestBooking(w http.ResponseWriter, r *http.Request) {
	var payload requestBookingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	passengerID, err := uuid.Parse(payload.PassengerID)
	if err != nil {
		http.Error(w, "invalid passenger_id", http.StatusBadRequest)
		return
	}

	booking, err := h.svc.RequestBooking(r.Context(), service.BookingRequest{
		PassengerID: passengerID,
		Pickup:      payload.Pickup,
		Dropoff:     payload.Dropoff,
		ThirdStop:   payload.ThirdStop,
		Price:       payload.Price,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(booking))
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

// searchDrivers starts the bounded search and holds the request open until
// the run reaches its terminal outcome, matching the push events delivered
// over the notification port.
func (h *HTTP) searchDrivers(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	radius := 0.0
	if v := r.URL.Query().Get("radius_miles"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid radius_miles", http.StatusBadRequest)
			return
		}
		radius = parsed
	}

	outcomes, err := h.svc.SearchDrivers(r.Context(), id, radius)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	select {
	case outcome := <-outcomes:
		switch {
		case outcome.TimedOut:
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "no drivers found", "booking_id": id})
		case outcome.Cancelled:
			writeJSON(w, http.StatusConflict, map[string]any{"message": "search cancelled", "booking_id": id})
		default:
			drivers := make([]notify.DriverSummary, 0, len(outcome.Drivers))
			for _, c := range outcome.Drivers {
				drivers = append(drivers, notify.DriverSummary{
					ID:            c.Driver.ID,
					Vehicle:       c.Driver.Vehicle,
					DistanceMiles: c.DistanceMiles,
				})
			}
			writeJSON(w, http.StatusOK, notify.DriversAvailablePayload{BookingID: id, Drivers: drivers})
		}
	case <-r.Context().Done():
		// client went away; the run continues and reports over the port
	}
}

type driverActionPayload struct {
	DriverID string `json:"driver_id"`
}

func (h *HTTP) selectDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	driverID, ok := decodeDriverID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.SelectDriver(r.Context(), id, driverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *HTTP) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.CancelBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *HTTP) requestDriverCancellation(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	driverID, ok := decodeDriverID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.RequestDriverCancellation(r.Context(), id, driverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *HTTP) acceptDriverCancellation(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	driverID, ok := decodeDriverID(w, r)
	if !ok {
		return
	}
	booking, _, err := h.svc.AcceptDriverCancellation(r.Context(), id, driverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *HTTP) driverArrivedAtPickup(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.DriverArrivedAtPickup(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *HTTP) startRide(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.StartRide(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func (h *HTTP) endRide(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.EndRide(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

func bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeDriverID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var payload driverActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return uuid.Nil, false
	}
	driverID, err := uuid.Parse(payload.DriverID)
	if err != nil {
		http.Error(w, "invalid driver_id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return driverID, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, "driver no longer available, please pick another driver", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadySearching):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
