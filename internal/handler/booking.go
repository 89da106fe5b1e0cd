package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/allocator"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/model"
)

// Booking is the part of the booking service the HTTP layer uses.
type Booking interface {
	Reserve(ctx context.Context, eventID, subjectID string) (allocator.Result, error)
	Release(ctx context.Context, reservationID, requesterID string, isAdmin bool) (allocator.Result, error)
	SetCapacity(ctx context.Context, eventID string, capacity int, requesterID string, isAdmin bool) (model.SeatChange, error)
	CreateEvent(ctx context.Context, in allocator.NewEvent) (model.Event, error)
	Event(ctx context.Context, eventID string) (model.Event, error)
	Events(ctx context.Context) ([]model.Event, error)
	Reservations(ctx context.Context, subjectID string) ([]model.Reservation, error)
	Audit(ctx context.Context, eventID string) ([]model.AuditEntry, error)
}

// BookingHandler serves customer reservation endpoints.  JWTAuth and
// RequireRole run before every method.
type BookingHandler struct {
	svc Booking
	log *slog.Logger
}

// NewBookingHandler returns a BookingHandler.
func NewBookingHandler(svc Booking, log *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, log: log}
}

type reservationResponse struct {
	Reservation    model.Reservation `json:"reservation"`
	AvailableSeats int               `json:"available_seats"`
	Version        int64             `json:"version"`
}

// Reserve handles POST /v1/events/:id/reservations.  The subject comes
// from the token, never from the body.
func (h *BookingHandler) Reserve(c echo.Context) error {
	subject, _ := middleware.Identity(c)
	res, err := h.svc.Reserve(c.Request().Context(), c.Param("id"), subject)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, reservationResponse{
		Reservation:    res.Reservation,
		AvailableSeats: res.Change.AvailableSeats,
		Version:        res.Change.Version,
	})
}

// Release handles DELETE /v1/reservations/:id.  Admins may release any
// reservation; everybody else only their own.
func (h *BookingHandler) Release(c echo.Context) error {
	subject, isAdmin := middleware.Identity(c)
	res, err := h.svc.Release(c.Request().Context(), c.Param("id"), subject, isAdmin)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, reservationResponse{
		Reservation:    res.Reservation,
		AvailableSeats: res.Change.AvailableSeats,
		Version:        res.Change.Version,
	})
}

// MyReservations handles GET /v1/my-reservations, newest first.
func (h *BookingHandler) MyReservations(c echo.Context) error {
	subject, _ := middleware.Identity(c)
	list, err := h.svc.Reservations(c.Request().Context(), subject)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}
