package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// EventHandler serves the public, unauthenticated event endpoints.
type EventHandler struct {
	svc Booking
	log *slog.Logger
}

// NewEventHandler returns an EventHandler.
func NewEventHandler(svc Booking, log *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log}
}

// List handles GET /v1/events, ordered by start time.
func (h *EventHandler) List(c echo.Context) error {
	events, err := h.svc.Events(c.Request().Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": events})
}

// Seats handles GET /v1/events/:id/seats.  The answer is a committed
// snapshot; live clients get the same data over the websocket.
func (h *EventHandler) Seats(c echo.Context) error {
	ev, err := h.svc.Event(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id":        ev.ID,
		"title":           ev.Title,
		"starts_at":       ev.StartsAt,
		"seat_capacity":   ev.SeatCapacity,
		"available_seats": ev.AvailableSeats,
		"version":         ev.Version,
	})
}
