package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/allocator"
	"github.com/iliyamo/event-booking/internal/middleware"
)

// AdminHandler serves event management endpoints.  The routes are
// restricted to the ADMIN role; the allocator checks the capability again
// for capacity changes.
type AdminHandler struct {
	svc Booking
	log *slog.Logger
}

// NewAdminHandler returns an AdminHandler.
func NewAdminHandler(svc Booking, log *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, log: log}
}

type createEventRequest struct {
	Title        string    `json:"title"`
	StartsAt     time.Time `json:"starts_at"`
	SeatCapacity int       `json:"seat_capacity"`
}

// CreateEvent handles POST /v1/admin/events.
func (h *AdminHandler) CreateEvent(c echo.Context) error {
	var body createEventRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	ev, err := h.svc.CreateEvent(c.Request().Context(), allocator.NewEvent{
		Title:        body.Title,
		StartsAt:     body.StartsAt,
		SeatCapacity: body.SeatCapacity,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, ev)
}

// SetCapacity handles PUT /v1/admin/events/:id/capacity.
func (h *AdminHandler) SetCapacity(c echo.Context) error {
	var body struct {
		SeatCapacity *int `json:"seat_capacity"`
	}
	if err := c.Bind(&body); err != nil || body.SeatCapacity == nil {
		return badRequest(c, "seat_capacity is required")
	}
	subject, isAdmin := middleware.Identity(c)
	change, err := h.svc.SetCapacity(c.Request().Context(), c.Param("id"), *body.SeatCapacity, subject, isAdmin)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, change)
}

// Audit handles GET /v1/admin/events/:id/audit, oldest entry first.
func (h *AdminHandler) Audit(c echo.Context) error {
	entries, err := h.svc.Audit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries})
}
