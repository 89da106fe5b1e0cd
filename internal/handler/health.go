package handler // HTTP handlers of the booking API

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/broadcast"
)

// HealthHandler reports liveness for load balancers.  ping checks the
// database; it is nil for the in-memory store.
type HealthHandler struct {
	ping func(ctx context.Context) error
	hub  *broadcast.Hub
}

// NewHealthHandler returns a HealthHandler.
func NewHealthHandler(ping func(ctx context.Context) error, hub *broadcast.Hub) *HealthHandler {
	return &HealthHandler{ping: ping, hub: hub}
}

// Health answers 200 with hub statistics, or 503 when the database does
// not respond.
func (h *HealthHandler) Health(c echo.Context) error {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "error": "database unreachable"})
		}
	}
	body := echo.Map{"status": "ok"}
	if h.hub != nil {
		body["live"] = h.hub.Stats()
	}
	return c.JSON(http.StatusOK, body)
}
