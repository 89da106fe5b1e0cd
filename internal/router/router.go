package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/middleware"
	"github.com/iliyamo/event-booking/internal/utils"
)

// Handlers bundles everything RegisterRoutes mounts.
type Handlers struct {
	Health  *handler.HealthHandler
	Events  *handler.EventHandler
	Booking *handler.BookingHandler
	Admin   *handler.AdminHandler
	Live    *handler.LiveHandler
}

// RegisterRoutes mounts every route of the API.  jwtSecret verifies access
// tokens; limiter guards the booking mutations.
func RegisterRoutes(e *echo.Echo, h Handlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	e.GET("/healthz", h.Health.Health)
	RegisterPublic(e, h.Events)
	RegisterBooking(e, h.Booking, jwtSecret, limiter)
	RegisterAdmin(e, h.Admin, jwtSecret)
	RegisterLive(e, h.Live, jwtSecret)
}

// RegisterPublic registers unauthenticated browse endpoints.
func RegisterPublic(e *echo.Echo, p *handler.EventHandler) {
	e.GET("/v1/events", p.List)
	e.GET("/v1/events/:id/seats", p.Seats)
}

// RegisterBooking registers the customer endpoints.  Reserve and release
// pass through the rate limiter after authentication so buckets can be
// keyed by subject.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	auth := middleware.JWTAuth(jwtSecret)
	booker := middleware.RequireRole(utils.RoleCustomer, utils.RoleAdmin)

	e.POST("/v1/events/:id/reservations", b.Reserve, auth, booker, limiter)
	e.DELETE("/v1/reservations/:id", b.Release, auth, booker, limiter)
	e.GET("/v1/my-reservations", b.MyReservations, auth)
}

// RegisterAdmin registers event management under /v1/admin.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin", middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.RoleAdmin))
	g.POST("/events", a.CreateEvent)
	g.PUT("/events/:id/capacity", a.SetCapacity)
	g.GET("/events/:id/audit", a.Audit)
}

// RegisterLive registers the websocket endpoint.  Any authenticated role
// may watch.
func RegisterLive(e *echo.Echo, l *handler.LiveHandler, jwtSecret string) {
	e.GET("/v1/live", l.Serve, middleware.JWTAuth(jwtSecret))
}
