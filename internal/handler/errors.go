package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/allocator"
)

// retryAfterSeconds is the hint sent with 503 responses.  Lock waits are
// bounded by the lock timeout, so a second is usually enough.
const retryAfterSeconds = "1"

// statusFor maps allocator codes onto HTTP status codes.
func statusFor(code allocator.Code) int {
	switch code {
	case allocator.CodeEventNotFound, allocator.CodeReservationNotFound:
		return http.StatusNotFound
	case allocator.CodeNotAuthorized:
		return http.StatusForbidden
	case allocator.CodeInvalidCapacity, allocator.CodeInvalidEvent:
		return http.StatusBadRequest
	case allocator.CodeAllocatorUnavailable:
		return http.StatusServiceUnavailable
	case allocator.CodeInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

// writeError answers with {"error","code"} for allocator outcomes and a
// bare 500 for anything else.
func writeError(c echo.Context, log *slog.Logger, err error) error {
	var ae *allocator.Error
	if !errors.As(err, &ae) {
		log.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if ae.Code.Retryable() {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}
	return c.JSON(statusFor(ae.Code), echo.Map{"error": ae.Message, "code": ae.Code})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "BAD_REQUEST"})
}
