package middleware

// identity.go exposes the caller identity that JWTAuth stored in the Echo
// context.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/utils"
)

// Identity returns the authenticated subject and whether it has the admin
// role.  The subject is empty on routes JWTAuth does not guard.
func Identity(c echo.Context) (subjectID string, isAdmin bool) {
	subjectID, _ = c.Get(ctxUserID).(string)
	role, _ := c.Get(ctxRole).(string)
	return subjectID, role == utils.RoleAdmin
}

// userID is the rate limiter's view of the caller: the subject when
// authenticated, "anon" otherwise.
func userID(c echo.Context) string {
	if s, _ := Identity(c); s != "" {
		return s
	}
	return "anon"
}
