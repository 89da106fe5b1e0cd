package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/utils"
)

const secret = "test-secret"

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, 5)
	if err != nil {
		t.Fatal(err)
	}
	return tok.Token
}

func whoami(c echo.Context) error {
	sub, admin := Identity(c)
	return c.JSON(http.StatusOK, echo.Map{"sub": sub, "admin": admin})
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		url    string
		status int
		body   string
	}{
		{"no token", func(*http.Request) {}, "/me", http.StatusUnauthorized, ""},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/me", http.StatusUnauthorized, ""},
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token(t, "alice", utils.RoleCustomer)) }, "/me", http.StatusOK, `{"admin":false,"sub":"alice"}`},
		{"query", func(*http.Request) {}, "/me?access_token=" + token(t, "root", utils.RoleAdmin), http.StatusOK, `{"admin":true,"sub":"root"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			tt.setup(req)
			rec := serve(e, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.body != "" {
				if got := rec.Body.String(); got != tt.body+"\n" {
					t.Errorf("body = %s", got)
				}
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTAuth(secret), RequireRole(utils.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice", utils.RoleCustomer))
	if rec := serve(e, req); rec.Code != http.StatusForbidden {
		t.Errorf("customer got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "root", utils.RoleAdmin))
	if rec := serve(e, req); rec.Code != http.StatusOK {
		t.Errorf("admin got %d", rec.Code)
	}
}

func TestNewTokenBucket_PassThroughWithoutRedis(t *testing.T) {
	e := echo.New()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1}
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil))))
	for i := 0; i < 5; i++ {
		if rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/events/e1/reservations", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/events/:id/reservations")
	c.Set(ctxUserID, "alice")

	tests := map[string]string{
		"ip":         "rl:ip:10.0.0.1",
		"user":       "rl:user:alice",
		"ip_user":    "rl:ip:10.0.0.1:user:alice",
		"":           "rl:ip:10.0.0.1:user:alice:route:POST /v1/events/:id/reservations",
		"user_route": "rl:user:alice:route:POST /v1/events/:id/reservations",
	}
	for strategy, want := range tests {
		got := buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c)
		if got != want {
			t.Errorf("%q: got %q, want %q", strategy, got, want)
		}
	}
}
