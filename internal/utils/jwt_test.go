package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("secret", "alice", RoleCustomer, 15)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	if d := time.Until(tok.Exp); d < 14*time.Minute || d > 16*time.Minute {
		t.Errorf("exp in %v", d)
	}
	claims, err := ParseAccessToken("secret", tok.Token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != RoleCustomer {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseAccessToken_Rejects(t *testing.T) {
	good, _ := NewAccessToken("secret", "alice", RoleAdmin, 5)
	expired, _ := NewAccessToken("secret", "alice", RoleAdmin, -5)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": RoleAdmin, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice", "role": RoleAdmin,
	}).SignedString([]byte("secret"))
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name, secret, raw string
	}{
		{"wrong secret", "other", good.Token},
		{"expired", "secret", expired.Token},
		{"missing subject", "secret", noSub},
		{"missing expiry", "secret", noExp},
		{"alg none", "secret", unsigned},
		{"garbage", "secret", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAccessToken(tt.secret, tt.raw); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}
