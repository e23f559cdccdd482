package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

// fakeJWT builds an unsigned JWT-shaped token with the given claims.
func fakeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return fmt.Sprintf("%s.%s.sig", header, payload)
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"empty", "", true},
		{"garbage", "not-a-token", true},
		{"no exp claim", fakeJWT(t, map[string]any{"sub": "u1"}), true},
		{"expired", fakeJWT(t, map[string]any{"exp": now.Add(-time.Hour).Unix()}), true},
		{"valid", fakeJWT(t, map[string]any{"exp": now.Add(time.Hour).Unix()}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenExpired(tt.token, now); got != tt.want {
				t.Errorf("TokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
