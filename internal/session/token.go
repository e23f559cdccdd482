package session

import (
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SaveToken persists the backend bearer token for a session.
func SaveToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(token+"\n"), 0600)
}

// LoadToken returns the stored bearer token, or "" if none exists.
func LoadToken(name string) string {
	data, err := os.ReadFile(TokenPath(name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ClearToken removes the stored token. Missing file is not an error.
func ClearToken(name string) error {
	err := os.Remove(TokenPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// TokenExpired reports whether the token's exp claim is in the past. The
// signature is NOT verified; the daemon only needs a local hint to decide
// auth is required without a network round trip. Tokens without an exp
// claim, or that fail to parse, are treated as expired.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return exp.Before(now)
}
