package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource exposes the current bearer credential. An empty token means the
// user is not authenticated and connection attempts must be suppressed.
type TokenSource interface {
	Token() string
}

// Static is a TokenSource backed by a fixed token string.
type Static string

func (s Static) Token() string { return string(s) }

// Store is a TokenSource whose token can be swapped at runtime, e.g. after a
// login or token refresh.
type Store struct {
	mu    sync.RWMutex
	token string
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Expired reports whether the token carries an exp claim in the past. The
// signature is not verified; this is a local pre-check to avoid dialing with
// a credential the server will reject anyway. Tokens without an exp claim or
// that fail to parse are not treated as expired here.
func Expired(tokenString string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}
