package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenMissing reports a connect attempt without a bearer credential.
var ErrTokenMissing = errors.New("bearer token missing")

// ErrTokenExpired reports a credential that is already expired locally.
// Retrying the dial cannot help; the caller should obtain a fresh token.
var ErrTokenExpired = errors.New("bearer token expired")

// TokenSource supplies the bearer credential used to authenticate the
// transport. The engine only reads it; ownership stays with the auth
// collaborator.
type TokenSource interface {
	Token() (string, error)
}

// Static wraps a fixed token string as a TokenSource.
type Static string

func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrTokenMissing
	}
	return string(s), nil
}

// TokenFunc adapts a func to a TokenSource.
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) { return f() }

// CheckNotExpired inspects a JWT without verifying its signature (the client
// holds no key) and rejects credentials that are already expired. Tokens
// that are not JWTs pass; the handshake is the authority either way.
func CheckNotExpired(tokenString string, now time.Time) error {
	if tokenString == "" {
		return ErrTokenMissing
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(now) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
