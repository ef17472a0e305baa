package metrics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated marks a missing or unverifiable bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator verifies HS256 bearer tokens on the metrics API. The token
// subject identifies the caller; ownership checks compare it against the
// listing owner afterwards.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator for the given shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// CallerID extracts and verifies the caller identity from an Authorization
// header value. Returns ErrUnauthenticated for every failure mode so the
// response never leaks why verification failed.
func (a *Authenticator) CallerID(authorization string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", ErrUnauthenticated
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	if raw == "" {
		return "", ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}
