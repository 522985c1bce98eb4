// Package auth authenticates API callers.
//
// Authentication model:
// - Customer endpoints: Authorization: Bearer <JWT>, HS256, subject = user id
// - Admin endpoints: X-Admin-Secret header compared in constant time
// - The caller's bank account is always resolved from the token subject
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// Errors
var (
	ErrMissingToken = errors.New("bearer token required")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoSubject    = errors.New("token has no subject")
)

// Claims carried by customer tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	clock  clockwork.Clock
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return NewVerifierWithClock(secret, clockwork.NewRealClock())
}

// NewVerifierWithClock creates a verifier that checks expiry against clock.
func NewVerifierWithClock(secret string, clock clockwork.Clock) *Verifier {
	return &Verifier{secret: []byte(secret), clock: clock}
}

// Verify parses a raw token and returns its claims.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// Issue signs a token for subject valid for ttl. Used by tests and local
// tooling; production tokens come from the identity provider.
func (v *Verifier) Issue(subject, email string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}
